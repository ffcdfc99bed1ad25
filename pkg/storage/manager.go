package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	errs "crxharvest/pkg/errors"
	"crxharvest/pkg/models"

	"github.com/shirou/gopsutil/v3/disk"
)

// ArchiveExt is the extension of stored package files
const ArchiveExt = ".crx"

// Manager stores one package archive per extension id
type Manager struct {
	dir   string
	known map[string]bool
	mu    sync.RWMutex
}

// NewManager creates the archive directory if needed and indexes existing archives
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errs.Storage("create archive directory", err)
	}

	m := &Manager{
		dir:   dir,
		known: make(map[string]bool),
	}

	if err := m.scanExistingFiles(); err != nil {
		return nil, errs.Storage("scan archive directory", err)
	}

	return m, nil
}

// Dir returns the archive directory
func (m *Manager) Dir() string {
	return m.dir
}

// scanExistingFiles indexes complete archives. Leftover .tmp files are ignored.
func (m *Manager) scanExistingFiles() error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return fmt.Errorf("failed to read directory: %w", err)
	}

	for _, entry := range entries {
		if id, ok := archiveID(entry); ok {
			m.known[id] = true
		}
	}
	return nil
}

func archiveID(entry os.DirEntry) (string, bool) {
	name := entry.Name()
	if entry.IsDir() || filepath.Ext(name) != ArchiveExt {
		return "", false
	}
	id := strings.TrimSuffix(name, ArchiveExt)
	return id, id != ""
}

// Path returns the final archive location for id
func (m *Manager) Path(id string) string {
	return filepath.Join(m.dir, id+ArchiveExt)
}

// Exists reports whether a complete archive for id is present
func (m *Manager) Exists(id string) bool {
	if models.CheckID(id) != nil {
		return false
	}
	m.mu.RLock()
	cached := m.known[id]
	m.mu.RUnlock()
	if cached {
		return true
	}

	if _, err := os.Stat(m.Path(id)); err == nil {
		m.mu.Lock()
		m.known[id] = true
		m.mu.Unlock()
		return true
	}
	return false
}

// Save writes the archive for id through <id>.crx.tmp, fsync and rename,
// so a present final name is always a complete file. It returns the bytes written.
func (m *Manager) Save(id string, r io.Reader) (int64, error) {
	if err := models.CheckID(id); err != nil {
		return 0, errs.Storage("save archive", err).WithID(id)
	}
	filename := m.Path(id)
	tempFile := filename + ".tmp"

	out, err := os.Create(tempFile)
	if err != nil {
		return 0, errs.Storage("create temporary archive", err).WithID(id)
	}

	n, err := io.Copy(out, r)
	if err != nil {
		out.Close()
		os.Remove(tempFile)
		return 0, errs.Storage("write archive", err).WithID(id)
	}

	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tempFile)
		return 0, errs.Storage("sync archive", err).WithID(id)
	}

	if err := out.Close(); err != nil {
		os.Remove(tempFile)
		return 0, errs.Storage("close archive", err).WithID(id)
	}

	if err := os.Rename(tempFile, filename); err != nil {
		os.Remove(tempFile)
		return 0, errs.Storage("rename archive", err).WithID(id)
	}

	m.mu.Lock()
	m.known[id] = true
	m.mu.Unlock()

	return n, nil
}

// List returns the ids of all complete archives, sorted
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, errs.Storage("list archives", err)
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if id, ok := archiveID(entry); ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// FreeBytes reports the free space of the volume holding the archive directory
func (m *Manager) FreeBytes() (uint64, error) {
	usage, err := disk.Usage(m.dir)
	if err != nil {
		return 0, errs.Storage("query free space", err)
	}
	return usage.Free, nil
}

// CheckFreeSpace fails when fewer than min bytes are free. min == 0 disables the check.
func (m *Manager) CheckFreeSpace(min uint64) error {
	if min == 0 {
		return nil
	}
	free, err := m.FreeBytes()
	if err != nil {
		return err
	}
	if free < min {
		return errs.Storage("check free space",
			fmt.Errorf("%d bytes free on %s, need at least %d", free, m.dir, min))
	}
	return nil
}
