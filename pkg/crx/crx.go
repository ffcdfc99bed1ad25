// Package crx opens browser-extension package files and extracts entries from
// the zip archive they carry.
//
// A package is either a CRX2 or CRX3 container ("Cr24" magic, version, signed
// header) followed by a zip archive, or a bare zip archive.
package crx

import (
	"archive/zip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	errs "crxharvest/pkg/errors"
)

// Magic is the leading four bytes of a CRX container
const Magic = "Cr24"

const zipMagic = "PK\x03\x04"

// Package is an opened extension package
type Package struct {
	file    *os.File
	zip     *zip.Reader
	version int
	offset  int64
}

// Open parses the container header at path and opens the embedded zip archive
func Open(filename string) (*Package, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, errs.Archive("open package", "", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errs.Archive("stat package", "", err)
	}

	version, offset, err := ZipOffset(f, info.Size())
	if err != nil {
		f.Close()
		return nil, err
	}

	zr, err := zip.NewReader(io.NewSectionReader(f, offset, info.Size()-offset), info.Size()-offset)
	if errors.Is(err, zip.ErrInsecurePath) && zr != nil {
		// entry names are checked again by SafeJoin on extraction
		err = nil
	}
	if err != nil {
		f.Close()
		return nil, errs.Archive("open zip archive", "", err)
	}

	return &Package{file: f, zip: zr, version: version, offset: offset}, nil
}

// ZipOffset reads the container header and returns the format version and the
// offset where the zip archive begins. A bare zip archive is version 0.
func ZipOffset(r io.ReaderAt, size int64) (int, int64, error) {
	var head [16]byte
	n, err := r.ReadAt(head[:], 0)
	if n < 4 {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return 0, 0, errs.Archive("read package header", "", err)
	}

	switch string(head[:4]) {
	case zipMagic:
		return 0, 0, nil
	case Magic:
	default:
		return 0, 0, errs.Archive("read package header", "", fmt.Errorf("unrecognized magic %q", head[:4]))
	}

	if n < 12 {
		return 0, 0, errs.Archive("read package header", "", io.ErrUnexpectedEOF)
	}

	version := binary.LittleEndian.Uint32(head[4:8])
	var offset int64
	switch version {
	case 2:
		if n < 16 {
			return 0, 0, errs.Archive("read package header", "", io.ErrUnexpectedEOF)
		}
		pubKeyLen := int64(binary.LittleEndian.Uint32(head[8:12]))
		sigLen := int64(binary.LittleEndian.Uint32(head[12:16]))
		offset = 16 + pubKeyLen + sigLen
	case 3:
		headerLen := int64(binary.LittleEndian.Uint32(head[8:12]))
		offset = 12 + headerLen
	default:
		return 0, 0, errs.Archive("read package header", "", fmt.Errorf("unsupported version %d", version))
	}

	if offset >= size {
		return 0, 0, errs.Archive("read package header", "",
			fmt.Errorf("header length %d exceeds package size %d", offset, size))
	}
	return int(version), offset, nil
}

// Version returns 2 or 3 for CRX containers and 0 for a bare zip
func (p *Package) Version() int {
	return p.version
}

// Close closes the underlying file
func (p *Package) Close() error {
	return p.file.Close()
}

func (p *Package) lookup(name string) (*zip.File, bool) {
	want := path.Clean(name)
	for _, f := range p.zip.File {
		if path.Clean(f.Name) == want && !f.FileInfo().IsDir() {
			return f, true
		}
	}
	return nil, false
}

// ExtractFile writes the single entry name under destDir, keeping its relative path
func (p *Package) ExtractFile(name, destDir string) error {
	f, ok := p.lookup(name)
	if !ok {
		return errs.Archive("extract entry", "", fmt.Errorf("%s: %w", name, os.ErrNotExist))
	}
	return extract(f, destDir)
}

// ExtractAll writes every entry under destDir, overwriting existing files.
// It returns the number of files written. Symlink entries are not materialized.
func (p *Package) ExtractAll(destDir string) (int, error) {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return 0, errs.Storage("create extraction directory", err)
	}

	written := 0
	for _, f := range p.zip.File {
		mode := f.Mode()
		if mode&os.ModeSymlink != 0 {
			continue
		}
		if f.FileInfo().IsDir() {
			target, err := SafeJoin(destDir, f.Name)
			if err != nil {
				return written, err
			}
			if err := os.MkdirAll(target, 0755); err != nil {
				return written, errs.Storage("create directory", err)
			}
			continue
		}
		if err := extract(f, destDir); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

func extract(f *zip.File, destDir string) error {
	target, err := SafeJoin(destDir, f.Name)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return errs.Storage("create directory", err)
	}

	rc, err := f.Open()
	if err != nil {
		return errs.Archive("open entry", "", fmt.Errorf("%s: %w", f.Name, err))
	}
	defer rc.Close()

	// the final name only ever holds a complete entry
	tempPath := target + ".tmp"
	out, err := os.OpenFile(tempPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return errs.Storage("create file", err)
	}

	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		os.Remove(tempPath)
		return errs.Archive("extract entry", "", fmt.Errorf("%s: %w", f.Name, err))
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tempPath)
		return errs.Storage("sync file", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tempPath)
		return errs.Storage("close file", err)
	}
	if err := os.Rename(tempPath, target); err != nil {
		os.Remove(tempPath)
		return errs.Storage("rename file", err)
	}
	return nil
}

// SafeJoin resolves an archive entry name under destDir and rejects names that
// would escape it (absolute paths, ".." segments, volume names).
func SafeJoin(destDir, name string) (string, error) {
	clean := filepath.FromSlash(path.Clean("/" + strings.ReplaceAll(name, "\\", "/")))
	if name == "" || strings.Contains(name, "\x00") || filepath.VolumeName(name) != "" ||
		strings.HasPrefix(name, "/") || hasParentSegment(name) {
		return "", errs.Archive("extract entry", "", fmt.Errorf("illegal entry path %q", name))
	}

	target := filepath.Join(destDir, clean)
	rel, err := filepath.Rel(destDir, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errs.Archive("extract entry", "", fmt.Errorf("illegal entry path %q", name))
	}
	return target, nil
}

func hasParentSegment(name string) bool {
	for _, seg := range strings.FieldsFunc(name, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return true
		}
	}
	return false
}
