// Package recordlog stores harvested catalog records as append-only JSON lines
// and answers exact-id membership queries over them.
package recordlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	errs "crxharvest/pkg/errors"
	"crxharvest/pkg/logger"
	"crxharvest/pkg/models"
)

const maxLineSize = 4 * 1024 * 1024

// DedupIndex is the set of ids already present in the record log
type DedupIndex struct {
	ids map[string]struct{}
	mu  sync.RWMutex
}

// NewDedupIndex creates an empty index
func NewDedupIndex() *DedupIndex {
	return &DedupIndex{ids: make(map[string]struct{})}
}

// Contains reports whether id has been recorded
func (d *DedupIndex) Contains(id string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.ids[id]
	return ok
}

// Add marks id as recorded. It returns false if id was already present.
func (d *DedupIndex) Add(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.ids[id]; ok {
		return false
	}
	d.ids[id] = struct{}{}
	return true
}

// Len returns the number of ids in the index
func (d *DedupIndex) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.ids)
}

// Log is an open record log. Appends are fsynced before Append returns.
type Log struct {
	path   string
	file   *os.File
	index  *DedupIndex
	logger logger.Logger
	mu     sync.Mutex
}

// Open opens (creating if needed) the record log at path and builds the dedup
// index from its existing lines.
func Open(path string, log logger.Logger) (*Log, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errs.Storage("create record log directory", err)
	}

	index := NewDedupIndex()
	err := scan(path, log, func(rec models.CatalogRecord) {
		index.Add(rec.ID)
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, errs.Storage("read record log", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errs.Storage("open record log", err)
	}

	log.DebugWithFields("Record log opened", map[string]interface{}{
		"path":  path,
		"known": index.Len(),
	})

	return &Log{path: path, file: file, index: index, logger: log}, nil
}

// Index returns the dedup index backing the log
func (l *Log) Index() *DedupIndex {
	return l.index
}

// Contains reports whether a record with id is already in the log
func (l *Log) Contains(id string) bool {
	return l.index.Contains(id)
}

// Append writes rec as one JSON line unless its id is already present.
// It reports whether the record was written.
func (l *Log) Append(rec models.CatalogRecord) (bool, error) {
	if rec.ID == "" {
		return false, errs.Decode("append record", fmt.Errorf("record has empty id"))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.index.Contains(rec.ID) {
		return false, nil
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return false, errs.Storage("encode record", err).WithID(rec.ID)
	}
	line = append(line, '\n')

	if _, err := l.file.Write(line); err != nil {
		return false, errs.Storage("append record", err).WithID(rec.ID)
	}
	if err := l.file.Sync(); err != nil {
		return false, errs.Storage("sync record log", err).WithID(rec.ID)
	}

	l.index.Add(rec.ID)
	return true, nil
}

// Close closes the underlying file
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// ReadAll returns every well-formed record in the log at path, in file order.
// A missing log is an error; malformed lines are skipped with a warning.
func ReadAll(path string, log logger.Logger) ([]models.CatalogRecord, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	var records []models.CatalogRecord
	err := scan(path, log, func(rec models.CatalogRecord) {
		records = append(records, rec)
	})
	if err != nil {
		return nil, errs.Storage("read record log", err)
	}
	return records, nil
}

// scan decodes each line of the log and hands well-formed records to fn
func scan(path string, log logger.Logger, fn func(models.CatalogRecord)) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec models.CatalogRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			log.WithError(err).WarnWithFields("Skipping malformed record log line", map[string]interface{}{
				"path": path,
				"line": lineNo,
			})
			continue
		}
		if rec.ID == "" {
			log.WarnWithFields("Skipping record log line without id", map[string]interface{}{
				"path": path,
				"line": lineNo,
			})
			continue
		}
		fn(rec)
	}

	return scanner.Err()
}
