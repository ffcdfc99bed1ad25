package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	errs "crxharvest/pkg/errors"
	"crxharvest/pkg/logger"
)

// Checkpoint is the persisted continuation cursor of the catalog walk
type Checkpoint struct {
	Token string `json:"token"`
}

// Store persists the singleton checkpoint file
type Store struct {
	path   string
	logger logger.Logger
}

// NewStore creates a checkpoint store backed by the file at path
func NewStore(path string, log logger.Logger) *Store {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Store{path: path, logger: log}
}

// Path returns the checkpoint file location
func (s *Store) Path() string {
	return s.path
}

// Load returns the saved token. An absent file yields ("", false, nil).
func (s *Store) Load() (string, bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, errs.Storage("read checkpoint", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return "", false, errs.Decode("decode checkpoint", fmt.Errorf("%s: %w", s.path, err))
	}
	if cp.Token == "" {
		return "", false, nil
	}

	s.logger.DebugWithFields("Checkpoint loaded", map[string]interface{}{
		"path":  s.path,
		"token": cp.Token,
	})
	return cp.Token, true, nil
}

// Save writes the token atomically: temp file, fsync, rename.
func (s *Store) Save(token string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return errs.Storage("create checkpoint directory", err)
	}

	tempPath := s.path + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return errs.Storage("create temporary checkpoint file", err)
	}

	if err := json.NewEncoder(file).Encode(Checkpoint{Token: token}); err != nil {
		file.Close()
		os.Remove(tempPath)
		return errs.Storage("encode checkpoint", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return errs.Storage("sync checkpoint file", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return errs.Storage("close checkpoint file", err)
	}

	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return errs.Storage("replace checkpoint file", err)
	}

	s.logger.DebugWithFields("Checkpoint saved", map[string]interface{}{
		"token": token,
	})
	return nil
}

// Clear removes the checkpoint so the next walk starts from the beginning
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return errs.Storage("delete checkpoint", err)
	}
	s.logger.Info("Checkpoint cleared")
	return nil
}

// Exists checks if a checkpoint file exists
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}
