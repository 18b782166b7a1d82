package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// Store persists the config document for one state directory. Writes are
// whole-document: marshal to a unique temp file in the same directory, then
// rename over the real path so readers never observe a partial document.
type Store struct {
	dir    string
	logger *zap.Logger

	// LockTimeout bounds each save's wait for the cross-process lock.
	LockTimeout time.Duration
}

// NewStore creates a store over dir. The directory must exist (Dir()
// creates the default one).
func NewStore(dir string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		dir:         dir,
		logger:      logger.With(zap.String("component", "config")),
		LockTimeout: DefaultLockTimeout,
	}
}

// Path returns the config file location.
func (s *Store) Path() string {
	return filepath.Join(s.dir, ConfigFileName)
}

// Dir returns the state directory this store operates on.
func (s *Store) Dir() string {
	return s.dir
}

// Load reads the document from disk. A missing or unparseable file yields a
// fresh document rather than an error: corrupt state never blocks startup.
// Older documents are migrated in memory and persist on the next save.
func (s *Store) Load() (*Document, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return NewDocument(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	doc := &Document{}
	if err := json.Unmarshal(data, doc); err != nil {
		s.logger.Warn("config file is corrupt, starting from a fresh document",
			zap.String("path", s.Path()),
			zap.Error(err))
		return NewDocument(), nil
	}

	if doc.Migrate() {
		s.logger.Debug("migrated config document",
			zap.Int("version", doc.Version))
	}
	return doc, nil
}

// Save writes doc atomically under the cross-process lock. The lock is
// released on every path, including write failures.
func (s *Store) Save(doc *Document) error {
	if err := s.acquireLock(); err != nil {
		return err
	}
	defer s.releaseLock()

	return s.writeDocument(doc)
}

// Update performs a locked read-modify-write: reload the latest document,
// apply fn, persist. Concurrent writers from other processes serialize on
// the lockfile, so modifications never clobber each other.
func (s *Store) Update(fn func(*Document) error) (*Document, error) {
	if err := s.acquireLock(); err != nil {
		return nil, err
	}
	defer s.releaseLock()

	doc, err := s.Load()
	if err != nil {
		return nil, err
	}
	if err := fn(doc); err != nil {
		return nil, err
	}
	if err := s.writeDocument(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Store) writeDocument(doc *Document) error {
	doc.Version = CurrentVersion

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ConfigFileName+".tmp-")
	if err != nil {
		return fmt.Errorf("failed to create temp config file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp config file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temp config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp config file: %w", err)
	}

	if err := os.Rename(tmpPath, s.Path()); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace config file: %w", err)
	}
	return nil
}
