// Package history keeps a local log of tool invocations in a bbolt file.
// Records are keyed by timestamp plus ULID so a reverse scan yields the most
// recent activity first. Everything here is best-effort from the caller's
// point of view: a failed append must never fail the tool call it records.
package history

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

const (
	// recordsBucket holds invocation records.
	recordsBucket = "invocation_records"

	// metaBucket holds the schema version stamp.
	metaBucket = "meta"

	schemaVersionKey = "schema_version"
	schemaVersion    = "1"

	// DefaultListLimit bounds a List call with no explicit limit.
	DefaultListLimit = 50

	// maxStoredError truncates giant error strings before storage.
	maxStoredError = 4 * 1024
)

// Record is one tool invocation as it happened.
type Record struct {
	ID       string          `json:"id"`
	Tool     string          `json:"tool"`
	Args     json.RawMessage `json:"args,omitempty"`
	Mode     string          `json:"mode"`
	OK       bool            `json:"ok"`
	Error    string          `json:"error,omitempty"`
	Duration time.Duration   `json:"duration_ns"`
	At       time.Time       `json:"at"`
}

// Store is the invocation log backed by one bbolt file.
type Store struct {
	db     *bbolt.DB
	logger *zap.Logger
}

// Open creates or opens history.db inside dir.
func Open(dir string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	path := filepath.Join(dir, "history.db")
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open history database %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(recordsBucket)); err != nil {
			return err
		}
		meta, err := tx.CreateBucketIfNotExists([]byte(metaBucket))
		if err != nil {
			return err
		}
		return meta.Put([]byte(schemaVersionKey), []byte(schemaVersion))
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize history buckets: %w", err)
	}

	return &Store{db: db, logger: logger.With(zap.String("component", "history"))}, nil
}

// Close releases the database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// recordKey builds the composite key: a 20-digit nanosecond timestamp plus
// the ULID, so lexicographic order is chronological order.
func recordKey(at time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%020d_%s", at.UnixNano(), id))
}

// Append stores one record, minting its ID and timestamp when absent.
func (s *Store) Append(record *Record) error {
	if record == nil {
		return fmt.Errorf("history record cannot be nil")
	}
	if record.ID == "" {
		record.ID = ulid.Make().String()
	}
	if record.At.IsZero() {
		record.At = time.Now().UTC()
	}
	if len(record.Error) > maxStoredError {
		record.Error = record.Error[:maxStoredError] + "...[truncated]"
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(recordsBucket))
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("failed to marshal history record: %w", err)
		}
		if err := bucket.Put(recordKey(record.At, record.ID), data); err != nil {
			return fmt.Errorf("failed to store history record: %w", err)
		}
		return nil
	})
}

// List returns up to limit records, most recent first. A non-positive limit
// uses DefaultListLimit.
func (s *Store) List(limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	records := make([]*Record, 0, limit)
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(recordsBucket)).Cursor()
		for k, v := c.Last(); k != nil && len(records) < limit; k, v = c.Prev() {
			var record Record
			if err := json.Unmarshal(v, &record); err != nil {
				s.logger.Warn("Skipping unreadable history record", zap.ByteString("key", k), zap.Error(err))
				continue
			}
			records = append(records, &record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Prune deletes records older than cutoff and reports how many went away.
func (s *Store) Prune(cutoff time.Time) (int, error) {
	removed := 0
	max := recordKey(cutoff, "")
	err := s.db.Update(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(recordsBucket)).Cursor()
		for k, _ := c.First(); k != nil && string(k) < string(max); k, _ = c.First() {
			if err := c.Delete(); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}
