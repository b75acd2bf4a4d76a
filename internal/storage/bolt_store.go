package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.etcd.io/bbolt"

	"graphbench/internal/runner"
)

const (
	BucketRuns = "runs"

	// MaxHistory is how many runs Save keeps.
	MaxHistory = 100
)

var ErrNotFound = errors.New("history item not found")

// HistoryItem is one recorded run.
type HistoryItem struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Config    runner.Config  `json:"config"`
	Summary   runner.Summary `json:"summary"`
}

// NewHistoryItem stamps a finished run. Ids are UUIDv7 so keys sort by creation time.
func NewHistoryItem(cfg runner.Config, summary runner.Summary) (HistoryItem, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return HistoryItem{}, errors.Wrap(err, "generating history id")
	}
	return HistoryItem{
		ID:        id.String(),
		Timestamp: time.Now(),
		Config:    cfg,
		Summary:   summary,
	}, nil
}

type Store struct {
	db       *bbolt.DB
	filePath string
}

// DefaultPath is ~/.graphbench/history.db.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "locating home directory")
	}
	return filepath.Join(home, ".graphbench", "history.db"), nil
}

func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating %s", filepath.Dir(path))
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "opening history %s", path)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(BucketRuns))
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "initialising history buckets")
	}

	return &Store{
		db:       db,
		filePath: path,
	}, nil
}

func (s *Store) Path() string { return s.filePath }

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Save writes item and drops the oldest runs past MaxHistory.
func (s *Store) Save(item HistoryItem) error {
	if item.ID == "" {
		return errors.New("history item has no id")
	}
	data, err := json.Marshal(item)
	if err != nil {
		return errors.Wrap(err, "encoding history item")
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(BucketRuns))
		if err := b.Put([]byte(item.ID), data); err != nil {
			return err
		}

		var keys [][]byte
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys[:max(0, len(keys)-MaxHistory)] {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// List returns runs newest first. Undecodable entries are skipped.
func (s *Store) List() ([]HistoryItem, error) {
	var items []HistoryItem

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(BucketRuns)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var item HistoryItem
			if err := json.Unmarshal(v, &item); err == nil {
				items = append(items, item)
			}
		}
		return nil
	})

	return items, err
}

// Get looks up a run by id or by unique id prefix.
func (s *Store) Get(id string) (*HistoryItem, error) {
	var item HistoryItem
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(BucketRuns))
		v := b.Get([]byte(id))
		if v == nil {
			var match []byte
			c := b.Cursor()
			prefix := []byte(id)
			for k, val := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, val = c.Next() {
				if match != nil {
					return errors.Errorf("id prefix %q is ambiguous", id)
				}
				match = val
			}
			v = match
		}
		if v == nil {
			return errors.Wrap(ErrNotFound, id)
		}
		return json.Unmarshal(v, &item)
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) Delete(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(BucketRuns))
		if b.Get([]byte(id)) == nil {
			return errors.Wrap(ErrNotFound, id)
		}
		return b.Delete([]byte(id))
	})
}

func hasPrefix(k, prefix []byte) bool {
	return len(k) >= len(prefix) && string(k[:len(prefix)]) == string(prefix)
}
