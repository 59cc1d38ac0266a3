package updatequeue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketQueue = []byte("update_queue")

// Store persists a Queue's contents across restarts in a single BoltDB
// bucket, serialized as one JSON document per save.
type Store struct {
	db *bolt.DB
}

// OpenStore opens (creating if absent) a BoltDB file at path for queue
// persistence.
func OpenStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create update queue db dir: %w", err)
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open update queue db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketQueue)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create update queue bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying BoltDB handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save overwrites the persisted queue contents with the given items.
func (s *Store) Save(items []PendingUpdate) error {
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshal update queue: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketQueue).Put([]byte("pending"), data)
	})
}

// Load returns the persisted queue contents, or nil if nothing was saved yet.
func (s *Store) Load() ([]PendingUpdate, error) {
	var items []PendingUpdate
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketQueue).Get([]byte("pending"))
		if v == nil {
			return nil
		}
		return json.Unmarshal(v, &items)
	})
	if err != nil {
		return nil, fmt.Errorf("load update queue: %w", err)
	}
	return items, nil
}

// NewFromStore builds a Queue pre-populated from a Store's persisted
// contents, with every subsequent mutation persisted back to it.
func NewFromStore(store *Store) (*Queue, error) {
	items, err := store.Load()
	if err != nil {
		return nil, err
	}
	q := New()
	for _, p := range items {
		q.items[p.ServiceID] = p
	}
	q.store = store
	return q, nil
}
