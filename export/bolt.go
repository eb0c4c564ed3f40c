package export

import (
	"fmt"

	bolt "go.etcd.io/bbolt"
)

var documentsBucket = []byte("documents")

// BoltSink writes records into the "documents" bucket of a bbolt database.
type BoltSink struct {
	db *bolt.DB
}

// OpenBolt creates or opens a bbolt database at the given path.
func OpenBolt(path string) (*BoltSink, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening bolt db: %w", err)
	}
	return &BoltSink{db: db}, nil
}

func (s *BoltSink) Put(id string, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(documentsBucket)
		if err != nil {
			return fmt.Errorf("creating bucket: %w", err)
		}
		return b.Put([]byte(id), data)
	})
}

// Snapshot returns a copy of every id and value in the bucket.
func (s *BoltSink) Snapshot() (map[string][]byte, error) {
	result := make(map[string][]byte)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(documentsBucket)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			val := make([]byte, len(v))
			copy(val, v)
			result[string(k)] = val
			return nil
		})
	})
	return result, err
}

func (s *BoltSink) Close() error {
	return s.db.Close()
}
