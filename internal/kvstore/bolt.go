package kvstore

import (
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// BoltStore is a durable Store backed by a single bbolt file, one bucket
// per collection, created on first use — adapted from warren's
// bucket-per-collection pattern but with caller-named collections instead
// of a fixed bucket list.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) the bbolt file at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bolt store %s: %w", path, err)
	}
	return &BoltStore{db: db}, nil
}

func (b *BoltStore) Put(collection, key string, value []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(collection))
		if err != nil {
			return fmt.Errorf("create bucket %s: %w", collection, err)
		}
		return bucket.Put([]byte(key), value)
	})
}

func (b *BoltStore) Get(collection, key string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(collection))
		if bucket == nil {
			return ErrNotFound
		}
		v := bucket.Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		out = make([]byte, len(v))
		copy(out, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *BoltStore) Delete(collection, key string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(collection))
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(key))
	})
}

func (b *BoltStore) GetAll(collection string) (map[string][]byte, error) {
	out := make(map[string][]byte)
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(collection))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			cp := make([]byte, len(v))
			copy(cp, v)
			out[string(k)] = cp
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *BoltStore) Close() error {
	return b.db.Close()
}
