// Package kvstore provides the pluggable key-value store backing the
// control plane's services and tasks collections (spec.md §6 persisted
// state layout): an in-memory reference implementation and a durable
// bbolt-backed one.
package kvstore

import "fmt"

// ErrNotFound is returned by Get when key does not exist in collection.
var ErrNotFound = fmt.Errorf("key not found")

// Store is a small collection-scoped key-value contract. Each collection is
// an independent namespace (here: "services", "tasks").
type Store interface {
	// Put writes value (already serialized) under key in collection,
	// overwriting any existing value (registration/persistence is
	// idempotent by design).
	Put(collection, key string, value []byte) error

	// Get reads the value for key in collection. Returns ErrNotFound if
	// absent.
	Get(collection, key string) ([]byte, error)

	// Delete removes key from collection. Deleting an absent key is not
	// an error.
	Delete(collection, key string) error

	// GetAll returns every value currently stored in collection, keyed by
	// their original key.
	GetAll(collection string) (map[string][]byte, error)

	// Close releases any underlying resources.
	Close() error
}
