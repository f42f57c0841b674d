// Package index defines the ordered-map contract every one of the three
// index implementations (bst, skiplist, btree) satisfies, so the engine can
// select between them without caring which one it got.
package index

// Index is the shared ordered key-value contract. Keys are assumed totally
// ordered (fixed-width integer keys per spec's non-goals); values are
// opaque to the index and persisted through a value.Store.
type Index interface {
	// Set inserts key with value, or overwrites value if key is already
	// present.
	Set(key int64, value any) error

	// Get returns the value associated with key. ok is false if key is
	// absent.
	Get(key int64) (value any, ok bool, err error)

	// Remove deletes key if present. ok reports whether key was found.
	Remove(key int64) (ok bool, err error)

	// Keys returns every key currently in the index, in ascending order.
	Keys() ([]int64, error)

	// KeyValuePairs returns every (key, value) pair, in ascending key
	// order.
	KeyValuePairs() ([]KeyValuePair, error)

	// Clear removes every entry, resetting the index to empty.
	Clear()
}

// KeyValuePair is one entry returned by Index.KeyValuePairs.
type KeyValuePair struct {
	Key   int64
	Value any
}
