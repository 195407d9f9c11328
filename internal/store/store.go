package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("store: key not found")

// KV is the durable key → blob store.
type KV interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set creates or replaces the value for key.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys returns every key starting with prefix, in byte order.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Close releases the backend.
	Close() error
}
