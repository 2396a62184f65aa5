package blobstore

import (
	"context"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations should return an error that satisfies `errors.Is(err, ErrNotFound)`.
// The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// Store is a flat namespace of immutable objects.
type Store interface {
	// Get returns the full contents of the named object.
	Get(ctx context.Context, name string) ([]byte, error)
	// Put replaces the named object atomically.
	Put(ctx context.Context, name string, data []byte) error
	// Delete removes the named object. Deleting a missing object is not an error.
	Delete(ctx context.Context, name string) error
	// List returns the sorted names that start with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}
