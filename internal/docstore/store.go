// Package docstore adapts a transactionless key-value document store into a
// repository.ProjectStore. Revision guards cannot be pushed into the backend
// the way the SQL adapters do, so writes run under a short-lived exclusive
// lease keyed to the record.
package docstore

import (
	"context"
	"errors"
)

var (
	ErrKeyNotFound = errors.New("docstore: key not found")
	ErrKeyExists   = errors.New("docstore: key already exists")
)

// Store is the minimal key-value surface the lease protocol needs. Insert
// must be atomic: exactly one concurrent caller wins for an absent key.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	// Insert writes the key only if it is absent, returning ErrKeyExists
	// otherwise.
	Insert(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}
