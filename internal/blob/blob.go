// Package blob stores large binary artifacts produced by jobs, such as
// exported scene files, outside the relational stores.
package blob

import (
	"context"
	"errors"
	"io"
)

var ErrNotFound = errors.New("blob: not found")

// Store reads and writes artifacts by key. Keys are slash-separated paths
// scoped by the caller, typically "tenant/project/artifact".
type Store interface {
	Put(ctx context.Context, key string, r io.Reader) error
	// Get returns a reader for the artifact. The caller closes it.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Close() error
}
