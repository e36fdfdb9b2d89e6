// Package repoerr holds the repository sentinel errors in a leaf package so
// domain services can reference them without importing the repository
// interfaces (which import the domain packages).
package repoerr

import "errors"

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a revision-guarded save finds a different
	// stored revision. Callers must refetch and retry from the new revision.
	ErrConflict = errors.New("conflict: revision changed by another writer")

	// ErrLeaseTimeout is returned when the document-store adapter cannot win
	// its CAS lease before the contention timeout. Infrastructure-level and
	// retryable; deliberately distinct from ErrConflict.
	ErrLeaseTimeout = errors.New("timed out waiting for cas lease")

	// ErrInvalidInput is returned when input validation fails
	ErrInvalidInput = errors.New("invalid input")
)
