package repository

import "github.com/armature-studio/armature/internal/repoerr"

// The sentinel values live in the leaf package repoerr so domain services can
// use them without creating an import cycle; these aliases keep the
// repository.Err* names (and error identity) for every other caller.
var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = repoerr.ErrNotFound

	// ErrConflict is returned when a revision-guarded save finds a different
	// stored revision. Callers must refetch and retry from the new revision.
	ErrConflict = repoerr.ErrConflict

	// ErrLeaseTimeout is returned when the document-store adapter cannot win
	// its CAS lease before the contention timeout. Infrastructure-level and
	// retryable; deliberately distinct from ErrConflict.
	ErrLeaseTimeout = repoerr.ErrLeaseTimeout

	// ErrInvalidInput is returned when input validation fails
	ErrInvalidInput = repoerr.ErrInvalidInput
)
