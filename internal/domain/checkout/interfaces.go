package checkout

import (
	"context"

	"github.com/armature-studio/armature/internal/domain/projectdoc"
)

// LockRepository provides persistence for checkout locks.
type LockRepository interface {
	Get(ctx context.Context, projectID string) (*Lock, error)
	Put(ctx context.Context, lock *Lock) error
	Delete(ctx context.Context, projectID string) error
	DeleteByOwner(ctx context.Context, ownerAgentID, ownerSessionID string) ([]string, error)
}

// ProjectRepository guarantees a project shell exists before a lock is
// recorded against it.
type ProjectRepository interface {
	SaveIfRevision(ctx context.Context, rec *projectdoc.Record, expectedRevision *string) (bool, error)
}
