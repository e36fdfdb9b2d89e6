package job

import (
	"context"
	"time"

	"github.com/armature-studio/armature/internal/domain/projectdoc"
)

// Repository provides durable job persistence with atomic claim semantics.
type Repository interface {
	Create(ctx context.Context, j *Job) error
	Get(ctx context.Context, jobID string) (*Job, error)
	ListByProject(ctx context.Context, projectID string) ([]Job, error)
	ClaimNext(ctx context.Context, workerID, claimToken string, now time.Time) (*Job, error)
	MarkCompleted(ctx context.Context, jobID, claimToken string, result []byte, now time.Time) (bool, error)
	MarkFailed(ctx context.Context, jobID, claimToken, errMsg string, now time.Time) (bool, error)
}

// ProjectRepository guarantees the owning project shell exists on submit.
type ProjectRepository interface {
	SaveIfRevision(ctx context.Context, rec *projectdoc.Record, expectedRevision *string) (bool, error)
}
