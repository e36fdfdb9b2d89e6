package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/armature-studio/armature/internal/domain/projectdoc"
	"github.com/armature-studio/armature/internal/repoerr"
	"github.com/google/uuid"
)

// Defaults are applied to submissions that leave maxAttempts or leaseMs zero.
// LeaseMs must exceed expected job duration with margin: an expired lease is
// the queue's only worker-death recovery mechanism.
type Defaults struct {
	MaxAttempts int
	LeaseMs     int64
}

// Queue handles job submission, claiming and settlement.
type Queue struct {
	jobs     Repository
	projects ProjectRepository
	defaults Defaults
	logger   *slog.Logger
	now      func() time.Time
}

// NewQueue creates a new job queue service.
func NewQueue(jobs Repository, projects ProjectRepository, defaults Defaults, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	if defaults.MaxAttempts <= 0 {
		defaults.MaxAttempts = 3
	}
	if defaults.LeaseMs <= 0 {
		defaults.LeaseMs = 60_000
	}
	return &Queue{
		jobs:     jobs,
		projects: projects,
		defaults: defaults,
		logger:   logger,
		now:      time.Now,
	}
}

// Submit enqueues a job for the project, creating a placeholder project shell
// if the project does not exist yet. Zero maxAttempts or leaseMs pull the
// configured defaults.
func (q *Queue) Submit(ctx context.Context, tenantID, projectID, kind string, payload json.RawMessage, maxAttempts int, leaseMs int64) (*Job, error) {
	if projectID == "" || kind == "" {
		return nil, ErrInvalidInput
	}
	if maxAttempts <= 0 {
		maxAttempts = q.defaults.MaxAttempts
	}
	if leaseMs <= 0 {
		leaseMs = q.defaults.LeaseMs
	}

	scope := projectdoc.Scope{TenantID: tenantID, ProjectID: projectID}
	if _, err := q.projects.SaveIfRevision(ctx, projectdoc.Placeholder(scope, q.now()), nil); err != nil {
		return nil, fmt.Errorf("ensuring project %s: %w", scope, err)
	}

	now := q.now()
	j := &Job{
		ID:          uuid.NewString(),
		ProjectID:   projectID,
		Kind:        kind,
		Payload:     payload,
		Status:      StatusQueued,
		MaxAttempts: maxAttempts,
		LeaseMs:     leaseMs,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := q.jobs.Create(ctx, j); err != nil {
		return nil, fmt.Errorf("creating job for %s: %w", projectID, err)
	}

	q.logger.Info("job submitted", "job_id", j.ID, "project_id", projectID, "kind", kind)
	return j, nil
}

// ClaimNext atomically claims one claimable job for the worker: the oldest
// queued job, or a running job whose lease has expired (reclaim). Returns nil
// when nothing is claimable. Each claim carries a fresh token; settlement
// calls must present it.
func (q *Queue) ClaimNext(ctx context.Context, workerID string) (*Job, error) {
	if workerID == "" {
		return nil, ErrInvalidInput
	}

	j, err := q.jobs.ClaimNext(ctx, workerID, uuid.NewString(), q.now())
	if errors.Is(err, repoerr.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claiming job for worker %s: %w", workerID, err)
	}

	q.logger.Info("job claimed", "job_id", j.ID, "worker_id", workerID, "attempt", j.Attempts+1)
	return j, nil
}

// Complete transitions running -> completed and records the result. The claim
// token fences out a late worker whose job was reclaimed: a mismatch is
// ErrStaleClaim, never a double-apply. Completing an already-terminal job is
// a no-op.
func (q *Queue) Complete(ctx context.Context, jobID, claimToken string, result json.RawMessage) (*Job, error) {
	if jobID == "" || claimToken == "" {
		return nil, ErrInvalidInput
	}

	ok, err := q.jobs.MarkCompleted(ctx, jobID, claimToken, result, q.now())
	if err != nil {
		return nil, fmt.Errorf("completing job %s: %w", jobID, err)
	}
	if !ok {
		return q.settleMiss(ctx, jobID, claimToken)
	}
	return q.reload(ctx, jobID)
}

// Fail increments attempts and either re-queues the job for another claim or,
// once attempts are exhausted, parks it in terminal failed with the error
// string kept visible in history. Same token fencing as Complete.
func (q *Queue) Fail(ctx context.Context, jobID, claimToken, errMsg string) (*Job, error) {
	if jobID == "" || claimToken == "" {
		return nil, ErrInvalidInput
	}

	ok, err := q.jobs.MarkFailed(ctx, jobID, claimToken, errMsg, q.now())
	if err != nil {
		return nil, fmt.Errorf("failing job %s: %w", jobID, err)
	}
	if !ok {
		return q.settleMiss(ctx, jobID, claimToken)
	}
	return q.reload(ctx, jobID)
}

// Get returns one job.
func (q *Queue) Get(ctx context.Context, jobID string) (*Job, error) {
	j, err := q.jobs.Get(ctx, jobID)
	if errors.Is(err, repoerr.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading job %s: %w", jobID, err)
	}
	return j, nil
}

// ListProjectJobs returns the project's full job history, newest first.
func (q *Queue) ListProjectJobs(ctx context.Context, projectID string) ([]Job, error) {
	jobs, err := q.jobs.ListByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing jobs for %s: %w", projectID, err)
	}
	return jobs, nil
}

// settleMiss explains why a guarded settlement update changed no row.
func (q *Queue) settleMiss(ctx context.Context, jobID, claimToken string) (*Job, error) {
	j, err := q.jobs.Get(ctx, jobID)
	if errors.Is(err, repoerr.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading job %s: %w", jobID, err)
	}
	if j.Status.Terminal() {
		// Settled already, possibly by this very worker retrying. No-op.
		return j, nil
	}
	if j.ClaimToken != claimToken {
		return nil, ErrStaleClaim
	}
	return nil, fmt.Errorf("settling job %s: guarded update did not apply", jobID)
}

func (q *Queue) reload(ctx context.Context, jobID string) (*Job, error) {
	j, err := q.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("reloading job %s: %w", jobID, err)
	}
	return j, nil
}
