package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/armature-studio/armature/internal/domain/job"
	"github.com/armature-studio/armature/internal/repository"
)

const jobColumns = "id, project_id, kind, payload, status, attempts, max_attempts, lease_ms, worker_id, claim_token, lease_expires_at, result, error, created_at, updated_at"

// JobStore persists durable jobs in PostgreSQL. Claiming uses
// FOR UPDATE SKIP LOCKED so concurrent workers never block on or double-claim
// the same row.
type JobStore struct {
	pool *Pool
}

func NewJobStore(pool *Pool) *JobStore {
	return &JobStore{pool: pool}
}

func (s *JobStore) Create(ctx context.Context, j *job.Job) error {
	query, args, err := psql.
		Insert("jobs").
		Columns("id", "project_id", "kind", "payload", "status", "attempts",
			"max_attempts", "lease_ms", "worker_id", "claim_token",
			"lease_expires_at", "result", "error", "created_at", "updated_at").
		Values(j.ID, j.ProjectID, j.Kind, []byte(j.Payload), string(j.Status),
			j.Attempts, j.MaxAttempts, j.LeaseMs, j.WorkerID, j.ClaimToken,
			nil, []byte(j.Result), j.Error, j.CreatedAt.UTC(), j.UpdatedAt.UTC()).
		ToSql()
	if err != nil {
		return fmt.Errorf("creating job %s: build sql: %w", j.ID, err)
	}

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("creating job %s: %w", j.ID, repository.ErrConflict)
		}
		return fmt.Errorf("creating job %s: %w", j.ID, err)
	}
	return nil
}

func (s *JobStore) Get(ctx context.Context, jobID string) (*job.Job, error) {
	query, args, err := psql.
		Select(jobColumns).
		From("jobs").
		Where(sq.Eq{"id": jobID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("getting job %s: build sql: %w", jobID, err)
	}

	j, err := scanJob(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("getting job %s: %w", jobID, repository.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting job %s: %w", jobID, err)
	}
	return j, nil
}

func (s *JobStore) ListByProject(ctx context.Context, projectID string) ([]job.Job, error) {
	query, args, err := psql.
		Select(jobColumns).
		From("jobs").
		Where(sq.Eq{"project_id": projectID}).
		OrderBy("created_at DESC", "id DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("listing jobs for %s: build sql: %w", projectID, err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing jobs for %s: %w", projectID, err)
	}
	defer rows.Close()

	var jobs []job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("listing jobs for %s: scan: %w", projectID, err)
		}
		jobs = append(jobs, *j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing jobs for %s: %w", projectID, err)
	}
	return jobs, nil
}

func (s *JobStore) ClaimNext(ctx context.Context, workerID, claimToken string, now time.Time) (*job.Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("claiming job: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	// SKIP LOCKED keeps two workers from racing on the same candidate row.
	query, args, err := psql.
		Select(jobColumns).
		From("jobs").
		Where(sq.Or{
			sq.Eq{"status": string(job.StatusQueued)},
			sq.And{
				sq.Eq{"status": string(job.StatusRunning)},
				sq.NotEq{"lease_expires_at": nil},
				sq.LtOrEq{"lease_expires_at": now.UTC()},
			},
		}).
		OrderBy("created_at ASC", "id ASC").
		Limit(1).
		Suffix("FOR UPDATE SKIP LOCKED").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("claiming job: build sql: %w", err)
	}

	j, err := scanJob(tx.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("claiming job: %w", repository.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("claiming job: %w", err)
	}

	leaseExpiresAt := now.Add(j.LeaseDuration()).UTC()
	update, args, err := psql.
		Update("jobs").
		Set("status", string(job.StatusRunning)).
		Set("worker_id", workerID).
		Set("claim_token", claimToken).
		Set("lease_expires_at", leaseExpiresAt).
		Set("updated_at", now.UTC()).
		Where(sq.Eq{"id": j.ID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("claiming job %s: build sql: %w", j.ID, err)
	}
	if _, err := tx.Exec(ctx, update, args...); err != nil {
		return nil, fmt.Errorf("claiming job %s: %w", j.ID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("claiming job %s: commit: %w", j.ID, err)
	}

	j.Status = job.StatusRunning
	j.WorkerID = workerID
	j.ClaimToken = claimToken
	j.LeaseExpiresAt = &leaseExpiresAt
	j.UpdatedAt = now.UTC()
	return j, nil
}

func (s *JobStore) MarkCompleted(ctx context.Context, jobID, claimToken string, result []byte, now time.Time) (bool, error) {
	query, args, err := psql.
		Update("jobs").
		Set("status", string(job.StatusCompleted)).
		Set("claim_token", "").
		Set("lease_expires_at", nil).
		Set("result", result).
		Set("updated_at", now.UTC()).
		Where(sq.Eq{
			"id":          jobID,
			"status":      string(job.StatusRunning),
			"claim_token": claimToken,
		}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("completing job %s: build sql: %w", jobID, err)
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("completing job %s: %w", jobID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *JobStore) MarkFailed(ctx context.Context, jobID, claimToken, errMsg string, now time.Time) (bool, error) {
	// The requeue-or-park decision rides in the same guarded statement as the
	// token check so a reclaimed job can never be double-failed.
	query := `UPDATE jobs SET
		attempts = attempts + 1,
		status = CASE WHEN attempts + 1 < max_attempts THEN 'queued' ELSE 'failed' END,
		worker_id = '',
		claim_token = '',
		lease_expires_at = NULL,
		error = $1,
		updated_at = $2
	WHERE id = $3 AND status = 'running' AND claim_token = $4`

	tag, err := s.pool.Exec(ctx, query, errMsg, now.UTC(), jobID, claimToken)
	if err != nil {
		return false, fmt.Errorf("failing job %s: %w", jobID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *JobStore) DeleteByProject(ctx context.Context, projectID string) error {
	query, args, err := psql.
		Delete("jobs").
		Where(sq.Eq{"project_id": projectID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("deleting jobs for %s: build sql: %w", projectID, err)
	}

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("deleting jobs for %s: %w", projectID, err)
	}
	return nil
}

func scanJob(row pgx.Row) (*job.Job, error) {
	j := &job.Job{}
	var status string
	var payload, result []byte
	var leaseExpiresAt *time.Time
	err := row.Scan(
		&j.ID, &j.ProjectID, &j.Kind, &payload, &status, &j.Attempts,
		&j.MaxAttempts, &j.LeaseMs, &j.WorkerID, &j.ClaimToken,
		&leaseExpiresAt, &result, &j.Error, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	j.Payload = payload
	j.Result = result
	j.Status = job.Status(status)
	j.LeaseExpiresAt = leaseExpiresAt
	return j, nil
}
