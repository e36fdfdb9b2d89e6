package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/armature-studio/armature/internal/domain/job"
	"github.com/armature-studio/armature/internal/repository"
)

// JobStore implements repository.JobStore for SQLite
type JobStore struct {
	db *DB
}

// NewJobStore creates a new JobStore
func NewJobStore(db *DB) *JobStore {
	return &JobStore{db: db}
}

const jobColumns = `id, project_id, kind, payload, status, attempts, max_attempts,
	lease_ms, worker_id, claim_token, lease_expires_at, result, error, created_at, updated_at`

// Create inserts a new job
func (r *JobStore) Create(ctx context.Context, j *job.Job) error {
	query := `
		INSERT INTO jobs (` + jobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		j.ID,
		j.ProjectID,
		j.Kind,
		[]byte(j.Payload),
		j.Status,
		j.Attempts,
		j.MaxAttempts,
		j.LeaseMs,
		j.WorkerID,
		j.ClaimToken,
		nullableTime(j.LeaseExpiresAt),
		[]byte(j.Result),
		j.Error,
		j.CreatedAt.UTC(),
		j.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create job %s: %w", j.ID, err)
	}

	return nil
}

// Get retrieves a job by ID
func (r *JobStore) Get(ctx context.Context, jobID string) (*job.Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, jobID)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", jobID, err)
	}
	return j, nil
}

// ListByProject returns the project's job history, newest first
func (r *JobStore) ListByProject(ctx context.Context, projectID string) ([]job.Job, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE project_id = ? ORDER BY created_at DESC, id DESC`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs for %s: %w", projectID, err)
	}
	defer rows.Close()

	var jobs []job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		jobs = append(jobs, *j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job rows: %w", err)
	}

	return jobs, nil
}

// ClaimNext atomically claims the oldest queued job, or a running job whose
// lease expired before now. The select and the guarded update run in one
// transaction, so two workers can never claim the same job.
func (r *JobStore) ClaimNext(ctx context.Context, workerID, claimToken string, now time.Time) (*job.Job, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now = now.UTC()
	row := tx.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE status = 'queued'
		   OR (status = 'running' AND lease_expires_at IS NOT NULL AND lease_expires_at <= ?)
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`, now)

	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select claimable job: %w", err)
	}

	leaseExpires := now.Add(j.LeaseDuration())
	result, err := tx.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'running', worker_id = ?, claim_token = ?, lease_expires_at = ?, updated_at = ?
		WHERE id = ?
		  AND (status = 'queued' OR (status = 'running' AND lease_expires_at IS NOT NULL AND lease_expires_at <= ?))
	`, workerID, claimToken, leaseExpires, now, j.ID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to claim job %s: %w", j.ID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected for %s: %w", j.ID, err)
	}
	if rows != 1 {
		return nil, repository.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	j.Status = job.StatusRunning
	j.WorkerID = workerID
	j.ClaimToken = claimToken
	j.LeaseExpiresAt = &leaseExpires
	j.UpdatedAt = now
	return j, nil
}

// MarkCompleted transitions running -> completed iff the claim token matches
func (r *JobStore) MarkCompleted(ctx context.Context, jobID, claimToken string, result []byte, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'completed', result = ?, claim_token = '', lease_expires_at = NULL, updated_at = ?
		WHERE id = ? AND status = 'running' AND claim_token = ?
	`, result, now.UTC(), jobID, claimToken)
	if err != nil {
		return false, fmt.Errorf("failed to complete job %s: %w", jobID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected for %s: %w", jobID, err)
	}
	return rows == 1, nil
}

// MarkFailed increments attempts and either re-queues the job or parks it in
// terminal failed once attempts are exhausted. One guarded statement so the
// requeue decision is atomic with the token check.
func (r *JobStore) MarkFailed(ctx context.Context, jobID, claimToken, errMsg string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs
		SET attempts = attempts + 1,
			status = CASE WHEN attempts + 1 < max_attempts THEN 'queued' ELSE 'failed' END,
			error = ?,
			worker_id = CASE WHEN attempts + 1 < max_attempts THEN '' ELSE worker_id END,
			claim_token = '',
			lease_expires_at = NULL,
			updated_at = ?
		WHERE id = ? AND status = 'running' AND claim_token = ?
	`, errMsg, now.UTC(), jobID, claimToken)
	if err != nil {
		return false, fmt.Errorf("failed to fail job %s: %w", jobID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected for %s: %w", jobID, err)
	}
	return rows == 1, nil
}

// DeleteByProject removes all jobs for a project (cascade on project delete)
func (r *JobStore) DeleteByProject(ctx context.Context, projectID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM jobs WHERE project_id = ?`, projectID); err != nil {
		return fmt.Errorf("failed to delete jobs for %s: %w", projectID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*job.Job, error) {
	var j job.Job
	var payload, result []byte
	var leaseExpires sql.NullTime
	err := row.Scan(
		&j.ID,
		&j.ProjectID,
		&j.Kind,
		&payload,
		&j.Status,
		&j.Attempts,
		&j.MaxAttempts,
		&j.LeaseMs,
		&j.WorkerID,
		&j.ClaimToken,
		&leaseExpires,
		&result,
		&j.Error,
		&j.CreatedAt,
		&j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	j.Payload = payload
	j.Result = result
	if leaseExpires.Valid {
		t := leaseExpires.Time
		j.LeaseExpiresAt = &t
	}
	return &j, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
