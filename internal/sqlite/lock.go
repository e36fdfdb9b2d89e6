package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/armature-studio/armature/internal/domain/checkout"
	"github.com/armature-studio/armature/internal/repository"
)

// LockStore implements repository.LockStore for SQLite
type LockStore struct {
	db *DB
}

// NewLockStore creates a new LockStore
func NewLockStore(db *DB) *LockStore {
	return &LockStore{db: db}
}

// Get retrieves the lock row for a project. Expiry is not evaluated here;
// that is the checkout service's job.
func (r *LockStore) Get(ctx context.Context, projectID string) (*checkout.Lock, error) {
	query := `
		SELECT project_id, owner_agent_id, owner_session_id, token, mode,
			acquired_at, heartbeat_at, expires_at
		FROM checkout_locks
		WHERE project_id = ?
	`

	var lock checkout.Lock
	err := r.db.QueryRowContext(ctx, query, projectID).Scan(
		&lock.ProjectID,
		&lock.OwnerAgentID,
		&lock.OwnerSessionID,
		&lock.Token,
		&lock.Mode,
		&lock.AcquiredAt,
		&lock.HeartbeatAt,
		&lock.ExpiresAt,
	)

	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lock for %s: %w", projectID, err)
	}

	return &lock, nil
}

// Put upserts the lock row
func (r *LockStore) Put(ctx context.Context, lock *checkout.Lock) error {
	query := `
		INSERT INTO checkout_locks (
			project_id, owner_agent_id, owner_session_id, token, mode,
			acquired_at, heartbeat_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (project_id) DO UPDATE SET
			owner_agent_id = excluded.owner_agent_id,
			owner_session_id = excluded.owner_session_id,
			token = excluded.token,
			mode = excluded.mode,
			acquired_at = excluded.acquired_at,
			heartbeat_at = excluded.heartbeat_at,
			expires_at = excluded.expires_at
	`

	_, err := r.db.ExecContext(ctx, query,
		lock.ProjectID,
		lock.OwnerAgentID,
		lock.OwnerSessionID,
		lock.Token,
		lock.Mode,
		lock.AcquiredAt.UTC(),
		lock.HeartbeatAt.UTC(),
		lock.ExpiresAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to put lock for %s: %w", lock.ProjectID, err)
	}

	return nil
}

// Delete removes the lock row
func (r *LockStore) Delete(ctx context.Context, projectID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM checkout_locks WHERE project_id = ?`, projectID)
	if err != nil {
		return fmt.Errorf("failed to delete lock for %s: %w", projectID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for %s: %w", projectID, err)
	}
	if rows == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteByOwner removes every lock held by the agent, optionally filtered by
// session, and returns the released project IDs.
func (r *LockStore) DeleteByOwner(ctx context.Context, ownerAgentID, ownerSessionID string) ([]string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `SELECT project_id FROM checkout_locks WHERE owner_agent_id = ?`
	args := []any{ownerAgentID}
	if ownerSessionID != "" {
		query += ` AND owner_session_id = ?`
		args = append(args, ownerSessionID)
	}

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list locks for %s: %w", ownerAgentID, err)
	}

	var projectIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan lock row: %w", err)
		}
		projectIDs = append(projectIDs, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating lock rows: %w", err)
	}
	rows.Close()

	for _, id := range projectIDs {
		if _, err := tx.ExecContext(ctx, `DELETE FROM checkout_locks WHERE project_id = ?`, id); err != nil {
			return nil, fmt.Errorf("failed to delete lock for %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return projectIDs, nil
}
