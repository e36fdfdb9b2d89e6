package postgres

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/armature-studio/armature/internal/domain/checkout"
	"github.com/armature-studio/armature/internal/repository"
)

// LockStore persists checkout locks in PostgreSQL.
type LockStore struct {
	exec Executor
}

func NewLockStore(exec Executor) *LockStore {
	return &LockStore{exec: exec}
}

func (s *LockStore) Get(ctx context.Context, projectID string) (*checkout.Lock, error) {
	query, args, err := psql.
		Select("project_id", "owner_agent_id", "owner_session_id", "token", "mode",
			"acquired_at", "heartbeat_at", "expires_at").
		From("checkout_locks").
		Where(sq.Eq{"project_id": projectID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("getting lock for %s: build sql: %w", projectID, err)
	}

	lock := &checkout.Lock{}
	err = s.exec.QueryRow(ctx, query, args...).Scan(
		&lock.ProjectID, &lock.OwnerAgentID, &lock.OwnerSessionID, &lock.Token,
		&lock.Mode, &lock.AcquiredAt, &lock.HeartbeatAt, &lock.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("getting lock for %s: %w", projectID, repository.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting lock for %s: %w", projectID, err)
	}
	return lock, nil
}

func (s *LockStore) Put(ctx context.Context, lock *checkout.Lock) error {
	query, args, err := psql.
		Insert("checkout_locks").
		Columns("project_id", "owner_agent_id", "owner_session_id", "token", "mode",
			"acquired_at", "heartbeat_at", "expires_at").
		Values(lock.ProjectID, lock.OwnerAgentID, lock.OwnerSessionID, lock.Token,
			lock.Mode, lock.AcquiredAt.UTC(), lock.HeartbeatAt.UTC(), lock.ExpiresAt.UTC()).
		Suffix(`ON CONFLICT (project_id) DO UPDATE SET
			owner_agent_id = EXCLUDED.owner_agent_id,
			owner_session_id = EXCLUDED.owner_session_id,
			token = EXCLUDED.token,
			mode = EXCLUDED.mode,
			acquired_at = EXCLUDED.acquired_at,
			heartbeat_at = EXCLUDED.heartbeat_at,
			expires_at = EXCLUDED.expires_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("putting lock for %s: build sql: %w", lock.ProjectID, err)
	}

	if _, err := s.exec.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("putting lock for %s: %w", lock.ProjectID, err)
	}
	return nil
}

func (s *LockStore) Delete(ctx context.Context, projectID string) error {
	query, args, err := psql.
		Delete("checkout_locks").
		Where(sq.Eq{"project_id": projectID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("deleting lock for %s: build sql: %w", projectID, err)
	}

	tag, err := s.exec.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("deleting lock for %s: %w", projectID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("deleting lock for %s: %w", projectID, repository.ErrNotFound)
	}
	return nil
}

func (s *LockStore) DeleteByOwner(ctx context.Context, ownerAgentID, ownerSessionID string) ([]string, error) {
	builder := psql.
		Delete("checkout_locks").
		Where(sq.Eq{"owner_agent_id": ownerAgentID}).
		Suffix("RETURNING project_id")
	if ownerSessionID != "" {
		builder = builder.Where(sq.Eq{"owner_session_id": ownerSessionID})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("releasing locks for %s: build sql: %w", ownerAgentID, err)
	}

	rows, err := s.exec.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("releasing locks for %s: %w", ownerAgentID, err)
	}
	defer rows.Close()

	var released []string
	for rows.Next() {
		var projectID string
		if err := rows.Scan(&projectID); err != nil {
			return nil, fmt.Errorf("releasing locks for %s: scan: %w", ownerAgentID, err)
		}
		released = append(released, projectID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("releasing locks for %s: %w", ownerAgentID, err)
	}
	return released, nil
}
