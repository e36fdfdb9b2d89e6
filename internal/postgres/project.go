package postgres

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/armature-studio/armature/internal/domain/projectdoc"
	"github.com/armature-studio/armature/internal/repository"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// ProjectStore persists project records in PostgreSQL. Revision guards are
// expressed as single conditional statements so CAS outcomes are decided by
// the database, not by read-then-write races.
type ProjectStore struct {
	exec Executor
}

func NewProjectStore(exec Executor) *ProjectStore {
	return &ProjectStore{exec: exec}
}

func (s *ProjectStore) Find(ctx context.Context, scope projectdoc.Scope) (*projectdoc.Record, error) {
	query, args, err := psql.
		Select("tenant_id", "project_id", "revision", "state", "created_at", "updated_at").
		From("projects").
		Where(sq.Eq{"tenant_id": scope.TenantID, "project_id": scope.ProjectID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("finding project %s: build sql: %w", scope, err)
	}

	rec := &projectdoc.Record{}
	err = s.exec.QueryRow(ctx, query, args...).Scan(
		&rec.Scope.TenantID, &rec.Scope.ProjectID, &rec.Revision, &rec.State,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("finding project %s: %w", scope, repository.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("finding project %s: %w", scope, err)
	}
	return rec, nil
}

func (s *ProjectStore) Save(ctx context.Context, rec *projectdoc.Record) error {
	query, args, err := psql.
		Insert("projects").
		Columns("tenant_id", "project_id", "revision", "state", "created_at", "updated_at").
		Values(rec.Scope.TenantID, rec.Scope.ProjectID, rec.Revision, rec.State,
			rec.CreatedAt.UTC(), rec.UpdatedAt.UTC()).
		Suffix(`ON CONFLICT (tenant_id, project_id) DO UPDATE SET
			revision = EXCLUDED.revision,
			state = EXCLUDED.state,
			updated_at = EXCLUDED.updated_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("saving project %s: build sql: %w", rec.Scope, err)
	}

	if _, err := s.exec.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("saving project %s: %w", rec.Scope, err)
	}
	return nil
}

func (s *ProjectStore) SaveIfRevision(ctx context.Context, rec *projectdoc.Record, expectedRevision *string) (bool, error) {
	var query string
	var args []any
	var err error

	if expectedRevision == nil {
		query, args, err = psql.
			Insert("projects").
			Columns("tenant_id", "project_id", "revision", "state", "created_at", "updated_at").
			Values(rec.Scope.TenantID, rec.Scope.ProjectID, rec.Revision, rec.State,
				rec.CreatedAt.UTC(), rec.UpdatedAt.UTC()).
			Suffix("ON CONFLICT (tenant_id, project_id) DO NOTHING").
			ToSql()
	} else {
		query, args, err = psql.
			Update("projects").
			Set("revision", rec.Revision).
			Set("state", rec.State).
			Set("updated_at", rec.UpdatedAt.UTC()).
			Where(sq.Eq{
				"tenant_id":  rec.Scope.TenantID,
				"project_id": rec.Scope.ProjectID,
				"revision":   *expectedRevision,
			}).
			ToSql()
	}
	if err != nil {
		return false, fmt.Errorf("guarded save of project %s: build sql: %w", rec.Scope, err)
	}

	tag, err := s.exec.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("guarded save of project %s: %w", rec.Scope, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *ProjectStore) Remove(ctx context.Context, scope projectdoc.Scope) error {
	query, args, err := psql.
		Delete("projects").
		Where(sq.Eq{"tenant_id": scope.TenantID, "project_id": scope.ProjectID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("removing project %s: build sql: %w", scope, err)
	}

	tag, err := s.exec.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("removing project %s: %w", scope, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("removing project %s: %w", scope, repository.ErrNotFound)
	}
	return nil
}
