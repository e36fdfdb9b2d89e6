package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/armature-studio/armature/internal/domain/projectdoc"
	"github.com/armature-studio/armature/internal/repository"
)

// ProjectStore implements repository.ProjectStore for SQLite
type ProjectStore struct {
	db *DB
}

// NewProjectStore creates a new ProjectStore
func NewProjectStore(db *DB) *ProjectStore {
	return &ProjectStore{db: db}
}

// Find retrieves a project record by scope
func (r *ProjectStore) Find(ctx context.Context, scope projectdoc.Scope) (*projectdoc.Record, error) {
	query := `
		SELECT tenant_id, project_id, revision, state, created_at, updated_at
		FROM projects
		WHERE tenant_id = ? AND project_id = ?
	`

	var rec projectdoc.Record
	err := r.db.QueryRowContext(ctx, query, scope.TenantID, scope.ProjectID).Scan(
		&rec.Scope.TenantID,
		&rec.Scope.ProjectID,
		&rec.Revision,
		&rec.State,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find project %s: %w", scope, err)
	}

	return &rec, nil
}

// Save upserts the record unconditionally.
func (r *ProjectStore) Save(ctx context.Context, rec *projectdoc.Record) error {
	query := `
		INSERT INTO projects (tenant_id, project_id, revision, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, project_id) DO UPDATE SET
			revision = excluded.revision,
			state = excluded.state,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		rec.Scope.TenantID,
		rec.Scope.ProjectID,
		rec.Revision,
		rec.State,
		rec.CreatedAt.UTC(),
		rec.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save project %s: %w", rec.Scope, err)
	}

	return nil
}

// SaveIfRevision performs a revision-guarded save. With a nil expected
// revision it inserts only if absent; with a string it updates only if the
// stored revision equals it exactly. Success is judged by the affected-row
// count, never by absence of error, so a benign no-op cannot masquerade as a
// win.
func (r *ProjectStore) SaveIfRevision(ctx context.Context, rec *projectdoc.Record, expectedRevision *string) (bool, error) {
	if expectedRevision == nil {
		query := `
			INSERT INTO projects (tenant_id, project_id, revision, state, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (tenant_id, project_id) DO NOTHING
		`
		result, err := r.db.ExecContext(ctx, query,
			rec.Scope.TenantID,
			rec.Scope.ProjectID,
			rec.Revision,
			rec.State,
			rec.CreatedAt.UTC(),
			rec.UpdatedAt.UTC(),
		)
		if err != nil {
			return false, fmt.Errorf("failed to insert project %s: %w", rec.Scope, err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("failed to get rows affected for %s: %w", rec.Scope, err)
		}
		return rows == 1, nil
	}

	query := `
		UPDATE projects
		SET revision = ?, state = ?, updated_at = ?
		WHERE tenant_id = ? AND project_id = ? AND revision = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		rec.Revision,
		rec.State,
		rec.UpdatedAt.UTC(),
		rec.Scope.TenantID,
		rec.Scope.ProjectID,
		*expectedRevision,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update project %s: %w", rec.Scope, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected for %s: %w", rec.Scope, err)
	}
	return rows == 1, nil
}

// Remove deletes the project record
func (r *ProjectStore) Remove(ctx context.Context, scope projectdoc.Scope) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM projects WHERE tenant_id = ? AND project_id = ?`,
		scope.TenantID, scope.ProjectID)
	if err != nil {
		return fmt.Errorf("failed to remove project %s: %w", scope, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for %s: %w", scope, err)
	}
	if rows == 0 {
		return repository.ErrNotFound
	}
	return nil
}
