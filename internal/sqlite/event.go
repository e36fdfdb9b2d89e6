package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/armature-studio/armature/internal/domain/event"
)

// EventStore implements repository.EventStore for SQLite
type EventStore struct {
	db *DB
}

// NewEventStore creates a new EventStore
func NewEventStore(db *DB) *EventStore {
	return &EventStore{db: db}
}

// Append assigns the next seq for the project and inserts the event. Reading
// the max and inserting happen in one transaction so seq values are strictly
// increasing and never reused.
func (r *EventStore) Append(ctx context.Context, projectID, name string, data []byte, at time.Time) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var maxSeq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM project_events WHERE project_id = ?`,
		projectID).Scan(&maxSeq)
	if err != nil {
		return 0, fmt.Errorf("failed to read max seq for %s: %w", projectID, err)
	}

	seq := maxSeq + 1
	_, err = tx.ExecContext(ctx,
		`INSERT INTO project_events (project_id, seq, event, data, at) VALUES (?, ?, ?, ?, ?)`,
		projectID, seq, name, data, at.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to append event for %s: %w", projectID, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return seq, nil
}

// Since returns events with seq > afterSeq in seq order
func (r *EventStore) Since(ctx context.Context, projectID string, afterSeq int64) ([]event.Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT project_id, seq, event, data, at
		FROM project_events
		WHERE project_id = ? AND seq > ?
		ORDER BY seq ASC
	`, projectID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("failed to read events for %s: %w", projectID, err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var ev event.Event
		var data []byte
		if err := rows.Scan(&ev.ProjectID, &ev.Seq, &ev.Name, &data, &ev.At); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		ev.Data = data
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event rows: %w", err)
	}

	return events, nil
}

// DeleteByProject removes all events for a project (cascade on project delete)
func (r *EventStore) DeleteByProject(ctx context.Context, projectID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM project_events WHERE project_id = ?`, projectID); err != nil {
		return fmt.Errorf("failed to delete events for %s: %w", projectID, err)
	}
	return nil
}
