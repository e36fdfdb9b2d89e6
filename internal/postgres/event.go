package postgres

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/armature-studio/armature/internal/domain/event"
)

// EventStore persists the per-project event log in PostgreSQL. Seq assignment
// rides in a single INSERT ... SELECT; a concurrent append to the same
// project surfaces as a unique violation and the statement is retried. Every
// collision means some other append committed, so retrying cannot livelock.
type EventStore struct {
	exec Executor
}

func NewEventStore(exec Executor) *EventStore {
	return &EventStore{exec: exec}
}

func (s *EventStore) Append(ctx context.Context, projectID, name string, data []byte, at time.Time) (int64, error) {
	const query = `INSERT INTO project_events (project_id, seq, name, data, at)
		SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3, $4
		FROM project_events WHERE project_id = $1
		RETURNING seq`

	for {
		var seq int64
		err := s.exec.QueryRow(ctx, query, projectID, name, data, at.UTC()).Scan(&seq)
		if err == nil {
			return seq, nil
		}
		if !isUniqueViolation(err) {
			return 0, fmt.Errorf("appending event for %s: %w", projectID, err)
		}
		if err := ctx.Err(); err != nil {
			return 0, fmt.Errorf("appending event for %s: %w", projectID, err)
		}
	}
}

func (s *EventStore) Since(ctx context.Context, projectID string, afterSeq int64) ([]event.Event, error) {
	query, args, err := psql.
		Select("project_id", "seq", "name", "data", "at").
		From("project_events").
		Where(sq.Eq{"project_id": projectID}).
		Where(sq.Gt{"seq": afterSeq}).
		OrderBy("seq ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("reading events for %s: build sql: %w", projectID, err)
	}

	rows, err := s.exec.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("reading events for %s: %w", projectID, err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var ev event.Event
		if err := rows.Scan(&ev.ProjectID, &ev.Seq, &ev.Name, &ev.Data, &ev.At); err != nil {
			return nil, fmt.Errorf("reading events for %s: scan: %w", projectID, err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading events for %s: %w", projectID, err)
	}
	return events, nil
}

func (s *EventStore) DeleteByProject(ctx context.Context, projectID string) error {
	query, args, err := psql.
		Delete("project_events").
		Where(sq.Eq{"project_id": projectID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("deleting events for %s: build sql: %w", projectID, err)
	}

	if _, err := s.exec.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("deleting events for %s: %w", projectID, err)
	}
	return nil
}
