package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

// Log appends and reads per-project events. Seq assignment lives in the
// repository so it stays atomic with the insert.
type Log struct {
	events Repository
	logger *slog.Logger
	now    func() time.Time
}

// NewLog creates a new event log service.
func NewLog(events Repository, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{
		events: events,
		logger: logger,
		now:    time.Now,
	}
}

// Append writes one event and returns its assigned seq.
func (l *Log) Append(ctx context.Context, projectID, name string, data any) (int64, error) {
	var payload []byte
	if data != nil {
		var err error
		payload, err = jsonCodec.Marshal(data)
		if err != nil {
			return 0, fmt.Errorf("marshaling event %s for %s: %w", name, projectID, err)
		}
	}

	seq, err := l.events.Append(ctx, projectID, name, payload, l.now())
	if err != nil {
		return 0, fmt.Errorf("appending event %s for %s: %w", name, projectID, err)
	}

	l.logger.Debug("event appended", "project_id", projectID, "event", name, "seq", seq)
	return seq, nil
}

// Since returns events with seq strictly greater than afterSeq, in order.
func (l *Log) Since(ctx context.Context, projectID string, afterSeq int64) ([]Event, error) {
	events, err := l.events.Since(ctx, projectID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("reading events for %s after %d: %w", projectID, afterSeq, err)
	}
	return events, nil
}
