package event

import (
	"context"
	"time"
)

// Repository provides append-only event log persistence.
type Repository interface {
	Append(ctx context.Context, projectID, name string, data []byte, at time.Time) (int64, error)
	Since(ctx context.Context, projectID string, afterSeq int64) ([]Event, error)
}
