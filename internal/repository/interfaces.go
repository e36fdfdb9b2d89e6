package repository

import (
	"context"
	"time"

	"github.com/armature-studio/armature/internal/domain/checkout"
	"github.com/armature-studio/armature/internal/domain/event"
	"github.com/armature-studio/armature/internal/domain/job"
	"github.com/armature-studio/armature/internal/domain/projectdoc"
)

// ProjectStore manages project record persistence. The project record is the
// only truly shared mutable resource; every writer goes through
// SaveIfRevision.
type ProjectStore interface {
	Find(ctx context.Context, scope projectdoc.Scope) (*projectdoc.Record, error)
	// Save is an unconditional upsert.
	Save(ctx context.Context, rec *projectdoc.Record) error
	// SaveIfRevision is a revision-guarded save. A nil expectedRevision means
	// insert-only-if-absent; a string means update-only-if-stored-revision-
	// equals-it. Returns false (no error) on a revision mismatch that the
	// backend detected atomically; adapters without native conditional writes
	// may instead return ErrLeaseTimeout when contention cannot be resolved.
	SaveIfRevision(ctx context.Context, rec *projectdoc.Record, expectedRevision *string) (bool, error)
	Remove(ctx context.Context, scope projectdoc.Scope) error
}

// LockStore manages checkout lock persistence. Expiry semantics live in the
// checkout domain service; the store only reads and writes rows.
type LockStore interface {
	Get(ctx context.Context, projectID string) (*checkout.Lock, error)
	Put(ctx context.Context, lock *checkout.Lock) error
	Delete(ctx context.Context, projectID string) error
	// DeleteByOwner removes every lock held by the agent, optionally filtered
	// by session. Returns the project IDs that were released.
	DeleteByOwner(ctx context.Context, ownerAgentID, ownerSessionID string) ([]string, error)
}

// JobStore manages durable job persistence. ClaimNext, MarkCompleted and
// MarkFailed must be atomic with respect to concurrent workers.
type JobStore interface {
	Create(ctx context.Context, j *job.Job) error
	Get(ctx context.Context, jobID string) (*job.Job, error)
	ListByProject(ctx context.Context, projectID string) ([]job.Job, error)
	// ClaimNext atomically claims the oldest queued job, or a running job
	// whose lease expired before now, stamping workerID, claimToken and a
	// fresh lease. Returns ErrNotFound when nothing is claimable.
	ClaimNext(ctx context.Context, workerID, claimToken string, now time.Time) (*job.Job, error)
	// MarkCompleted transitions running -> completed iff the claim token
	// still matches. Returns false when the guarded update changed no row.
	MarkCompleted(ctx context.Context, jobID, claimToken string, result []byte, now time.Time) (bool, error)
	// MarkFailed increments attempts and either re-queues the job or, once
	// attempts reach maxAttempts, parks it in terminal failed. Same token
	// guard as MarkCompleted.
	MarkFailed(ctx context.Context, jobID, claimToken, errMsg string, now time.Time) (bool, error)
	DeleteByProject(ctx context.Context, projectID string) error
}

// EventStore manages the append-only per-project event log.
type EventStore interface {
	// Append assigns the next seq for the project (starting at 1) and writes
	// the event. Seq values are never reused.
	Append(ctx context.Context, projectID, name string, data []byte, at time.Time) (int64, error)
	// Since returns events with seq > afterSeq in seq order.
	Since(ctx context.Context, projectID string, afterSeq int64) ([]event.Event, error)
	DeleteByProject(ctx context.Context, projectID string) error
}
