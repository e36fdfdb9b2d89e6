package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/armature-studio/armature/internal/coordinator"
	"github.com/armature-studio/armature/internal/domain/checkout"
	"github.com/armature-studio/armature/internal/domain/event"
	"github.com/armature-studio/armature/internal/domain/job"
	"github.com/armature-studio/armature/internal/sqlite"
)

func newTestCoordinator(t *testing.T) *coordinator.Coordinator {
	t.Helper()

	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.Migrate(context.Background()))
	t.Cleanup(func() { db.Close() })

	stores := coordinator.Stores{
		Projects: sqlite.NewProjectStore(db),
		Locks:    sqlite.NewLockStore(db),
		Jobs:     sqlite.NewJobStore(db),
		Events:   sqlite.NewEventStore(db),
	}
	checkouts := checkout.NewService(stores.Locks, stores.Projects, nil)
	queue := job.NewQueue(stores.Jobs, stores.Projects, job.Defaults{}, nil)
	events := event.NewLog(stores.Events, nil)
	return coordinator.New(stores, checkouts, queue, events, nil)
}

func awaitStatus(t *testing.T, coord *coordinator.Coordinator, jobID string, want job.Status) *job.Job {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		j, err := coord.GetJob(context.Background(), jobID)
		require.NoError(t, err)
		if j.Status == want {
			return j
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached status %s", jobID, want)
	return nil
}

func TestPool_ProcessesJob(t *testing.T) {
	coord := newTestCoordinator(t)
	pool := NewPool(coord, 1, 10*time.Millisecond, nil)
	pool.Register("echo", func(ctx context.Context, j *job.Job) (json.RawMessage, error) {
		return j.Payload, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	j, err := coord.SubmitJob(context.Background(), "tenant1", "p1", "echo", json.RawMessage(`{"n":1}`), 0, 0)
	require.NoError(t, err)

	settled := awaitStatus(t, coord, j.ID, job.StatusCompleted)
	require.JSONEq(t, `{"n":1}`, string(settled.Result))

	cancel()
	require.NoError(t, <-done)
}

func TestPool_HandlerErrorRetriesThenParks(t *testing.T) {
	coord := newTestCoordinator(t)
	pool := NewPool(coord, 1, 10*time.Millisecond, nil)
	pool.Register("boom", func(ctx context.Context, j *job.Job) (json.RawMessage, error) {
		return nil, errors.New("solver diverged")
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	j, err := coord.SubmitJob(context.Background(), "tenant1", "p1", "boom", nil, 2, 0)
	require.NoError(t, err)

	settled := awaitStatus(t, coord, j.ID, job.StatusFailed)
	require.Equal(t, 2, settled.Attempts)
	require.Equal(t, "solver diverged", settled.Error)

	cancel()
	require.NoError(t, <-done)
}

func TestPool_ShutdownLeavesJobForReclaim(t *testing.T) {
	coord := newTestCoordinator(t)
	pool := NewPool(coord, 1, 10*time.Millisecond, nil)
	started := make(chan struct{})
	pool.Register("slow", func(ctx context.Context, j *job.Job) (json.RawMessage, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	j, err := coord.SubmitJob(context.Background(), "tenant1", "p1", "slow", nil, 2, 20)
	require.NoError(t, err)

	<-started
	cancel()
	require.NoError(t, <-done)

	// Shutdown must not charge an attempt: the job stays running under its
	// lease instead of being settled as failed.
	interrupted, err := coord.GetJob(context.Background(), j.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusRunning, interrupted.Status)
	require.Zero(t, interrupted.Attempts)
	require.Empty(t, interrupted.Error)

	// Once the lease expires, another worker reclaims it.
	deadline := time.Now().Add(3 * time.Second)
	var reclaimed *job.Job
	for time.Now().Before(deadline) {
		reclaimed, err = coord.ClaimNextJob(context.Background(), "w2")
		require.NoError(t, err)
		if reclaimed != nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.NotNil(t, reclaimed, "abandoned job was never reclaimed")
	require.Equal(t, j.ID, reclaimed.ID)
	require.Equal(t, "w2", reclaimed.WorkerID)
}

func TestPool_UnknownKindFails(t *testing.T) {
	coord := newTestCoordinator(t)
	pool := NewPool(coord, 1, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	j, err := coord.SubmitJob(context.Background(), "tenant1", "p1", "mystery", nil, 1, 0)
	require.NoError(t, err)

	settled := awaitStatus(t, coord, j.ID, job.StatusFailed)
	require.Contains(t, settled.Error, "no handler registered")

	cancel()
	require.NoError(t, <-done)
}
