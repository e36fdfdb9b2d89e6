//go:build integration

package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/armature-studio/armature/internal/domain/job"
	"github.com/armature-studio/armature/internal/domain/projectdoc"
	"github.com/armature-studio/armature/internal/repository"
)

// NewTestPool connects using ARMATURE_TEST_POSTGRES_DSN and runs migrations.
// The suite is skipped when the variable is unset.
func NewTestPool(t *testing.T) *Pool {
	t.Helper()

	dsn := os.Getenv("ARMATURE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("ARMATURE_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, pool.Migrate(ctx))

	t.Cleanup(func() {
		for _, table := range []string{"projects", "checkout_locks", "jobs", "project_events"} {
			_, _ = pool.Exec(ctx, "DELETE FROM "+table)
		}
		pool.Close()
	})
	return pool
}

func testScope(t *testing.T) projectdoc.Scope {
	t.Helper()
	return projectdoc.Scope{TenantID: "tenant-" + uuid.NewString(), ProjectID: "p1"}
}

func TestProjectStore_SaveIfRevision_SingleWinner(t *testing.T) {
	pool := NewTestPool(t)
	ctx := context.Background()
	store := NewProjectStore(pool)
	scope := testScope(t)
	now := time.Now()

	rec := &projectdoc.Record{Scope: scope, Revision: "r1", State: []byte(`{}`), CreatedAt: now, UpdatedAt: now}
	ok, err := store.SaveIfRevision(ctx, rec, nil)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.SaveIfRevision(ctx, rec, nil)
	require.NoError(t, err)
	require.False(t, ok)

	expected := "r1"
	rec2 := &projectdoc.Record{Scope: scope, Revision: "r2", State: []byte(`{"n":1}`), CreatedAt: now, UpdatedAt: now}
	ok, err = store.SaveIfRevision(ctx, rec2, &expected)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.SaveIfRevision(ctx, rec2, &expected)
	require.NoError(t, err)
	require.False(t, ok, "stale expected revision must lose")

	got, err := store.Find(ctx, scope)
	require.NoError(t, err)
	require.Equal(t, "r2", got.Revision)
}

func TestJobStore_ConcurrentClaimants_OneWinner(t *testing.T) {
	pool := NewTestPool(t)
	ctx := context.Background()
	store := NewJobStore(pool)
	now := time.Now()

	j := &job.Job{
		ID: uuid.NewString(), ProjectID: "p1", Kind: "render",
		Payload: json.RawMessage(`{}`), Status: job.StatusQueued,
		MaxAttempts: 3, LeaseMs: 60_000, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.Create(ctx, j))

	type outcome struct {
		claimed bool
		err     error
	}
	results := make(chan outcome, 8)
	for i := 0; i < 8; i++ {
		go func(i int) {
			_, err := store.ClaimNext(ctx, fmt.Sprintf("w%d", i), uuid.NewString(), time.Now())
			results <- outcome{claimed: err == nil, err: err}
		}(i)
	}

	winners := 0
	for i := 0; i < 8; i++ {
		res := <-results
		if res.claimed {
			winners++
		} else {
			require.ErrorIs(t, res.err, repository.ErrNotFound)
		}
	}
	require.Equal(t, 1, winners, "exactly one worker claims the job")
}

func TestEventStore_ConcurrentAppends_NoGapsNoDups(t *testing.T) {
	pool := NewTestPool(t)
	ctx := context.Background()
	store := NewEventStore(pool)
	projectID := "p-" + uuid.NewString()

	const n = 20
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := store.Append(ctx, projectID, "project.saved", []byte(`{}`), time.Now())
			errs <- err
		}()
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
	}

	events, err := store.Since(ctx, projectID, 0)
	require.NoError(t, err)
	require.Len(t, events, n)
	for i, ev := range events {
		require.Equal(t, int64(i+1), ev.Seq)
	}
}
