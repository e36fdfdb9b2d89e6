package sqlite

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/armature-studio/armature/internal/domain/job"
	"github.com/armature-studio/armature/internal/repository"
	"github.com/stretchr/testify/require"
)

func testJob(id, projectID string, createdAt time.Time) *job.Job {
	return &job.Job{
		ID:          id,
		ProjectID:   projectID,
		Kind:        "gltf.convert",
		Payload:     json.RawMessage(`{"format":"glb"}`),
		Status:      job.StatusQueued,
		MaxAttempts: 3,
		LeaseMs:     60_000,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
}

func TestJobStore_CreateGet(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	store := NewJobStore(db)

	require.NoError(t, store.Create(ctx, testJob("j1", "p1", time.Now())))

	j, err := store.Get(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, "p1", j.ProjectID)
	require.Equal(t, job.StatusQueued, j.Status)
	require.JSONEq(t, `{"format":"glb"}`, string(j.Payload))
	require.Nil(t, j.LeaseExpiresAt)
}

func TestJobStore_GetMissing(t *testing.T) {
	db := NewTestDB(t)
	store := NewJobStore(db)

	_, err := store.Get(context.Background(), "nope")
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestJobStore_ClaimNext_OldestFirst(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	store := NewJobStore(db)

	base := time.Now()
	require.NoError(t, store.Create(ctx, testJob("j-new", "p1", base.Add(time.Second))))
	require.NoError(t, store.Create(ctx, testJob("j-old", "p1", base)))

	j, err := store.ClaimNext(ctx, "w1", "claim1", time.Now())
	require.NoError(t, err)
	require.Equal(t, "j-old", j.ID)
	require.Equal(t, job.StatusRunning, j.Status)
	require.Equal(t, "w1", j.WorkerID)
	require.Equal(t, "claim1", j.ClaimToken)
	require.NotNil(t, j.LeaseExpiresAt)
}

func TestJobStore_ClaimNext_Empty(t *testing.T) {
	db := NewTestDB(t)
	store := NewJobStore(db)

	_, err := store.ClaimNext(context.Background(), "w1", "claim1", time.Now())
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestJobStore_ClaimNext_SkipsLiveLease(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	store := NewJobStore(db)

	require.NoError(t, store.Create(ctx, testJob("j1", "p1", time.Now())))

	_, err := store.ClaimNext(ctx, "w1", "claim1", time.Now())
	require.NoError(t, err)

	// Lease is live: nothing claimable for another worker.
	_, err = store.ClaimNext(ctx, "w2", "claim2", time.Now())
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestJobStore_ClaimNext_ReclaimsExpiredLease(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	store := NewJobStore(db)

	j := testJob("j1", "p1", time.Now())
	j.LeaseMs = 10
	require.NoError(t, store.Create(ctx, j))

	_, err := store.ClaimNext(ctx, "w1", "claim1", time.Now())
	require.NoError(t, err)

	// After the lease window, another worker reclaims the same job.
	reclaimed, err := store.ClaimNext(ctx, "w2", "claim2", time.Now().Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, "j1", reclaimed.ID)
	require.Equal(t, "w2", reclaimed.WorkerID)
	require.Equal(t, "claim2", reclaimed.ClaimToken)
}

func TestJobStore_MarkCompleted(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	store := NewJobStore(db)

	require.NoError(t, store.Create(ctx, testJob("j1", "p1", time.Now())))
	claimed, err := store.ClaimNext(ctx, "w1", "claim1", time.Now())
	require.NoError(t, err)

	ok, err := store.MarkCompleted(ctx, claimed.ID, "claim1", []byte(`{"ok":true}`), time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	j, err := store.Get(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, job.StatusCompleted, j.Status)
	require.JSONEq(t, `{"ok":true}`, string(j.Result))
	require.Nil(t, j.LeaseExpiresAt)
}

func TestJobStore_MarkCompleted_StaleToken(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	store := NewJobStore(db)

	j := testJob("j1", "p1", time.Now())
	j.LeaseMs = 10
	require.NoError(t, store.Create(ctx, j))

	_, err := store.ClaimNext(ctx, "w1", "claim1", time.Now())
	require.NoError(t, err)
	_, err = store.ClaimNext(ctx, "w2", "claim2", time.Now().Add(time.Second))
	require.NoError(t, err)

	// The dispossessed worker's late completion must not apply.
	ok, err := store.MarkCompleted(ctx, "j1", "claim1", []byte(`{"ok":true}`), time.Now())
	require.NoError(t, err)
	require.False(t, ok)

	got, err := store.Get(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, job.StatusRunning, got.Status)
	require.Equal(t, "w2", got.WorkerID)
}

func TestJobStore_MarkFailed_Requeues(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	store := NewJobStore(db)

	require.NoError(t, store.Create(ctx, testJob("j1", "p1", time.Now())))
	_, err := store.ClaimNext(ctx, "w1", "claim1", time.Now())
	require.NoError(t, err)

	ok, err := store.MarkFailed(ctx, "j1", "claim1", "texture too large", time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	j, err := store.Get(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, job.StatusQueued, j.Status)
	require.Equal(t, 1, j.Attempts)
	require.Equal(t, "texture too large", j.Error)
	require.Empty(t, j.ClaimToken)
}

func TestJobStore_MarkFailed_ExhaustsToTerminal(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	store := NewJobStore(db)

	j := testJob("j1", "p1", time.Now())
	j.MaxAttempts = 2
	require.NoError(t, store.Create(ctx, j))

	for i, wantStatus := range []job.Status{job.StatusQueued, job.StatusFailed} {
		claimed, err := store.ClaimNext(ctx, "w1", "claim", time.Now())
		require.NoError(t, err, "claim %d", i)

		ok, err := store.MarkFailed(ctx, claimed.ID, claimed.ClaimToken, "boom", time.Now())
		require.NoError(t, err)
		require.True(t, ok)

		got, err := store.Get(ctx, "j1")
		require.NoError(t, err)
		require.Equal(t, wantStatus, got.Status, "after failure %d", i+1)
	}

	got, err := store.Get(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, 2, got.Attempts)
	require.Equal(t, "boom", got.Error)

	// Terminal jobs are never claimable again.
	_, err = store.ClaimNext(ctx, "w2", "claim3", time.Now().Add(time.Minute))
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestJobStore_ListByProject(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	store := NewJobStore(db)

	base := time.Now()
	require.NoError(t, store.Create(ctx, testJob("j1", "p1", base)))
	require.NoError(t, store.Create(ctx, testJob("j2", "p1", base.Add(time.Second))))
	require.NoError(t, store.Create(ctx, testJob("j3", "other", base)))

	jobs, err := store.ListByProject(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	require.Equal(t, "j2", jobs[0].ID, "newest first")
}

func TestJobStore_DeleteByProject(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	store := NewJobStore(db)

	require.NoError(t, store.Create(ctx, testJob("j1", "p1", time.Now())))
	require.NoError(t, store.DeleteByProject(ctx, "p1"))

	jobs, err := store.ListByProject(ctx, "p1")
	require.NoError(t, err)
	require.Empty(t, jobs)
}
