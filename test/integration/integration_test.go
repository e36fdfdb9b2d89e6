package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/armature-studio/armature/internal/blob"
	"github.com/armature-studio/armature/internal/coordinator"
	"github.com/armature-studio/armature/internal/domain/checkout"
	"github.com/armature-studio/armature/internal/domain/event"
	"github.com/armature-studio/armature/internal/domain/job"
	"github.com/armature-studio/armature/internal/domain/projectdoc"
	"github.com/armature-studio/armature/internal/exporter"
	"github.com/armature-studio/armature/internal/sqlite"
	"github.com/armature-studio/armature/internal/worker"
)

type testEnv struct {
	db    *sqlite.DB
	coord *coordinator.Coordinator
	blobs blob.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := sqlite.New(dsn)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(context.Background()))
	t.Cleanup(func() { _ = db.Close() })

	stores := coordinator.Stores{
		Projects: sqlite.NewProjectStore(db),
		Locks:    sqlite.NewLockStore(db),
		Jobs:     sqlite.NewJobStore(db),
		Events:   sqlite.NewEventStore(db),
	}
	checkouts := checkout.NewService(stores.Locks, stores.Projects, nil)
	queue := job.NewQueue(stores.Jobs, stores.Projects, job.Defaults{}, nil)
	events := event.NewLog(stores.Events, nil)
	coord := coordinator.New(stores, checkouts, queue, events, nil)

	blobs, err := blob.NewFS(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = blobs.Close() })

	return &testEnv{db: db, coord: coord, blobs: blobs}
}

func TestIntegration_AgentEditWorkflow(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	scope := projectdoc.Scope{TenantID: "tenant1", ProjectID: "p1"}

	rec, err := env.coord.SaveDocument(ctx, scope, []byte(`{"nodes":[]}`), "r1", nil)
	require.NoError(t, err)
	require.Equal(t, "r1", rec.Revision)

	lock, err := env.coord.AcquireCheckout(ctx, "tenant1", "p1", "agent-a", "sess-a", time.Minute)
	require.NoError(t, err)

	// A second agent is refused while the checkout is live, and the refusal
	// names the current owner.
	_, err = env.coord.AcquireCheckout(ctx, "tenant1", "p1", "agent-b", "sess-b", time.Minute)
	var held *checkout.HeldError
	require.ErrorAs(t, err, &held)
	require.Equal(t, "agent-a", held.OwnerAgentID)

	expected := rec.Revision
	rec, err = env.coord.SaveDocument(ctx, scope, []byte(`{"nodes":[{"id":"cube"}]}`), "r2", &expected)
	require.NoError(t, err)
	require.Equal(t, "r2", rec.Revision)

	require.NoError(t, env.coord.ReleaseCheckout(ctx, "p1", lock.Token))

	// Once released, the other agent gets in.
	_, err = env.coord.AcquireCheckout(ctx, "tenant1", "p1", "agent-b", "sess-b", time.Minute)
	require.NoError(t, err)
}

func TestIntegration_ConcurrentSaveConflict(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	scope := projectdoc.Scope{TenantID: "tenant1", ProjectID: "p1"}

	base, err := env.coord.SaveDocument(ctx, scope, []byte(`{}`), "r1", nil)
	require.NoError(t, err)

	// Both editors read r1. The first save wins, the second conflicts and
	// leaves the winner's document untouched.
	readRev := base.Revision
	_, err = env.coord.SaveDocument(ctx, scope, []byte(`{"by":"a"}`), "r2a", &readRev)
	require.NoError(t, err)

	_, err = env.coord.SaveDocument(ctx, scope, []byte(`{"by":"b"}`), "r2b", &readRev)
	require.ErrorIs(t, err, coordinator.ErrConflict)

	rec, err := env.coord.GetProject(ctx, scope)
	require.NoError(t, err)
	require.Equal(t, "r2a", rec.Revision)
	require.JSONEq(t, `{"by":"a"}`, string(rec.State))
}

func TestIntegration_ExportJobPipeline(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env := newTestEnv(t)
	scope := projectdoc.Scope{TenantID: "tenant1", ProjectID: "p1"}

	state := []byte(`{"nodes":[{"id":"light"}]}`)
	_, err := env.coord.SaveDocument(ctx, scope, state, "r1", nil)
	require.NoError(t, err)

	pool := worker.NewPool(env.coord, 1, 10*time.Millisecond, nil)
	pool.Register(exporter.Kind, exporter.New(env.coord, env.blobs, nil).Handle)
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	submitted, err := env.coord.SubmitJob(ctx, "tenant1", "p1", exporter.Kind,
		json.RawMessage(`{"tenant_id":"tenant1"}`), 0, 0)
	require.NoError(t, err)

	var finished *job.Job
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		j, err := env.coord.GetJob(ctx, submitted.ID)
		require.NoError(t, err)
		if j.Status == job.StatusCompleted {
			finished = j
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NotNil(t, finished, "export job never completed")

	var artifact exporter.Artifact
	require.NoError(t, json.Unmarshal(finished.Result, &artifact))
	require.Equal(t, "r1", artifact.Revision)

	rc, err := env.blobs.Get(ctx, artifact.Key)
	require.NoError(t, err)
	defer rc.Close()
	stored, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, state, stored)

	// The event log recorded the whole lifecycle in order.
	evts, err := env.coord.EventsSince(ctx, "p1", 0)
	require.NoError(t, err)
	var names []string
	for _, e := range evts {
		names = append(names, e.Name)
	}
	require.Equal(t, []string{
		event.ProjectSaved,
		event.JobSubmitted,
		event.JobStarted,
		event.JobCompleted,
	}, names)

	cancel()
	require.NoError(t, <-done)
}

func TestIntegration_SessionTeardownReleasesEverything(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	for _, projectID := range []string{"p1", "p2"} {
		scope := projectdoc.Scope{TenantID: "tenant1", ProjectID: projectID}
		_, err := env.coord.SaveDocument(ctx, scope, []byte(`{}`), "r1", nil)
		require.NoError(t, err)
		_, err = env.coord.AcquireCheckout(ctx, "tenant1", projectID, "agent-a", "sess-a", time.Minute)
		require.NoError(t, err)
	}

	released, err := env.coord.ReleaseSession(ctx, "agent-a", "sess-a")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"p1", "p2"}, released)

	for _, projectID := range []string{"p1", "p2"} {
		lock, err := env.coord.GetCheckout(ctx, projectID)
		require.NoError(t, err)
		require.Nil(t, lock)
	}
}
