package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/armature-studio/armature/internal/coordinator"
	"github.com/armature-studio/armature/internal/domain/checkout"
	"github.com/armature-studio/armature/internal/domain/event"
	"github.com/armature-studio/armature/internal/domain/job"
	"github.com/armature-studio/armature/internal/sqlite"
	"github.com/armature-studio/armature/internal/stream"
)

type staticResolver map[string]string

func (r staticResolver) ResolveTenant(_ context.Context, token string) (string, error) {
	tenantID, ok := r[token]
	if !ok {
		return "", ErrUnauthorized
	}
	return tenantID, nil
}

func newTestServer(t *testing.T, authMiddleware func(http.Handler) http.Handler) (*httptest.Server, *coordinator.Coordinator) {
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
	coord := coordinator.New(stores, checkouts, queue, events, nil)

	streamHandler := stream.NewHandler(coord, 10*time.Millisecond, 25*time.Millisecond, nil)
	router := NewRouter(coord, streamHandler, authMiddleware, nil)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, coord
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, AuthMiddleware(staticResolver{}))

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode, "health is reachable without auth")
}

func TestSubmitJob(t *testing.T) {
	srv, coord := newTestServer(t, AuthMiddleware(staticResolver{"tok1": "tenant1"}))

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/projects/p1/jobs",
		strings.NewReader(`{"kind":"gltf.export","payload":{"format":"glb"}}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer tok1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var submitted job.Job
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&submitted))
	require.NotEmpty(t, submitted.ID)
	require.Equal(t, job.StatusQueued, submitted.Status)

	jobs, err := coord.ListProjectJobs(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
}

func TestSubmitJob_MissingKind(t *testing.T) {
	srv, _ := newTestServer(t, AuthMiddleware(staticResolver{"tok1": "tenant1"}))

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/projects/p1/jobs", strings.NewReader(`{}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer tok1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubmitJob_Unauthorized(t *testing.T) {
	srv, _ := newTestServer(t, AuthMiddleware(staticResolver{"tok1": "tenant1"}))

	resp, err := http.Post(srv.URL+"/api/projects/p1/jobs", "application/json", strings.NewReader(`{"kind":"x"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestListJobs_EmptyIsArray(t *testing.T) {
	srv, _ := newTestServer(t, NoAuthMiddleware("tenant1"))

	resp, err := http.Get(srv.URL + "/api/projects/p1/jobs")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Jobs []job.Job `json:"jobs"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotNil(t, body.Jobs)
	require.Empty(t, body.Jobs)
}

func TestEvents_RequiresAuth(t *testing.T) {
	srv, _ := newTestServer(t, AuthMiddleware(staticResolver{"tok1": "tenant1"}))

	resp, err := http.Get(srv.URL + "/api/projects/p1/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestEvents_MissingProject(t *testing.T) {
	srv, _ := newTestServer(t, NoAuthMiddleware("tenant1"))

	resp, err := http.Get(srv.URL + "/api/projects/ghost/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
