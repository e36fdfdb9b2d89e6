package functional_test

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"

	"github.com/armature-studio/armature/internal/coordinator"
	"github.com/armature-studio/armature/internal/domain/checkout"
	"github.com/armature-studio/armature/internal/domain/event"
	"github.com/armature-studio/armature/internal/domain/job"
	"github.com/armature-studio/armature/internal/mcp"
	"github.com/armature-studio/armature/internal/sqlite"
)

// mcpSession runs an MCP server and a connected client over in-memory
// transports, exercising the full tool surface without a process boundary.
type mcpSession struct {
	session *sdkmcp.ClientSession
}

func newMCPSession(t *testing.T) *mcpSession {
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

	server := mcp.NewServer(mcp.Config{
		Coordinator:   coord,
		AuthEnabled:   false,
		TransportMode: "stdio",
		CheckoutTTL:   time.Minute,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

	serverTransport, clientTransport := sdkmcp.NewInMemoryTransports()
	serverSession, err := server.Connect(ctx, serverTransport, nil)
	if err != nil {
		cancel()
		t.Fatalf("server connect failed: %v", err)
	}

	client := sdkmcp.NewClient(&sdkmcp.Implementation{
		Name:    "test-client",
		Version: "1.0.0",
	}, nil)
	clientSession, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		cancel()
		t.Fatalf("client connect failed: %v", err)
	}

	t.Cleanup(func() {
		clientSession.Close()
		serverSession.Close()
		cancel()
	})

	return &mcpSession{session: clientSession}
}

func (s *mcpSession) callTool(t *testing.T, name string, args map[string]any) json.RawMessage {
	t.Helper()
	ctx, cancelFn := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelFn()

	result, err := s.session.CallTool(ctx, &sdkmcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	require.NoError(t, err, "CallTool %s failed", name)
	require.False(t, result.IsError, "tool %s returned error: %s", name, textOf(t, result))
	return json.RawMessage(textOf(t, result))
}

// callToolExpectError calls a tool whose domain-level failure is part of the
// assertion, returning the error text.
func (s *mcpSession) callToolExpectError(t *testing.T, name string, args map[string]any) string {
	t.Helper()
	ctx, cancelFn := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelFn()

	result, err := s.session.CallTool(ctx, &sdkmcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	require.NoError(t, err, "CallTool %s failed", name)
	require.True(t, result.IsError, "tool %s unexpectedly succeeded", name)
	return textOf(t, result)
}

func textOf(t *testing.T, result *sdkmcp.CallToolResult) string {
	t.Helper()
	for _, content := range result.Content {
		if textContent, ok := content.(*sdkmcp.TextContent); ok {
			return textContent.Text
		}
	}
	t.Fatal("tool returned no text content")
	return ""
}

func TestMCPFunctional_SaveAndReadWorkflow(t *testing.T) {
	s := newMCPSession(t)

	saveResp := s.callTool(t, "save_project", map[string]any{
		"project_id": "p1",
		"state":      map[string]any{"nodes": []any{}},
		"revision":   "r1",
	})
	var saved struct {
		Revision string `json:"revision"`
	}
	require.NoError(t, json.Unmarshal(saveResp, &saved))
	require.Equal(t, "r1", saved.Revision)

	getResp := s.callTool(t, "get_project", map[string]any{"project_id": "p1"})
	var got struct {
		ProjectID string          `json:"project_id"`
		Revision  string          `json:"revision"`
		State     json.RawMessage `json:"state"`
	}
	require.NoError(t, json.Unmarshal(getResp, &got))
	require.Equal(t, "p1", got.ProjectID)
	require.Equal(t, "r1", got.Revision)
	require.JSONEq(t, `{"nodes":[]}`, string(got.State))

	// A guarded save against the stale base revision is refused.
	s.callTool(t, "save_project", map[string]any{
		"project_id":        "p1",
		"state":             map[string]any{"nodes": []any{"cube"}},
		"revision":          "r2",
		"expected_revision": "r1",
	})
	errText := s.callToolExpectError(t, "save_project", map[string]any{
		"project_id":        "p1",
		"state":             map[string]any{},
		"revision":          "r2b",
		"expected_revision": "r1",
	})
	require.Contains(t, errText, "CONFLICT")
}

func TestMCPFunctional_CheckoutLifecycle(t *testing.T) {
	s := newMCPSession(t)

	s.callTool(t, "save_project", map[string]any{
		"project_id": "p1",
		"state":      map[string]any{},
		"revision":   "r1",
	})

	acquireResp := s.callTool(t, "checkout_project", map[string]any{
		"project_id": "p1",
		"agent_id":   "agent-a",
	})
	var lock struct {
		OwnerAgentID string `json:"owner_agent_id"`
		Token        string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(acquireResp, &lock))
	require.Equal(t, "agent-a", lock.OwnerAgentID)
	require.NotEmpty(t, lock.Token)

	// Another agent is told who holds the project.
	errText := s.callToolExpectError(t, "checkout_project", map[string]any{
		"project_id": "p1",
		"agent_id":   "agent-b",
	})
	require.Contains(t, errText, "LOCK_CONFLICT")
	require.Contains(t, errText, "agent-a")

	statusResp := s.callTool(t, "get_checkout", map[string]any{"project_id": "p1"})
	var status struct {
		CheckedOut bool `json:"checked_out"`
		Lock       *struct {
			OwnerAgentID string `json:"owner_agent_id"`
			Token        string `json:"token"`
		} `json:"lock"`
	}
	require.NoError(t, json.Unmarshal(statusResp, &status))
	require.True(t, status.CheckedOut)
	require.Equal(t, "agent-a", status.Lock.OwnerAgentID)
	// Observers never see the capability token.
	require.Empty(t, status.Lock.Token)

	s.callTool(t, "renew_checkout", map[string]any{
		"project_id": "p1",
		"token":      lock.Token,
	})
	s.callTool(t, "release_checkout", map[string]any{
		"project_id": "p1",
		"token":      lock.Token,
	})

	statusResp = s.callTool(t, "get_checkout", map[string]any{"project_id": "p1"})
	require.NoError(t, json.Unmarshal(statusResp, &status))
	require.False(t, status.CheckedOut)
}

func TestMCPFunctional_JobRoundtrip(t *testing.T) {
	s := newMCPSession(t)

	submitResp := s.callTool(t, "submit_job", map[string]any{
		"project_id": "p1",
		"kind":       "project.export",
		"payload":    map[string]any{"tenant_id": "default"},
	})
	var submitted struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(submitResp, &submitted))
	require.NotEmpty(t, submitted.ID)
	require.Equal(t, "queued", submitted.Status)

	getResp := s.callTool(t, "get_job", map[string]any{"job_id": submitted.ID})
	var fetched struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(getResp, &fetched))
	require.Equal(t, submitted.ID, fetched.ID)

	listResp := s.callTool(t, "list_jobs", map[string]any{"project_id": "p1"})
	var listed struct {
		Jobs []struct {
			ID string `json:"id"`
		} `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(listResp, &listed))
	require.Len(t, listed.Jobs, 1)

	errText := s.callToolExpectError(t, "get_job", map[string]any{"job_id": "missing"})
	require.Contains(t, errText, "NOT_FOUND")
}
