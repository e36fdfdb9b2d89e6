package mcp

import (
	"context"
	"encoding/json"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/armature-studio/armature/internal/domain/checkout"
	"github.com/armature-studio/armature/internal/domain/job"
	"github.com/armature-studio/armature/internal/domain/projectdoc"
)

const defaultCheckoutTTL = 2 * time.Minute

// lockView is the agent-facing shape of a checkout lock. The capability
// token is only revealed to the acquiring agent.
type lockView struct {
	ProjectID    string    `json:"project_id"`
	OwnerAgentID string    `json:"owner_agent_id"`
	Token        string    `json:"token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type projectView struct {
	ProjectID string          `json:"project_id"`
	Revision  string          `json:"revision"`
	State     json.RawMessage `json:"state"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type jobView struct {
	ID          string          `json:"id"`
	ProjectID   string          `json:"project_id"`
	Kind        string          `json:"kind"`
	Status      string          `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
}

func viewLock(l *checkout.Lock, withToken bool) lockView {
	v := lockView{
		ProjectID:    l.ProjectID,
		OwnerAgentID: l.OwnerAgentID,
		ExpiresAt:    l.ExpiresAt,
	}
	if withToken {
		v.Token = l.Token
	}
	return v
}

func viewJob(j *job.Job) jobView {
	return jobView{
		ID:          j.ID,
		ProjectID:   j.ProjectID,
		Kind:        j.Kind,
		Status:      string(j.Status),
		Attempts:    j.Attempts,
		MaxAttempts: j.MaxAttempts,
		Result:      j.Result,
		Error:       j.Error,
	}
}

// agentIdentity resolves who is acting: the explicit agent_id argument, or
// the connection's session ID when omitted.
func agentIdentity(ctx context.Context, agentID string) (string, error) {
	if agentID != "" {
		return agentID, nil
	}
	if sid := getSessionID(ctx); sid != "" {
		return sid, nil
	}
	return "", &APIError{Code: "INVALID_INPUT", Message: "agent_id is required when no session is established"}
}

type checkoutProjectInput struct {
	ProjectID  string `json:"project_id" jsonschema:"the project to check out"`
	AgentID    string `json:"agent_id,omitempty" jsonschema:"acting agent, defaults to the session ID"`
	TTLSeconds int    `json:"ttl_seconds,omitempty" jsonschema:"checkout lifetime, defaults to server config"`
}

type renewCheckoutInput struct {
	ProjectID  string `json:"project_id"`
	Token      string `json:"token" jsonschema:"the capability token returned by checkout_project"`
	TTLSeconds int    `json:"ttl_seconds,omitempty"`
}

type releaseCheckoutInput struct {
	ProjectID string `json:"project_id"`
	Token     string `json:"token"`
}

type getCheckoutInput struct {
	ProjectID string `json:"project_id"`
}

type getCheckoutOutput struct {
	CheckedOut bool      `json:"checked_out"`
	Lock       *lockView `json:"lock,omitempty"`
}

type saveProjectInput struct {
	ProjectID        string          `json:"project_id"`
	State            json.RawMessage `json:"state" jsonschema:"the serialized scene document"`
	Revision         string          `json:"revision" jsonschema:"revision token identifying this save"`
	ExpectedRevision *string         `json:"expected_revision,omitempty" jsonschema:"revision last read; omit to create the project"`
}

type getProjectInput struct {
	ProjectID string `json:"project_id"`
}

type submitJobInput struct {
	ProjectID   string          `json:"project_id"`
	Kind        string          `json:"kind" jsonschema:"job kind, must have a registered handler"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	MaxAttempts int             `json:"max_attempts,omitempty"`
	LeaseMs     int64           `json:"lease_ms,omitempty"`
}

type getJobInput struct {
	JobID string `json:"job_id"`
}

type listJobsInput struct {
	ProjectID string `json:"project_id"`
}

type listJobsOutput struct {
	Jobs []jobView `json:"jobs"`
}

type endSessionInput struct {
	AgentID string `json:"agent_id,omitempty" jsonschema:"acting agent, defaults to the session ID"`
}

type endSessionOutput struct {
	ReleasedProjects []string `json:"released_projects"`
}

type emptyOutput struct{}

func registerTools(server *sdkmcp.Server, cfg Config) {
	coord := cfg.Coordinator
	checkoutTTL := cfg.CheckoutTTL
	if checkoutTTL <= 0 {
		checkoutTTL = defaultCheckoutTTL
	}

	ttlFrom := func(seconds int) time.Duration {
		if seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		return checkoutTTL
	}

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "checkout_project",
		Description: "Claim a project for editing. Fails with LOCK_CONFLICT naming the current owner if another agent holds it.",
	}, func(ctx context.Context, req *sdkmcp.CallToolRequest, in checkoutProjectInput) (*sdkmcp.CallToolResult, lockView, error) {
		agentID, err := agentIdentity(ctx, in.AgentID)
		if err != nil {
			return nil, lockView{}, err
		}
		lock, err := coord.AcquireCheckout(ctx, getTenantID(ctx), in.ProjectID, agentID, getSessionID(ctx), ttlFrom(in.TTLSeconds))
		if err != nil {
			return nil, lockView{}, toolError(err)
		}
		return nil, viewLock(lock, true), nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "renew_checkout",
		Description: "Extend a held checkout before it expires. Fails with LOCK_LOST if the token no longer matches.",
	}, func(ctx context.Context, req *sdkmcp.CallToolRequest, in renewCheckoutInput) (*sdkmcp.CallToolResult, lockView, error) {
		lock, err := coord.RenewCheckout(ctx, in.ProjectID, in.Token, ttlFrom(in.TTLSeconds))
		if err != nil {
			return nil, lockView{}, toolError(err)
		}
		return nil, viewLock(lock, true), nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "release_checkout",
		Description: "Release a held checkout. Releasing an already-expired checkout succeeds.",
	}, func(ctx context.Context, req *sdkmcp.CallToolRequest, in releaseCheckoutInput) (*sdkmcp.CallToolResult, emptyOutput, error) {
		if err := coord.ReleaseCheckout(ctx, in.ProjectID, in.Token); err != nil {
			return nil, emptyOutput{}, toolError(err)
		}
		return nil, emptyOutput{}, nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "get_checkout",
		Description: "Report who currently has the project checked out, if anyone.",
	}, func(ctx context.Context, req *sdkmcp.CallToolRequest, in getCheckoutInput) (*sdkmcp.CallToolResult, getCheckoutOutput, error) {
		lock, err := coord.GetCheckout(ctx, in.ProjectID)
		if err != nil {
			return nil, getCheckoutOutput{}, toolError(err)
		}
		if lock == nil {
			return nil, getCheckoutOutput{CheckedOut: false}, nil
		}
		view := viewLock(lock, false)
		return nil, getCheckoutOutput{CheckedOut: true, Lock: &view}, nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "save_project",
		Description: "Save a new document revision. Pass expected_revision from your last read; CONFLICT means someone saved in between.",
	}, func(ctx context.Context, req *sdkmcp.CallToolRequest, in saveProjectInput) (*sdkmcp.CallToolResult, projectView, error) {
		scope := projectdoc.Scope{TenantID: getTenantID(ctx), ProjectID: in.ProjectID}
		rec, err := coord.SaveDocument(ctx, scope, in.State, in.Revision, in.ExpectedRevision)
		if err != nil {
			return nil, projectView{}, toolError(err)
		}
		return nil, projectView{
			ProjectID: rec.Scope.ProjectID,
			Revision:  rec.Revision,
			State:     rec.State,
			UpdatedAt: rec.UpdatedAt,
		}, nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "get_project",
		Description: "Read the project document and its current revision.",
	}, func(ctx context.Context, req *sdkmcp.CallToolRequest, in getProjectInput) (*sdkmcp.CallToolResult, projectView, error) {
		scope := projectdoc.Scope{TenantID: getTenantID(ctx), ProjectID: in.ProjectID}
		rec, err := coord.GetProject(ctx, scope)
		if err != nil {
			return nil, projectView{}, toolError(err)
		}
		return nil, projectView{
			ProjectID: rec.Scope.ProjectID,
			Revision:  rec.Revision,
			State:     rec.State,
			UpdatedAt: rec.UpdatedAt,
		}, nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "submit_job",
		Description: "Enqueue background work for the project, such as an export or a bake.",
	}, func(ctx context.Context, req *sdkmcp.CallToolRequest, in submitJobInput) (*sdkmcp.CallToolResult, jobView, error) {
		j, err := coord.SubmitJob(ctx, getTenantID(ctx), in.ProjectID, in.Kind, in.Payload, in.MaxAttempts, in.LeaseMs)
		if err != nil {
			return nil, jobView{}, toolError(err)
		}
		return nil, viewJob(j), nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "get_job",
		Description: "Read one job's status, result and error.",
	}, func(ctx context.Context, req *sdkmcp.CallToolRequest, in getJobInput) (*sdkmcp.CallToolResult, jobView, error) {
		j, err := coord.GetJob(ctx, in.JobID)
		if err != nil {
			return nil, jobView{}, toolError(err)
		}
		return nil, viewJob(j), nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "list_jobs",
		Description: "List the project's job history, newest first.",
	}, func(ctx context.Context, req *sdkmcp.CallToolRequest, in listJobsInput) (*sdkmcp.CallToolResult, listJobsOutput, error) {
		jobs, err := coord.ListProjectJobs(ctx, in.ProjectID)
		if err != nil {
			return nil, listJobsOutput{}, toolError(err)
		}
		out := listJobsOutput{Jobs: make([]jobView, 0, len(jobs))}
		for i := range jobs {
			out.Jobs = append(out.Jobs, viewJob(&jobs[i]))
		}
		return nil, out, nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "end_session",
		Description: "Release every checkout this agent holds. Call on session teardown.",
	}, func(ctx context.Context, req *sdkmcp.CallToolRequest, in endSessionInput) (*sdkmcp.CallToolResult, endSessionOutput, error) {
		agentID, err := agentIdentity(ctx, in.AgentID)
		if err != nil {
			return nil, endSessionOutput{}, err
		}
		released, err := coord.ReleaseSession(ctx, agentID, getSessionID(ctx))
		if err != nil {
			return nil, endSessionOutput{}, toolError(err)
		}
		if released == nil {
			released = []string{}
		}
		return nil, endSessionOutput{ReleasedProjects: released}, nil
	})
}
