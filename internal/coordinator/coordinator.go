// Package coordinator composes the project repository, checkout service, job
// queue and event log into the single write path every transport uses. Each
// accepted mutation appends an event so dashboard streams observe agent
// activity without polling the stores.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/armature-studio/armature/internal/domain/checkout"
	"github.com/armature-studio/armature/internal/domain/event"
	"github.com/armature-studio/armature/internal/domain/job"
	"github.com/armature-studio/armature/internal/domain/projectdoc"
	"github.com/armature-studio/armature/internal/repository"
	"github.com/armature-studio/armature/internal/scene"
)

// ErrConflict reports a revision-guarded save that lost to a concurrent
// writer. The caller must re-read the project and re-apply its change.
var ErrConflict = errors.New("coordinator: revision conflict")

// Stores bundles the four persistence surfaces behind the coordinator. The
// cascade on project deletion needs direct store access; everything else
// goes through the domain services.
type Stores struct {
	Projects repository.ProjectStore
	Locks    repository.LockStore
	Jobs     repository.JobStore
	Events   repository.EventStore
}

// Coordinator is safe for concurrent use by all transports.
type Coordinator struct {
	stores    Stores
	checkouts *checkout.Service
	queue     *job.Queue
	events    *event.Log
	logger    *slog.Logger
	now       func() time.Time
}

func New(stores Stores, checkouts *checkout.Service, queue *job.Queue, events *event.Log, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		stores:    stores,
		checkouts: checkouts,
		queue:     queue,
		events:    events,
		logger:    logger,
		now:       time.Now,
	}
}

// GetProject returns the project record, or repository.ErrNotFound.
func (c *Coordinator) GetProject(ctx context.Context, scope projectdoc.Scope) (*projectdoc.Record, error) {
	return c.stores.Projects.Find(ctx, scope)
}

// SaveDocument persists a new document revision guarded by expectedRevision:
// nil creates the project, a string updates only if the stored revision still
// matches. Losing the guard returns ErrConflict with no partial effects.
func (c *Coordinator) SaveDocument(ctx context.Context, scope projectdoc.Scope, state []byte, newRevision string, expectedRevision *string) (*projectdoc.Record, error) {
	if newRevision == "" {
		return nil, fmt.Errorf("saving project %s: empty revision", scope)
	}

	now := c.now()
	rec := &projectdoc.Record{
		Scope:     scope,
		Revision:  newRevision,
		State:     state,
		CreatedAt: now,
		UpdatedAt: now,
	}

	ok, err := c.stores.Projects.SaveIfRevision(ctx, rec, expectedRevision)
	if err != nil {
		return nil, fmt.Errorf("saving project %s: %w", scope, err)
	}
	if !ok {
		return nil, fmt.Errorf("saving project %s: %w", scope, ErrConflict)
	}

	c.appendEvent(ctx, scope.ProjectID, event.ProjectSaved, map[string]string{
		"revision": newRevision,
	})
	c.logger.Info("project saved", "scope", scope.String(), "revision", newRevision)
	return rec, nil
}

// SaveFromSource saves a document produced by a live editor boundary.
func (c *Coordinator) SaveFromSource(ctx context.Context, scope projectdoc.Scope, src scene.DocumentSource, expectedRevision *string) (*projectdoc.Record, error) {
	state, err := src.Serialize()
	if err != nil {
		return nil, fmt.Errorf("serializing document for %s: %w", scope, err)
	}
	return c.SaveDocument(ctx, scope, state, src.Revision(), expectedRevision)
}

// DeleteProject removes the project and cascades to its locks, jobs and
// events. Subscribed streams observe the disappearance as a terminal error on
// their next poll.
func (c *Coordinator) DeleteProject(ctx context.Context, scope projectdoc.Scope) error {
	if err := c.stores.Projects.Remove(ctx, scope); err != nil {
		return fmt.Errorf("deleting project %s: %w", scope, err)
	}

	if err := c.stores.Locks.Delete(ctx, scope.ProjectID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("deleting lock for %s: %w", scope, err)
	}
	if err := c.stores.Jobs.DeleteByProject(ctx, scope.ProjectID); err != nil {
		return fmt.Errorf("deleting jobs for %s: %w", scope, err)
	}
	if err := c.stores.Events.DeleteByProject(ctx, scope.ProjectID); err != nil {
		return fmt.Errorf("deleting events for %s: %w", scope, err)
	}

	c.logger.Info("project deleted", "scope", scope.String())
	return nil
}

// AcquireCheckout claims the project for an agent and announces it on the
// event log.
func (c *Coordinator) AcquireCheckout(ctx context.Context, tenantID, projectID, agentID, sessionID string, ttl time.Duration) (*checkout.Lock, error) {
	lock, err := c.checkouts.Acquire(ctx, tenantID, projectID, agentID, sessionID, ttl)
	if err != nil {
		return nil, err
	}
	c.appendEvent(ctx, projectID, event.CheckoutAcquired, map[string]string{
		"agent_id": agentID,
	})
	return lock, nil
}

// RenewCheckout extends a held checkout.
func (c *Coordinator) RenewCheckout(ctx context.Context, projectID, token string, ttl time.Duration) (*checkout.Lock, error) {
	lock, err := c.checkouts.Renew(ctx, projectID, token, ttl)
	if err != nil {
		return nil, err
	}
	c.appendEvent(ctx, projectID, event.CheckoutRenewed, map[string]string{
		"agent_id": lock.OwnerAgentID,
	})
	return lock, nil
}

// ReleaseCheckout gives the checkout back.
func (c *Coordinator) ReleaseCheckout(ctx context.Context, projectID, token string) error {
	if err := c.checkouts.Release(ctx, projectID, token); err != nil {
		return err
	}
	c.appendEvent(ctx, projectID, event.CheckoutReleased, nil)
	return nil
}

// GetCheckout reports the current live lock, nil when the project is free.
func (c *Coordinator) GetCheckout(ctx context.Context, projectID string) (*checkout.Lock, error) {
	return c.checkouts.GetLock(ctx, projectID)
}

// ReleaseSession bulk-releases everything an agent held, announcing each
// released project.
func (c *Coordinator) ReleaseSession(ctx context.Context, agentID, sessionID string) ([]string, error) {
	released, err := c.checkouts.ReleaseByOwner(ctx, agentID, sessionID)
	if err != nil {
		return nil, err
	}
	for _, projectID := range released {
		c.appendEvent(ctx, projectID, event.CheckoutReleased, map[string]string{
			"agent_id": agentID,
		})
	}
	return released, nil
}

// SubmitJob enqueues a job and announces it.
func (c *Coordinator) SubmitJob(ctx context.Context, tenantID, projectID, kind string, payload json.RawMessage, maxAttempts int, leaseMs int64) (*job.Job, error) {
	j, err := c.queue.Submit(ctx, tenantID, projectID, kind, payload, maxAttempts, leaseMs)
	if err != nil {
		return nil, err
	}
	c.appendEvent(ctx, projectID, event.JobSubmitted, map[string]string{
		"job_id": j.ID,
		"kind":   j.Kind,
	})
	return j, nil
}

// ClaimNextJob hands one claimable job to a worker, announcing the start.
// Returns nil when the queue is empty.
func (c *Coordinator) ClaimNextJob(ctx context.Context, workerID string) (*job.Job, error) {
	j, err := c.queue.ClaimNext(ctx, workerID)
	if err != nil || j == nil {
		return j, err
	}
	c.appendEvent(ctx, j.ProjectID, event.JobStarted, map[string]string{
		"job_id":    j.ID,
		"worker_id": workerID,
	})
	return j, nil
}

// CompleteJob settles a claimed job successfully.
func (c *Coordinator) CompleteJob(ctx context.Context, jobID, claimToken string, result json.RawMessage) (*job.Job, error) {
	j, err := c.queue.Complete(ctx, jobID, claimToken, result)
	if err != nil {
		return nil, err
	}
	c.appendEvent(ctx, j.ProjectID, event.JobCompleted, map[string]string{
		"job_id": j.ID,
	})
	return j, nil
}

// FailJob settles a claimed job as failed; the queue decides between re-queue
// and terminal failure.
func (c *Coordinator) FailJob(ctx context.Context, jobID, claimToken, errMsg string) (*job.Job, error) {
	j, err := c.queue.Fail(ctx, jobID, claimToken, errMsg)
	if err != nil {
		return nil, err
	}
	c.appendEvent(ctx, j.ProjectID, event.JobFailed, map[string]string{
		"job_id":   j.ID,
		"status":   string(j.Status),
		"attempts": fmt.Sprintf("%d", j.Attempts),
	})
	return j, nil
}

// GetJob returns one job.
func (c *Coordinator) GetJob(ctx context.Context, jobID string) (*job.Job, error) {
	return c.queue.Get(ctx, jobID)
}

// ListProjectJobs returns a project's job history, newest first.
func (c *Coordinator) ListProjectJobs(ctx context.Context, projectID string) ([]job.Job, error) {
	return c.queue.ListProjectJobs(ctx, projectID)
}

// EventsSince returns the project's events after the cursor.
func (c *Coordinator) EventsSince(ctx context.Context, projectID string, afterSeq int64) ([]event.Event, error) {
	return c.events.Since(ctx, projectID, afterSeq)
}

// appendEvent records an activity event. Event log failures are logged, not
// propagated: the mutation already committed and must not be reported as
// failed.
func (c *Coordinator) appendEvent(ctx context.Context, projectID, name string, data any) {
	if _, err := c.events.Append(ctx, projectID, name, data); err != nil {
		c.logger.Error("appending event", "project_id", projectID, "event", name, "error", err)
	}
}
