// Package worker runs background job processing against the coordinator's
// queue. Leasing and retry accounting live in the queue; the pool only pulls,
// dispatches and settles.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/armature-studio/armature/internal/coordinator"
	"github.com/armature-studio/armature/internal/domain/job"
)

// Handler processes one claimed job and returns its result payload. A
// returned error settles the job as failed; the queue decides whether it
// re-queues.
type Handler func(ctx context.Context, j *job.Job) (json.RawMessage, error)

// Pool pulls claimable jobs on a poll interval across a fixed number of
// workers.
type Pool struct {
	coord    *coordinator.Coordinator
	handlers map[string]Handler
	workers  int
	poll     time.Duration
	logger   *slog.Logger
}

func NewPool(coord *coordinator.Coordinator, workers int, poll time.Duration, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 2
	}
	if poll <= 0 {
		poll = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		coord:    coord,
		handlers: make(map[string]Handler),
		workers:  workers,
		poll:     poll,
		logger:   logger,
	}
}

// Register installs the handler for a job kind. Must be called before Run.
func (p *Pool) Register(kind string, h Handler) {
	p.handlers[kind] = h
}

// Run blocks until ctx is canceled, then drains: in-flight jobs finish and
// settle before Run returns.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		workerID := fmt.Sprintf("worker-%d", i+1)
		g.Go(func() error {
			return p.loop(ctx, workerID)
		})
	}
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func (p *Pool) loop(ctx context.Context, workerID string) error {
	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		j, err := p.coord.ClaimNextJob(ctx, workerID)
		if err != nil && ctx.Err() == nil {
			p.logger.Error("claiming job", "worker_id", workerID, "error", err)
		}
		if j != nil {
			p.process(ctx, workerID, j)
			// Drain the queue before going back to sleep.
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Pool) process(ctx context.Context, workerID string, j *job.Job) {
	handler, ok := p.handlers[j.Kind]
	if !ok {
		p.settleFailure(ctx, j, fmt.Sprintf("no handler registered for kind %q", j.Kind))
		return
	}

	// Settlement uses a fresh context so a canceled pool still reports the
	// outcome of work it already did.
	result, err := handler(ctx, j)
	if err != nil {
		// A failure during shutdown is the pool's doing, not the job's:
		// leave the claim to expire so another worker reclaims it without
		// an attempt being charged.
		if ctx.Err() != nil {
			p.logger.Info("job interrupted by shutdown", "job_id", j.ID, "worker_id", workerID, "kind", j.Kind)
			return
		}
		p.settleFailure(context.WithoutCancel(ctx), j, err.Error())
		return
	}

	if _, err := p.coord.CompleteJob(context.WithoutCancel(ctx), j.ID, j.ClaimToken, result); err != nil {
		p.logger.Error("completing job", "job_id", j.ID, "worker_id", workerID, "error", err)
		return
	}
	p.logger.Info("job completed", "job_id", j.ID, "worker_id", workerID, "kind", j.Kind)
}

func (p *Pool) settleFailure(ctx context.Context, j *job.Job, msg string) {
	settled, err := p.coord.FailJob(ctx, j.ID, j.ClaimToken, msg)
	if err != nil {
		p.logger.Error("failing job", "job_id", j.ID, "error", err)
		return
	}
	p.logger.Warn("job failed", "job_id", j.ID, "kind", j.Kind,
		"attempts", settled.Attempts, "status", string(settled.Status), "error", msg)
}
