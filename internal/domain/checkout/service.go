package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/armature-studio/armature/internal/domain/projectdoc"
	"github.com/armature-studio/armature/internal/repoerr"
	"github.com/google/uuid"
)

// Service tracks at most one live editing-session claim per project. The
// locks are advisory: CAS on the project record is the actual correctness
// mechanism, the checkout only tells viewers who is editing.
type Service struct {
	locks    LockRepository
	projects ProjectRepository
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a new checkout service.
func NewService(locks LockRepository, projects ProjectRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		locks:    locks,
		projects: projects,
		logger:   logger,
		now:      time.Now,
	}
}

// GetLock returns the current lock for the project, evicting it first if it
// has expired. Returns nil when no live lock exists.
func (s *Service) GetLock(ctx context.Context, projectID string) (*Lock, error) {
	lock, err := s.locks.Get(ctx, projectID)
	if errors.Is(err, repoerr.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading lock for %s: %w", projectID, err)
	}

	if !IsLive(lock, s.now()) {
		// Lazy expiry: eviction here is memory hygiene, not correctness.
		if err := s.locks.Delete(ctx, projectID); err != nil && !errors.Is(err, repoerr.ErrNotFound) {
			s.logger.Warn("evicting expired lock", "project_id", projectID, "error", err)
		}
		return nil, nil
	}

	return lock, nil
}

// Acquire claims the project for an agent. It fails with a HeldError naming
// the current owner when a non-expired lock owned by someone else exists;
// otherwise it creates or overwrites the lock and returns a fresh token.
func (s *Service) Acquire(ctx context.Context, tenantID, projectID, ownerAgentID, ownerSessionID string, ttl time.Duration) (*Lock, error) {
	if projectID == "" || ownerAgentID == "" || ttl <= 0 {
		return nil, ErrInvalidInput
	}

	if err := s.ensureProject(ctx, tenantID, projectID); err != nil {
		return nil, err
	}

	now := s.now()
	current, err := s.locks.Get(ctx, projectID)
	if err != nil && !errors.Is(err, repoerr.ErrNotFound) {
		return nil, fmt.Errorf("loading lock for %s: %w", projectID, err)
	}
	if IsLive(current, now) && current.OwnerAgentID != ownerAgentID {
		return nil, &HeldError{OwnerAgentID: current.OwnerAgentID, ExpiresAt: current.ExpiresAt}
	}

	lock := &Lock{
		ProjectID:      projectID,
		OwnerAgentID:   ownerAgentID,
		OwnerSessionID: ownerSessionID,
		Token:          uuid.NewString(),
		Mode:           ModeMCP,
		AcquiredAt:     now,
		HeartbeatAt:    now,
		ExpiresAt:      now.Add(ttl),
	}
	if err := s.locks.Put(ctx, lock); err != nil {
		return nil, fmt.Errorf("storing lock for %s: %w", projectID, err)
	}

	return lock, nil
}

// Renew extends the lock's expiry only if the supplied token matches the
// current lock. A dispossessed caller gets ErrLockLost and must not keep
// editing on the assumption it still holds the checkout.
func (s *Service) Renew(ctx context.Context, projectID, token string, ttl time.Duration) (*Lock, error) {
	if projectID == "" || token == "" || ttl <= 0 {
		return nil, ErrInvalidInput
	}

	lock, err := s.GetLock(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if lock == nil || lock.Token != token {
		return nil, ErrLockLost
	}

	now := s.now()
	lock.HeartbeatAt = now
	lock.ExpiresAt = now.Add(ttl)
	if err := s.locks.Put(ctx, lock); err != nil {
		return nil, fmt.Errorf("renewing lock for %s: %w", projectID, err)
	}

	return lock, nil
}

// Release removes the lock on token match. Releasing a lock that no longer
// exists succeeds: the caller's goal state already holds.
func (s *Service) Release(ctx context.Context, projectID, token string) error {
	if projectID == "" || token == "" {
		return ErrInvalidInput
	}

	lock, err := s.GetLock(ctx, projectID)
	if err != nil {
		return err
	}
	if lock == nil {
		return nil
	}
	if lock.Token != token {
		return ErrLockLost
	}

	if err := s.locks.Delete(ctx, projectID); err != nil && !errors.Is(err, repoerr.ErrNotFound) {
		return fmt.Errorf("releasing lock for %s: %w", projectID, err)
	}
	return nil
}

// ReleaseByOwner bulk-releases every lock held by the agent, optionally
// narrowed to one session. Used on session teardown so a crashed or
// disconnected agent does not hold projects hostage until natural expiry.
// Returns the project IDs that were released.
func (s *Service) ReleaseByOwner(ctx context.Context, ownerAgentID, ownerSessionID string) ([]string, error) {
	if ownerAgentID == "" {
		return nil, ErrInvalidInput
	}
	released, err := s.locks.DeleteByOwner(ctx, ownerAgentID, ownerSessionID)
	if err != nil {
		return nil, fmt.Errorf("releasing locks for %s: %w", ownerAgentID, err)
	}
	return released, nil
}

func (s *Service) ensureProject(ctx context.Context, tenantID, projectID string) error {
	scope := projectdoc.Scope{TenantID: tenantID, ProjectID: projectID}
	// Insert-if-absent; a false result just means the project already exists.
	if _, err := s.projects.SaveIfRevision(ctx, projectdoc.Placeholder(scope, s.now()), nil); err != nil {
		return fmt.Errorf("ensuring project %s: %w", scope, err)
	}
	return nil
}
