package mcp

import (
	"errors"
	"fmt"
	"time"

	"github.com/armature-studio/armature/internal/coordinator"
	"github.com/armature-studio/armature/internal/domain/checkout"
	"github.com/armature-studio/armature/internal/domain/job"
	"github.com/armature-studio/armature/internal/repository"
)

// APIError is the structured error surface agents see. RecoveryHint tells a
// tool-calling agent what to do next instead of blindly retrying.
type APIError struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	Details      any    `json:"details,omitempty"`
	RecoveryHint string `json:"recovery_hint,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

type lockConflictDetails struct {
	OwnerAgentID string    `json:"owner_agent_id"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// MapError maps domain errors to MCP error codes. Returns nil for errors
// with no mapping; those surface as generic internal errors.
func MapError(err error) *APIError {
	if err == nil {
		return nil
	}

	var held *checkout.HeldError
	if errors.As(err, &held) {
		return &APIError{
			Code:    "LOCK_CONFLICT",
			Message: fmt.Sprintf("project is checked out by %s", held.OwnerAgentID),
			Details: lockConflictDetails{
				OwnerAgentID: held.OwnerAgentID,
				ExpiresAt:    held.ExpiresAt,
			},
			RecoveryHint: "Wait for the checkout to expire or coordinate with the owner",
		}
	}

	switch {
	case errors.Is(err, checkout.ErrLockHeld):
		return &APIError{Code: "LOCK_CONFLICT", Message: "project is checked out by another agent", RecoveryHint: "Wait for the checkout to expire"}
	case errors.Is(err, checkout.ErrLockLost):
		return &APIError{Code: "LOCK_LOST", Message: "checkout token no longer matches", RecoveryHint: "Re-acquire the checkout before continuing"}
	case errors.Is(err, coordinator.ErrConflict):
		return &APIError{Code: "CONFLICT", Message: "project was modified concurrently", RecoveryHint: "Reload the project and re-apply your change"}
	case errors.Is(err, repository.ErrLeaseTimeout):
		return &APIError{Code: "LEASE_TIMEOUT", Message: "storage contention, nothing was written", RecoveryHint: "Retry the operation"}
	case errors.Is(err, job.ErrJobNotFound), errors.Is(err, repository.ErrNotFound):
		return &APIError{Code: "NOT_FOUND", Message: "not found", RecoveryHint: "Check the ID"}
	case errors.Is(err, job.ErrStaleClaim):
		return &APIError{Code: "STALE_CLAIM", Message: "job was reclaimed by another worker", RecoveryHint: "Discard this claim"}
	case errors.Is(err, checkout.ErrInvalidInput), errors.Is(err, job.ErrInvalidInput):
		return &APIError{Code: "INVALID_INPUT", Message: err.Error()}
	default:
		return nil
	}
}

// toolError converts any error into the agent-facing form.
func toolError(err error) error {
	if apiErr := MapError(err); apiErr != nil {
		return apiErr
	}
	return err
}
