package checkout

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrLockHeld indicates a non-expired lock owned by someone else exists.
	ErrLockHeld = errors.New("checkout lock held")
	// ErrLockLost indicates the presented token no longer matches the current
	// lock. The caller has been dispossessed; treat as already released.
	ErrLockLost = errors.New("checkout lock lost")
	// ErrInvalidInput indicates invalid checkout input.
	ErrInvalidInput = errors.New("invalid checkout input")
)

// HeldError carries the current owner so the dashboard can show who is
// editing. It matches ErrLockHeld under errors.Is.
type HeldError struct {
	OwnerAgentID string
	ExpiresAt    time.Time
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("checkout lock held by %s until %s", e.OwnerAgentID, e.ExpiresAt.Format(time.RFC3339))
}

func (e *HeldError) Is(target error) bool {
	return target == ErrLockHeld
}
