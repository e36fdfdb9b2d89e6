package event

import (
	"encoding/json"
	"time"
)

// Event is one entry in a project's append-only log. Seq starts at 1 and is
// strictly increasing per project; entries are never mutated or deleted
// except by project cascade.
type Event struct {
	ProjectID string          `json:"project_id"`
	Seq       int64           `json:"seq"`
	Name      string          `json:"event"`
	Data      json.RawMessage `json:"data,omitempty"`
	At        time.Time       `json:"at"`
}

// Event names appended by the coordinator.
const (
	ProjectSaved     = "project.saved"
	CheckoutAcquired = "checkout.acquired"
	CheckoutRenewed  = "checkout.renewed"
	CheckoutReleased = "checkout.released"
	JobSubmitted     = "job.submitted"
	JobStarted       = "job.started"
	JobCompleted     = "job.completed"
	JobFailed        = "job.failed"
)
