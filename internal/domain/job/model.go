package job

import (
	"encoding/json"
	"time"
)

// Status represents the lifecycle status of a job
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is one unit of asynchronous work against a project (glTF export,
// texture bake, ...). Jobs are created by submit, mutated by claim, complete
// and fail, and never physically deleted except by project cascade.
type Job struct {
	ID             string          `json:"id"`
	ProjectID      string          `json:"project_id"`
	Kind           string          `json:"kind"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Status         Status          `json:"status"`
	Attempts       int             `json:"attempts"`
	MaxAttempts    int             `json:"max_attempts"`
	LeaseMs        int64           `json:"lease_ms"`
	WorkerID       string          `json:"worker_id,omitempty"`
	ClaimToken     string          `json:"-"`
	LeaseExpiresAt *time.Time      `json:"lease_expires_at,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          string          `json:"error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// LeaseDuration returns the claim lease as a duration.
func (j *Job) LeaseDuration() time.Duration {
	return time.Duration(j.LeaseMs) * time.Millisecond
}
