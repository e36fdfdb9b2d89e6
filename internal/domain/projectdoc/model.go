// Package projectdoc holds the shared per-project document record. The
// document body is opaque to this server; revisions are compared for exact
// equality only, never interpreted or ordered.
package projectdoc

import "time"

// Scope identifies a project record within a tenant.
type Scope struct {
	TenantID  string `json:"tenant_id"`
	ProjectID string `json:"project_id"`
}

func (s Scope) String() string {
	return s.TenantID + "/" + s.ProjectID
}

// Record is the durable project document. State carries the serialized scene
// as produced by the editing client.
type Record struct {
	Scope     Scope     `json:"scope"`
	Revision  string    `json:"revision"`
	State     []byte    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Placeholder returns the shell record written when an operation references a
// project that does not exist yet.
func Placeholder(scope Scope, now time.Time) *Record {
	return &Record{
		Scope:     scope,
		Revision:  "0",
		State:     []byte("{}"),
		CreatedAt: now,
		UpdatedAt: now,
	}
}
