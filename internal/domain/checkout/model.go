package checkout

import "time"

// ModeMCP marks locks claimed by tool-calling agents. It is the only mode the
// server issues today; the column exists so dashboard-held locks can be told
// apart later.
const ModeMCP = "mcp"

// Lock is an advisory editing-session claim on a project. At most one
// non-expired lock exists per project. The token is a capability: renew and
// release require presenting it.
type Lock struct {
	ProjectID      string    `json:"project_id"`
	OwnerAgentID   string    `json:"owner_agent_id"`
	OwnerSessionID string    `json:"owner_session_id,omitempty"`
	Token          string    `json:"token"`
	Mode           string    `json:"mode"`
	AcquiredAt     time.Time `json:"acquired_at"`
	HeartbeatAt    time.Time `json:"heartbeat_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// IsLive reports whether the lock is still in force at the given instant.
// Expiry is evaluated lazily: every read path goes through this one function
// so expiry semantics cannot diverge across call sites.
func IsLive(l *Lock, now time.Time) bool {
	return l != nil && now.Before(l.ExpiresAt)
}
