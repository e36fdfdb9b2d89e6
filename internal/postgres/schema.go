package postgres

import (
	"context"
	"fmt"
)

var ddl = []string{
	`CREATE TABLE IF NOT EXISTS projects (
	tenant_id TEXT NOT NULL,
	project_id TEXT NOT NULL,
	revision TEXT NOT NULL,
	state BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (tenant_id, project_id)
)`,
	`CREATE TABLE IF NOT EXISTS checkout_locks (
	project_id TEXT PRIMARY KEY,
	owner_agent_id TEXT NOT NULL,
	owner_session_id TEXT NOT NULL,
	token TEXT NOT NULL,
	mode TEXT NOT NULL,
	acquired_at TIMESTAMPTZ NOT NULL,
	heartbeat_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_checkout_locks_owner ON checkout_locks (owner_agent_id)`,
	`CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	payload JSONB,
	status TEXT NOT NULL CHECK (status IN ('queued', 'running', 'completed', 'failed')),
	attempts INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL,
	lease_ms BIGINT NOT NULL,
	worker_id TEXT NOT NULL DEFAULT '',
	claim_token TEXT NOT NULL DEFAULT '',
	lease_expires_at TIMESTAMPTZ,
	result JSONB,
	error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_project ON jobs (project_id)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_claim ON jobs (status, created_at)`,
	`CREATE TABLE IF NOT EXISTS project_events (
	project_id TEXT NOT NULL,
	seq BIGINT NOT NULL,
	name TEXT NOT NULL,
	data JSONB,
	at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (project_id, seq)
)`,
	`CREATE TABLE IF NOT EXISTS api_keys (
	key_hash TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	created_at TIMESTAMPTZ DEFAULT now(),
	last_used TIMESTAMPTZ,
	description TEXT
)`,
	`CREATE INDEX IF NOT EXISTS idx_api_keys_tenant ON api_keys (tenant_id)`,
}

// Migrate creates every table and index the adapter needs. All statements
// are idempotent so repeated startups are safe.
func (p *Pool) Migrate(ctx context.Context) error {
	for _, stmt := range ddl {
		if _, err := p.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: migrate: %w", err)
		}
	}
	return nil
}
