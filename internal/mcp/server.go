// Package mcp exposes the coordination layer to tool-calling agents over the
// Model Context Protocol. Agents check projects out, save revisions and run
// jobs through these tools; dashboard viewers use the HTTP surface instead.
package mcp

import (
	"log/slog"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/armature-studio/armature/internal/coordinator"
)

const serverInstructions = `Armature coordinates a shared 3D scene document per project.
Check a project out before editing (checkout_project), renew the checkout while
working (renew_checkout), and release it when done (release_checkout or
end_session). Saves are revision-guarded: pass the revision you last read as
expected_revision, and on CONFLICT reload the project and re-apply your change.
Long-running work goes through submit_job; watch it with get_job.`

// Config contains server configuration.
type Config struct {
	Coordinator   *coordinator.Coordinator
	Resolver      TenantResolver
	AuthEnabled   bool
	TransportMode string // "stdio" or "http"
	CheckoutTTL   time.Duration
	Logger        *slog.Logger
}

// NewServer creates and configures an MCP server with all tools and
// middleware.
func NewServer(cfg Config) *sdkmcp.Server {
	server := sdkmcp.NewServer(&sdkmcp.Implementation{
		Name:    "armature",
		Version: "0.1.0",
	}, &sdkmcp.ServerOptions{
		Instructions: serverInstructions,
		Logger:       cfg.Logger,
	})

	// Stdio is local dev only and never authenticates.
	if cfg.TransportMode == "stdio" || !cfg.AuthEnabled {
		server.AddReceivingMiddleware(noAuthMiddleware("default"))
	} else {
		server.AddReceivingMiddleware(authMiddleware(cfg.Resolver))
	}
	server.AddReceivingMiddleware(sessionMiddleware())
	server.AddReceivingMiddleware(trafficLoggingMiddleware(cfg.Logger, "inbound"))
	server.AddSendingMiddleware(trafficLoggingMiddleware(cfg.Logger, "outbound"))

	registerTools(server, cfg)

	return server
}
