// Package transport serves the dashboard-facing HTTP API: job submission and
// history, plus the project event stream. Agents use the MCP surface instead.
package transport

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/armature-studio/armature/internal/coordinator"
	"github.com/armature-studio/armature/internal/domain/job"
	"github.com/armature-studio/armature/internal/domain/projectdoc"
	"github.com/armature-studio/armature/internal/stream"
)

// Server wires HTTP handlers.
type Server struct {
	coord  *coordinator.Coordinator
	events *stream.Handler
	logger *slog.Logger
}

// NewRouter creates the HTTP router with middleware.
func NewRouter(coord *coordinator.Coordinator, events *stream.Handler, authMiddleware func(http.Handler) http.Handler, logger *slog.Logger) *chi.Mux {
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{coord: coord, events: events, logger: logger}

	r := chi.NewRouter()
	r.Get("/health", srv.handleHealth)

	r.Route("/api", func(r chi.Router) {
		if authMiddleware != nil {
			r.Use(authMiddleware)
		}
		r.Post("/projects/{projectID}/jobs", srv.handleSubmitJob)
		r.Get("/projects/{projectID}/jobs", srv.handleListJobs)
		r.Get("/projects/{projectID}/events", srv.handleEvents)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) scope(r *http.Request) (projectdoc.Scope, bool) {
	tenantID, ok := TenantFromContext(r.Context())
	if !ok || tenantID == "" {
		return projectdoc.Scope{}, false
	}
	return projectdoc.Scope{
		TenantID:  tenantID,
		ProjectID: chi.URLParam(r, "projectID"),
	}, true
}

type submitJobRequest struct {
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	MaxAttempts int             `json:"max_attempts,omitempty"`
	LeaseMs     int64           `json:"lease_ms,omitempty"`
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	scope, ok := s.scope(r)
	if !ok {
		http.Error(w, "missing tenant", http.StatusUnauthorized)
		return
	}

	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	j, err := s.coord.SubmitJob(r.Context(), scope.TenantID, scope.ProjectID, req.Kind, req.Payload, req.MaxAttempts, req.LeaseMs)
	if errors.Is(err, job.ErrInvalidInput) {
		writeError(w, http.StatusBadRequest, "kind is required")
		return
	}
	if err != nil {
		s.logger.Error("submitting job", "scope", scope.String(), "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusAccepted, j)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	scope, ok := s.scope(r)
	if !ok {
		http.Error(w, "missing tenant", http.StatusUnauthorized)
		return
	}

	jobs, err := s.coord.ListProjectJobs(r.Context(), scope.ProjectID)
	if err != nil {
		s.logger.Error("listing jobs", "scope", scope.String(), "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if jobs == nil {
		jobs = []job.Job{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	scope, ok := s.scope(r)
	if !ok {
		http.Error(w, "missing tenant", http.StatusUnauthorized)
		return
	}
	s.events.Serve(w, r, scope)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
