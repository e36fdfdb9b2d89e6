// Package stream serves per-project activity as Server-Sent Events.
// Subscribers resume from a cursor; delivery between reconnects is covered
// by the append-only log, so no fan-out state survives a disconnect.
package stream

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/armature-studio/armature/internal/coordinator"
	"github.com/armature-studio/armature/internal/domain/projectdoc"
	"github.com/armature-studio/armature/internal/repository"
)

var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

// Synthesized event names. Snapshot carries the current document when a
// subscriber's cursor is already caught up; streamUnavailable is terminal
// and tells the subscriber not to reconnect.
const (
	snapshotEvent          = "snapshot"
	streamUnavailableEvent = "stream_unavailable"
)

type snapshotPayload struct {
	Revision string `json:"revision"`
	State    any    `json:"state"`
}

// Handler streams a project's event log over SSE.
type Handler struct {
	coord     *coordinator.Coordinator
	poll      time.Duration
	keepalive time.Duration
	logger    *slog.Logger
}

func NewHandler(coord *coordinator.Coordinator, poll, keepalive time.Duration, logger *slog.Logger) *Handler {
	if poll <= 0 {
		poll = time.Second
	}
	if keepalive <= 0 {
		keepalive = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{coord: coord, poll: poll, keepalive: keepalive, logger: logger}
}

// Serve subscribes the request to the project's stream. The cursor comes
// from the lastEventId query parameter; a Last-Event-Id header set by the
// browser's automatic SSE reconnect takes precedence over it.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request, scope projectdoc.Scope) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	cursor := parseCursor(r)

	rec, err := h.coord.GetProject(r.Context(), scope)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "project_load_failed")
		return
	}
	if err != nil {
		h.logger.Error("loading project for stream", "scope", scope.String(), "error", err)
		writeJSONError(w, http.StatusInternalServerError, "project_load_failed")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	pending, err := h.coord.EventsSince(r.Context(), scope.ProjectID, cursor)
	if err != nil {
		h.logger.Error("reading events", "scope", scope.String(), "error", err)
		return
	}
	if len(pending) == 0 {
		// Caught up: hand the subscriber the current document so it can
		// render immediately. The snapshot occupies the seq one past the
		// cursor without consuming it.
		if err := h.writeSnapshot(w, cursor+1, rec); err != nil {
			return
		}
	} else {
		for _, ev := range pending {
			if err := writeEvent(w, ev.Seq, ev.Name, ev.Data); err != nil {
				return
			}
			cursor = ev.Seq
		}
	}
	flusher.Flush()

	pollTicker := time.NewTicker(h.poll)
	defer pollTicker.Stop()
	keepaliveTicker := time.NewTicker(h.keepalive)
	defer keepaliveTicker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return

		case <-keepaliveTicker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case <-pollTicker.C:
			events, err := h.coord.EventsSince(ctx, scope.ProjectID, cursor)
			if err != nil {
				h.logger.Error("polling events", "scope", scope.String(), "error", err)
				continue
			}
			for _, ev := range events {
				if err := writeEvent(w, ev.Seq, ev.Name, ev.Data); err != nil {
					return
				}
				cursor = ev.Seq
			}
			if len(events) > 0 {
				flusher.Flush()
				continue
			}

			// A silent poll may mean the project was deleted out from under
			// the stream. Report that as terminal rather than hanging.
			if _, err := h.coord.GetProject(ctx, scope); errors.Is(err, repository.ErrNotFound) {
				_ = writeEvent(w, cursor+1, streamUnavailableEvent, nil)
				flusher.Flush()
				return
			}
		}
	}
}

func parseCursor(r *http.Request) int64 {
	raw := r.URL.Query().Get("lastEventId")
	if header := r.Header.Get("Last-Event-Id"); header != "" {
		raw = header
	}
	cursor, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || cursor < 0 {
		return 0
	}
	return cursor
}

func (h *Handler) writeSnapshot(w http.ResponseWriter, seq int64, rec *projectdoc.Record) error {
	payload := snapshotPayload{Revision: rec.Revision}
	if len(rec.State) > 0 {
		payload.State = jsoniter.RawMessage(rec.State)
	}
	data, err := jsonCodec.Marshal(payload)
	if err != nil {
		return err
	}
	return writeEvent(w, seq, snapshotEvent, data)
}

func writeEvent(w http.ResponseWriter, seq int64, name string, data []byte) error {
	if len(data) == 0 {
		data = []byte("{}")
	}
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", seq, name, data)
	return err
}

func writeJSONError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":%q}`, code)
}
