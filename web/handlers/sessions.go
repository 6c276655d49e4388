package handlers

import (
	"net/http"
	"time"

	"github.com/scrypster/memgate/internal/session"
	"github.com/scrypster/memgate/internal/storage"
)

// SessionHandlers contains HTTP handlers for session inspection.
type SessionHandlers struct {
	tracker *session.Tracker
}

// NewSessionHandlers creates a new SessionHandlers instance.
func NewSessionHandlers(tracker *session.Tracker) *SessionHandlers {
	return &SessionHandlers{tracker: tracker}
}

// RegisterRoutes mounts the session endpoints on a mux.
func (h *SessionHandlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/sessions", h.ListSessions)
	mux.HandleFunc("DELETE /api/sessions/{token}", h.EndSession)
}

// ListSessions handles GET /api/sessions - list client sessions with
// registry/user/active filters.
func (h *SessionHandlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := storage.SessionListOptions{
		Page:       parseInt(q.Get("page"), 1),
		Limit:      parseInt(q.Get("limit"), 20),
		RegistryID: q.Get("registry_id"),
		UserID:     q.Get("user_id"),
		ActiveOnly: q.Get("active") == "true",
	}
	if after := q.Get("started_after"); after != "" {
		ts, err := time.Parse(time.RFC3339, after)
		if err != nil {
			respondError(w, http.StatusBadRequest, "started_after must be RFC 3339", err)
			return
		}
		opts.StartedAfter = ts
	}

	result, err := h.tracker.List(r.Context(), opts)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list sessions", err)
		return
	}
	respondJSON(w, http.StatusOK, toListResponse(result))
}

// EndSession handles DELETE /api/sessions/{token} - force-close a
// session that a client left dangling.
func (h *SessionHandlers) EndSession(w http.ResponseWriter, r *http.Request) {
	token := extractID(r, "token")
	if err := h.tracker.End(r.Context(), token); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to end session", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ended"})
}
