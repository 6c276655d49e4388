package handlers

import (
	"net/http"

	"github.com/scrypster/memgate/internal/audit"
)

// ConsistencyHandlers contains HTTP handlers for dual-store
// consistency reports.
type ConsistencyHandlers struct {
	auditor *audit.Auditor
}

// NewConsistencyHandlers creates a new ConsistencyHandlers instance.
func NewConsistencyHandlers(auditor *audit.Auditor) *ConsistencyHandlers {
	return &ConsistencyHandlers{auditor: auditor}
}

// RegisterRoutes mounts the consistency endpoints on a mux.
func (h *ConsistencyHandlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/consistency", h.Check)
}

// Check handles GET /api/consistency - run an on-demand audit. With
// user_id the report covers one owner, without it every owner with
// live records.
func (h *ConsistencyHandlers) Check(w http.ResponseWriter, r *http.Request) {
	if userID := r.URL.Query().Get("user_id"); userID != "" {
		report, err := h.auditor.CheckUser(r.Context(), userID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "consistency check failed", err)
			return
		}
		respondJSON(w, http.StatusOK, report)
		return
	}

	reports, err := h.auditor.CheckAll(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "consistency check failed", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"reports": reports})
}
