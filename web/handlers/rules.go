package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/scrypster/memgate/internal/storage"
	"github.com/scrypster/memgate/pkg/types"
)

// RuleHandlers contains HTTP handlers for access-control rules.
type RuleHandlers struct {
	store storage.AccessRuleStore
}

// NewRuleHandlers creates a new RuleHandlers instance.
func NewRuleHandlers(store storage.AccessRuleStore) *RuleHandlers {
	return &RuleHandlers{store: store}
}

// RegisterRoutes mounts the rule endpoints on a mux.
func (h *RuleHandlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/rules", h.ListRules)
	mux.HandleFunc("POST /api/rules", h.CreateRule)
	mux.HandleFunc("DELETE /api/rules/{id}", h.DeleteRule)
}

// CreateRuleRequest is the request body for creating an access rule.
type CreateRuleRequest struct {
	SubjectType string           `json:"subject_type"`
	SubjectID   string           `json:"subject_id,omitempty"`
	ObjectType  string           `json:"object_type"`
	ObjectID    string           `json:"object_id,omitempty"`
	Effect      types.RuleEffect `json:"effect"`
}

// CreateRule handles POST /api/rules.
func (h *RuleHandlers) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}
	if req.SubjectType == "" || req.ObjectType == "" {
		respondError(w, http.StatusBadRequest, "subject_type and object_type are required", nil)
		return
	}
	if req.Effect != types.EffectAllow && req.Effect != types.EffectDeny {
		respondError(w, http.StatusBadRequest, "effect must be allow or deny", nil)
		return
	}

	rule := &types.AccessRule{
		SubjectType: req.SubjectType,
		SubjectID:   req.SubjectID,
		ObjectType:  req.ObjectType,
		ObjectID:    req.ObjectID,
		Effect:      req.Effect,
	}
	if err := h.store.CreateRule(r.Context(), rule); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create rule", err)
		return
	}
	respondJSON(w, http.StatusCreated, rule)
}

// ListRules handles GET /api/rules - rules matching a subject,
// including wildcard rules.
func (h *RuleHandlers) ListRules(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	subjectType := q.Get("subject_type")
	if subjectType == "" {
		respondError(w, http.StatusBadRequest, "subject_type is required", nil)
		return
	}

	rules, err := h.store.RulesForSubject(r.Context(), subjectType, q.Get("subject_id"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list rules", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"rules": rules, "total": len(rules)})
}

// DeleteRule handles DELETE /api/rules/{id}.
func (h *RuleHandlers) DeleteRule(w http.ResponseWriter, r *http.Request) {
	id := extractID(r, "id")
	if err := h.store.DeleteRule(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "rule not found", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to delete rule", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
