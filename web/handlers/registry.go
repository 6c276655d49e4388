package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/scrypster/memgate/internal/registry"
	"github.com/scrypster/memgate/internal/storage"
	"github.com/scrypster/memgate/pkg/types"
)

// RegistryHandlers contains HTTP handlers for the client registry and
// quarantine review surface.
type RegistryHandlers struct {
	service *registry.Service
	store   storage.RegistryStore
}

// NewRegistryHandlers creates a new RegistryHandlers instance. The
// store is used for the raw create/update admin paths; all status
// changes go through the service so the trust state machine is
// enforced in one place.
func NewRegistryHandlers(service *registry.Service, store storage.RegistryStore) *RegistryHandlers {
	return &RegistryHandlers{service: service, store: store}
}

// RegisterRoutes mounts the registry endpoints on a mux.
func (h *RegistryHandlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/clients", h.ListClients)
	mux.HandleFunc("POST /api/clients", h.CreateClient)
	mux.HandleFunc("GET /api/clients/{id}", h.GetClient)
	mux.HandleFunc("PUT /api/clients/{id}", h.UpdateClient)
	mux.HandleFunc("DELETE /api/clients/{id}", h.DeleteClient)
	mux.HandleFunc("POST /api/clients/{id}/approve", h.ApproveClient)
	mux.HandleFunc("POST /api/clients/{id}/block", h.BlockClient)
	mux.HandleFunc("POST /api/clients/bulk-review", h.BulkReview)
	mux.HandleFunc("GET /api/quarantine", h.ListQuarantined)
	mux.HandleFunc("POST /api/quarantine/{id}/approve", h.ApproveQuarantined)
	mux.HandleFunc("POST /api/quarantine/{id}/block", h.BlockQuarantined)
	mux.HandleFunc("GET /api/quarantine/stats", h.QuarantineStats)
}

// ListClients handles GET /api/clients - list registry entries with
// pagination and status/type/model filters.
func (h *RegistryHandlers) ListClients(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := storage.RegistryListOptions{
		Page:            parseInt(q.Get("page"), 1),
		Limit:           parseInt(q.Get("limit"), 20),
		Status:          types.RegistryStatus(q.Get("status")),
		ClientType:      q.Get("client_type"),
		ModelName:       q.Get("model_name"),
		QuarantinedOnly: q.Get("quarantined") == "true",
	}
	if opts.Status != "" && !types.IsValidRegistryStatus(opts.Status) {
		respondError(w, http.StatusBadRequest, "invalid status filter", nil)
		return
	}

	result, err := h.service.List(r.Context(), opts)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list clients", err)
		return
	}
	respondJSON(w, http.StatusOK, toListResponse(result))
}

// GetClient handles GET /api/clients/{id}.
func (h *RegistryHandlers) GetClient(w http.ResponseWriter, r *http.Request) {
	id := extractID(r, "id")
	entry, err := h.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "client not found", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to get client", err)
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

// CreateClientRequest is the request body for manually registering a
// client ahead of its first connection.
type CreateClientRequest struct {
	Identifier      string                 `json:"client_identifier"`
	ClientType      string                 `json:"client_type"`
	ModelName       string                 `json:"model_name,omitempty"`
	ClientVersion   string                 `json:"client_version,omitempty"`
	EndpointPattern string                 `json:"endpoint_pattern,omitempty"`
	Status          types.RegistryStatus   `json:"status,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// CreateClient handles POST /api/clients - pre-register a client.
func (h *RegistryHandlers) CreateClient(w http.ResponseWriter, r *http.Request) {
	var req CreateClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}
	if req.Identifier == "" {
		respondError(w, http.StatusBadRequest, "client_identifier is required", nil)
		return
	}
	if req.ClientType == "" {
		respondError(w, http.StatusBadRequest, "client_type is required", nil)
		return
	}
	status := req.Status
	if status == "" {
		status = types.StatusApproved
	}
	if !types.IsValidRegistryStatus(status) {
		respondError(w, http.StatusBadRequest, "invalid status", nil)
		return
	}

	entry := &types.ClientRegistryEntry{
		Identifier:      req.Identifier,
		ClientType:      req.ClientType,
		ModelName:       req.ModelName,
		ClientVersion:   req.ClientVersion,
		EndpointPattern: req.EndpointPattern,
		Status:          status,
		Metadata:        req.Metadata,
	}
	if err := h.store.CreateEntry(r.Context(), entry); err != nil {
		if errors.Is(err, storage.ErrDuplicateIdentifier) {
			respondError(w, http.StatusConflict, "client identifier already registered", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to create client", err)
		return
	}
	respondJSON(w, http.StatusCreated, entry)
}

// UpdateClientRequest is the request body for updating an entry's
// descriptive fields. Trust status is not updatable here; use the
// approve/block endpoints.
type UpdateClientRequest struct {
	ClientType      *string                `json:"client_type,omitempty"`
	ModelName       *string                `json:"model_name,omitempty"`
	ClientVersion   *string                `json:"client_version,omitempty"`
	EndpointPattern *string                `json:"endpoint_pattern,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// UpdateClient handles PUT /api/clients/{id}.
func (h *RegistryHandlers) UpdateClient(w http.ResponseWriter, r *http.Request) {
	id := extractID(r, "id")
	var req UpdateClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}

	entry, err := h.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "client not found", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to get client", err)
		return
	}

	if req.ClientType != nil {
		entry.ClientType = *req.ClientType
	}
	if req.ModelName != nil {
		entry.ModelName = *req.ModelName
	}
	if req.ClientVersion != nil {
		entry.ClientVersion = *req.ClientVersion
	}
	if req.EndpointPattern != nil {
		entry.EndpointPattern = *req.EndpointPattern
	}
	if req.Metadata != nil {
		entry.Metadata = req.Metadata
	}

	if err := h.store.UpdateEntry(r.Context(), entry); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to update client", err)
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

// DeleteClient handles DELETE /api/clients/{id}.
func (h *RegistryHandlers) DeleteClient(w http.ResponseWriter, r *http.Request) {
	id := extractID(r, "id")
	if err := h.service.Delete(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "client not found", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to delete client", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ApproveClient handles POST /api/clients/{id}/approve. Works from any
// status the state machine permits, including unblocking.
func (h *RegistryHandlers) ApproveClient(w http.ResponseWriter, r *http.Request) {
	h.statusChange(w, r, h.service.Approve)
}

// BlockClient handles POST /api/clients/{id}/block.
func (h *RegistryHandlers) BlockClient(w http.ResponseWriter, r *http.Request) {
	h.statusChange(w, r, h.service.Block)
}

func (h *RegistryHandlers) statusChange(w http.ResponseWriter, r *http.Request, change func(ctx context.Context, id string) (*types.ClientRegistryEntry, error)) {
	id := extractID(r, "id")
	entry, err := change(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			respondError(w, http.StatusNotFound, "client not found", err)
		case errors.Is(err, storage.ErrInvalidTransition):
			respondError(w, http.StatusConflict, "status change not permitted", err)
		default:
			respondError(w, http.StatusInternalServerError, "failed to change status", err)
		}
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

// BulkReviewRequest is the request body for reviewing multiple
// quarantined entries at once.
type BulkReviewRequest struct {
	IDs     []string `json:"ids"`
	Approve bool     `json:"approve"`
}

// BulkReview handles POST /api/clients/bulk-review.
func (h *RegistryHandlers) BulkReview(w http.ResponseWriter, r *http.Request) {
	var req BulkReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}
	if len(req.IDs) == 0 {
		respondError(w, http.StatusBadRequest, "ids is required", nil)
		return
	}

	results := h.service.BulkReview(r.Context(), req.IDs, req.Approve)
	respondJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

// ListQuarantined handles GET /api/quarantine - entries awaiting review.
func (h *RegistryHandlers) ListQuarantined(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := storage.RegistryListOptions{
		Page:  parseInt(q.Get("page"), 1),
		Limit: parseInt(q.Get("limit"), 20),
	}
	result, err := h.service.ListQuarantined(r.Context(), opts)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list quarantined clients", err)
		return
	}
	respondJSON(w, http.StatusOK, toListResponse(result))
}

// QuarantineReviewRequest is the request body for a quarantine verdict.
type QuarantineReviewRequest struct {
	ClientType string `json:"client_type,omitempty"` // approve: overwrite detected type
	ModelName  string `json:"model_name,omitempty"`  // approve: overwrite detected model
	Reason     string `json:"reason,omitempty"`      // block: recorded in metadata
}

// ApproveQuarantined handles POST /api/quarantine/{id}/approve.
func (h *RegistryHandlers) ApproveQuarantined(w http.ResponseWriter, r *http.Request) {
	id := extractID(r, "id")
	var req QuarantineReviewRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req) // body is optional
	}

	entry, err := h.service.ApproveQuarantinedAs(r.Context(), id, req.ClientType, req.ModelName)
	if err != nil {
		h.quarantineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

// BlockQuarantined handles POST /api/quarantine/{id}/block.
func (h *RegistryHandlers) BlockQuarantined(w http.ResponseWriter, r *http.Request) {
	id := extractID(r, "id")
	var req QuarantineReviewRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	entry, err := h.service.BlockQuarantinedFor(r.Context(), id, req.Reason)
	if err != nil {
		h.quarantineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

func (h *RegistryHandlers) quarantineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		respondError(w, http.StatusNotFound, "client not found", err)
	case errors.Is(err, storage.ErrNotQuarantined):
		respondError(w, http.StatusConflict, "client is not quarantined", err)
	default:
		respondError(w, http.StatusInternalServerError, "failed to review client", err)
	}
}

// QuarantineStats handles GET /api/quarantine/stats.
func (h *RegistryHandlers) QuarantineStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to compute stats", err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}
