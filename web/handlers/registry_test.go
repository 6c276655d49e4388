package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/memgate/internal/registry"
	"github.com/scrypster/memgate/internal/storage/sqlite"
	"github.com/scrypster/memgate/pkg/types"
	"github.com/scrypster/memgate/web/handlers"
)

type registryFixture struct {
	store   *sqlite.Store
	service *registry.Service
	mux     *http.ServeMux
}

func newRegistryFixture(t *testing.T) *registryFixture {
	t.Helper()

	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	service, err := registry.NewService(store)
	require.NoError(t, err)

	mux := http.NewServeMux()
	handlers.NewRegistryHandlers(service, store).RegisterRoutes(mux)

	return &registryFixture{store: store, service: service, mux: mux}
}

func (f *registryFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)
	return w
}

func (f *registryFixture) seedEntry(t *testing.T, identifier string, status types.RegistryStatus) *types.ClientRegistryEntry {
	t.Helper()

	entry := &types.ClientRegistryEntry{
		Identifier: identifier,
		ClientType: identifier,
		Status:     status,
	}
	require.NoError(t, f.store.CreateEntry(context.Background(), entry))
	return entry
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &parsed))
	return parsed
}

func TestCreateClient(t *testing.T) {
	f := newRegistryFixture(t)

	w := f.do(t, "POST", "/api/clients", map[string]string{
		"client_identifier": "cursor",
		"client_type":       "cursor",
		"model_name":        "gpt-4o",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, "cursor", body["client_identifier"])
	assert.Equal(t, "approved", body["status"])
	assert.NotEmpty(t, body["id"])
}

func TestCreateClientDuplicateConflict(t *testing.T) {
	f := newRegistryFixture(t)
	f.seedEntry(t, "cursor", types.StatusApproved)

	w := f.do(t, "POST", "/api/clients", map[string]string{
		"client_identifier": "cursor",
		"client_type":       "cursor",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCreateClientMissingFields(t *testing.T) {
	f := newRegistryFixture(t)

	w := f.do(t, "POST", "/api/clients", map[string]string{"client_type": "cursor"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListClientsFiltersByStatus(t *testing.T) {
	f := newRegistryFixture(t)
	f.seedEntry(t, "claude-code", types.StatusApproved)
	f.seedEntry(t, "mystery-agent", types.StatusPending)
	f.seedEntry(t, "spy-tool", types.StatusBlocked)

	w := f.do(t, "GET", "/api/clients?status=pending", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, float64(1), body["total"])

	w = f.do(t, "GET", "/api/clients", nil)
	body = decodeBody(t, w)
	assert.Equal(t, float64(3), body["total"])
}

func TestListClientsRejectsBadStatus(t *testing.T) {
	f := newRegistryFixture(t)

	w := f.do(t, "GET", "/api/clients?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetClientNotFound(t *testing.T) {
	f := newRegistryFixture(t)

	w := f.do(t, "GET", "/api/clients/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateClientFields(t *testing.T) {
	f := newRegistryFixture(t)
	entry := f.seedEntry(t, "claude-code", types.StatusApproved)

	w := f.do(t, "PUT", "/api/clients/"+entry.ID, map[string]string{
		"model_name": "claude-sonnet-4",
	})
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, "claude-sonnet-4", body["model_name"])
	assert.Equal(t, "approved", body["status"])
}

func TestApproveAndBlockClient(t *testing.T) {
	f := newRegistryFixture(t)
	entry := f.seedEntry(t, "claude-code", types.StatusApproved)

	w := f.do(t, "POST", "/api/clients/"+entry.ID+"/block", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "blocked", decodeBody(t, w)["status"])

	// Unblocking is an admin override back to approved.
	w = f.do(t, "POST", "/api/clients/"+entry.ID+"/approve", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "approved", decodeBody(t, w)["status"])
}

func TestBlockIsIdempotent(t *testing.T) {
	f := newRegistryFixture(t)
	entry := f.seedEntry(t, "claude-code", types.StatusBlocked)

	w := f.do(t, "POST", "/api/clients/"+entry.ID+"/block", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "blocked", decodeBody(t, w)["status"])
}

func TestDeleteClient(t *testing.T) {
	f := newRegistryFixture(t)
	entry := f.seedEntry(t, "claude-code", types.StatusApproved)

	w := f.do(t, "DELETE", "/api/clients/"+entry.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, "GET", "/api/clients/"+entry.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestQuarantineListAndApprove(t *testing.T) {
	f := newRegistryFixture(t)
	f.seedEntry(t, "claude-code", types.StatusApproved)
	pending := f.seedEntry(t, "mystery-agent", types.StatusPending)
	unknown := f.seedEntry(t, "stranger", types.StatusUnknown)

	w := f.do(t, "GET", "/api/quarantine", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), decodeBody(t, w)["total"])

	// Approve with an identity correction.
	w = f.do(t, "POST", "/api/quarantine/"+pending.ID+"/approve", map[string]string{
		"client_type": "cursor",
		"model_name":  "gpt-4o",
	})
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "approved", body["status"])
	assert.Equal(t, "cursor", body["client_type"])
	assert.Equal(t, "gpt-4o", body["model_name"])
	metadata := body["metadata"].(map[string]interface{})
	assert.Equal(t, true, metadata["manually_approved"])

	// Approve without a correction keeps detected values.
	w = f.do(t, "POST", "/api/quarantine/"+unknown.ID+"/approve", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "stranger", decodeBody(t, w)["client_type"])
}

func TestQuarantineBlockRecordsReason(t *testing.T) {
	f := newRegistryFixture(t)
	pending := f.seedEntry(t, "mystery-agent", types.StatusPending)

	w := f.do(t, "POST", "/api/quarantine/"+pending.ID+"/block", map[string]string{
		"reason": "unrecognized user agent",
	})
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, "blocked", body["status"])
	metadata := body["metadata"].(map[string]interface{})
	assert.Equal(t, "unrecognized user agent", metadata["blocked_reason"])
	assert.NotEmpty(t, metadata["blocked_at"])
}

func TestQuarantineReviewRejectsReviewedEntry(t *testing.T) {
	f := newRegistryFixture(t)
	approved := f.seedEntry(t, "claude-code", types.StatusApproved)

	w := f.do(t, "POST", "/api/quarantine/"+approved.ID+"/approve", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestBulkReview(t *testing.T) {
	f := newRegistryFixture(t)
	a := f.seedEntry(t, "agent-a", types.StatusPending)
	b := f.seedEntry(t, "agent-b", types.StatusUnknown)
	reviewed := f.seedEntry(t, "claude-code", types.StatusApproved)

	w := f.do(t, "POST", "/api/clients/bulk-review", map[string]interface{}{
		"ids":     []string{a.ID, b.ID, reviewed.ID},
		"approve": true,
	})
	require.Equal(t, http.StatusOK, w.Code)

	results := decodeBody(t, w)["results"].([]interface{})
	require.Len(t, results, 3)
	assert.True(t, results[0].(map[string]interface{})["ok"].(bool))
	assert.True(t, results[1].(map[string]interface{})["ok"].(bool))
	// Already reviewed entries fail individually without aborting the batch.
	assert.False(t, results[2].(map[string]interface{})["ok"].(bool))
}

func TestQuarantineStats(t *testing.T) {
	f := newRegistryFixture(t)
	f.seedEntry(t, "claude-code", types.StatusApproved)
	f.seedEntry(t, "mystery-agent", types.StatusPending)
	f.seedEntry(t, "stranger", types.StatusUnknown)
	f.seedEntry(t, "spy-tool", types.StatusBlocked)

	w := f.do(t, "GET", "/api/quarantine/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, float64(1), body["pending"])
	assert.Equal(t, float64(1), body["unknown"])
	assert.Equal(t, float64(1), body["approved"])
	assert.Equal(t, float64(1), body["blocked"])
}
