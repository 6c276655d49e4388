package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/memgate/internal/storage/sqlite"
	"github.com/scrypster/memgate/web/handlers"
)

func newRulesMux(t *testing.T) *http.ServeMux {
	t.Helper()

	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	mux := http.NewServeMux()
	handlers.NewRuleHandlers(store).RegisterRoutes(mux)
	return mux
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestCreateAndListRules(t *testing.T) {
	mux := newRulesMux(t)

	w := doJSON(t, mux, "POST", "/api/rules", map[string]string{
		"subject_type": "app",
		"subject_id":   "spy-tool",
		"object_type":  "memory",
		"effect":       "deny",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	created := decodeBody(t, w)
	assert.NotEmpty(t, created["id"])

	// Wildcard-subject rules match every subject id.
	w = doJSON(t, mux, "POST", "/api/rules", map[string]string{
		"subject_type": "app",
		"object_type":  "memory",
		"effect":       "allow",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, mux, "GET", "/api/rules?subject_type=app&subject_id=spy-tool", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), decodeBody(t, w)["total"])

	w = doJSON(t, mux, "GET", "/api/rules?subject_type=app&subject_id=other-app", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decodeBody(t, w)["total"])
}

func TestCreateRuleValidation(t *testing.T) {
	mux := newRulesMux(t)

	w := doJSON(t, mux, "POST", "/api/rules", map[string]string{
		"subject_type": "app",
		"object_type":  "memory",
		"effect":       "maybe",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, mux, "POST", "/api/rules", map[string]string{
		"effect": "allow",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListRulesRequiresSubjectType(t *testing.T) {
	mux := newRulesMux(t)

	w := doJSON(t, mux, "GET", "/api/rules", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteRule(t *testing.T) {
	mux := newRulesMux(t)

	w := doJSON(t, mux, "POST", "/api/rules", map[string]string{
		"subject_type": "app",
		"subject_id":   "spy-tool",
		"object_type":  "memory",
		"effect":       "deny",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	id := decodeBody(t, w)["id"].(string)

	w = doJSON(t, mux, "DELETE", "/api/rules/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, mux, "DELETE", "/api/rules/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
