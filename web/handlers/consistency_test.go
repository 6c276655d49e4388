package handlers_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/memgate/internal/audit"
	"github.com/scrypster/memgate/internal/storage/sqlite"
	"github.com/scrypster/memgate/pkg/types"
	"github.com/scrypster/memgate/web/handlers"
)

type staticIndex struct {
	ids map[string][]string
}

func (s *staticIndex) KnownIDs(_ context.Context, userID string) ([]string, error) {
	return s.ids[userID], nil
}

func newConsistencyFixture(t *testing.T, index audit.IndexLister) (*sqlite.Store, *http.ServeMux) {
	t.Helper()

	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	auditor := audit.NewAuditor(store, index, 10)
	mux := http.NewServeMux()
	handlers.NewConsistencyHandlers(auditor).RegisterRoutes(mux)
	return store, mux
}

func seedLiveRecord(t *testing.T, store *sqlite.Store, id, userID string) {
	t.Helper()
	rec := &types.MemoryRecord{
		ID: id, UserID: userID, AppID: "claude-code",
		Content: "something remembered", State: types.StateActive,
	}
	hist := &types.StatusHistory{MemoryID: id, ChangedBy: userID, NewState: types.StateActive}
	require.NoError(t, store.UpsertRecord(context.Background(), rec, hist))
}

func TestConsistencyCheckSingleUser(t *testing.T) {
	index := &staticIndex{ids: map[string][]string{"alice": {"mem-1", "ghost-1"}}}
	store, mux := newConsistencyFixture(t, index)
	seedLiveRecord(t, store, "mem-1", "alice")
	seedLiveRecord(t, store, "mem-2", "alice")

	req := httptest.NewRequest("GET", "/api/consistency?user_id=alice", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "alice", body["user_id"])
	assert.Equal(t, float64(1), body["in_both"])
	assert.Equal(t, float64(1), body["only_relational"])
	assert.Equal(t, float64(1), body["only_semantic"])
	assert.Contains(t, body["phantom_memory_ids"], "ghost-1")
	assert.Contains(t, body["orphaned_memory_ids"], "mem-2")
}

func TestConsistencyCheckAllUsers(t *testing.T) {
	index := &staticIndex{ids: map[string][]string{
		"alice": {"mem-1"},
		"bob":   {"mem-2"},
	}}
	store, mux := newConsistencyFixture(t, index)
	seedLiveRecord(t, store, "mem-1", "alice")
	seedLiveRecord(t, store, "mem-2", "bob")

	req := httptest.NewRequest("GET", "/api/consistency", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	reports := decodeBody(t, w)["reports"].([]interface{})
	require.Len(t, reports, 2)
	for _, r := range reports {
		report := r.(map[string]interface{})
		assert.Equal(t, float64(100), report["consistency_percentage"])
	}
}
