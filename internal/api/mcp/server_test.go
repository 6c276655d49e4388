package mcp_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/memgate/internal/api/mcp"
	"github.com/scrypster/memgate/internal/semantic"
	"github.com/scrypster/memgate/internal/storage/sqlite"
	"github.com/scrypster/memgate/pkg/types"
)

// stubEngine scripts the semantic engine's behavior for server tests.
type stubEngine struct {
	proposals  []types.MemoryOperation
	proposeErr error
	lastRaw    bool

	searchHits []semantic.Hit
	searchErr  error

	indexed   []string
	removed   []string
	removeErr map[string]error
}

func (e *stubEngine) ProposeOperations(_ context.Context, _, content string, raw bool) ([]types.MemoryOperation, error) {
	e.lastRaw = raw
	if e.proposeErr != nil {
		return nil, e.proposeErr
	}
	if e.proposals != nil {
		return e.proposals, nil
	}
	return []types.MemoryOperation{
		{Event: types.EventAdd, RecordID: uuid.New().String(), Content: content},
	}, nil
}

func (e *stubEngine) IndexRecord(_ context.Context, rec *types.MemoryRecord) error {
	e.indexed = append(e.indexed, rec.ID)
	return nil
}

func (e *stubEngine) Remove(_ context.Context, ids ...string) error {
	for _, id := range ids {
		if err := e.removeErr[id]; err != nil {
			return err
		}
		e.removed = append(e.removed, id)
	}
	return nil
}

func (e *stubEngine) Search(_ context.Context, _, _ string, _ int) ([]semantic.Hit, error) {
	if e.searchErr != nil {
		return nil, e.searchErr
	}
	return e.searchHits, nil
}

func newTestServer(t *testing.T, engine *stubEngine) (*mcp.Server, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return mcp.NewServer(store, engine), store
}

func scopedCtx(userID, appID string, status types.RegistryStatus) context.Context {
	return mcp.WithScope(context.Background(), &mcp.Scope{
		UserID: userID,
		Identity: &types.ClientIdentity{
			Identifier:      appID,
			ClientType:      appID,
			ConfidenceScore: 95,
			Source:          types.SourceEndpoint,
		},
		RegistryStatus: status,
		SessionToken:   "test-session",
	})
}

func callTool(t *testing.T, srv *mcp.Server, ctx context.Context, tool string, args map[string]interface{}) map[string]interface{} {
	t.Helper()
	req := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params":  map[string]interface{}{"name": tool, "arguments": args},
	}
	raw, err := json.Marshal(req)
	require.NoError(t, err)

	respBytes, err := srv.HandleRequest(ctx, raw)
	require.NoError(t, err)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(respBytes, &resp))
	return resp
}

// toolPayload unwraps the MCP content envelope around a tool result.
func toolPayload(t *testing.T, resp map[string]interface{}) (map[string]interface{}, bool) {
	t.Helper()
	result, ok := resp["result"].(map[string]interface{})
	require.True(t, ok, "response has no result: %v", resp)
	content := result["content"].([]interface{})
	require.NotEmpty(t, content)
	text := content[0].(map[string]interface{})["text"].(string)

	isError, _ := result["isError"].(bool)
	if isError {
		return map[string]interface{}{"error": text}, true
	}
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text), &payload))
	return payload, false
}

func TestInitializeHandshake(t *testing.T) {
	srv, _ := newTestServer(t, &stubEngine{})

	resp, err := srv.HandleRequest(context.Background(),
		[]byte(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","clientInfo":{"name":"test","version":"0.1"}}}`))
	require.NoError(t, err)

	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal(resp, &parsed))
	result := parsed["result"].(map[string]interface{})
	assert.Equal(t, "2024-11-05", result["protocolVersion"])
	assert.Equal(t, "memgate", result["serverInfo"].(map[string]interface{})["name"])
}

func TestToolsList(t *testing.T) {
	srv, _ := newTestServer(t, &stubEngine{})

	resp, err := srv.HandleRequest(context.Background(),
		[]byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	require.NoError(t, err)

	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal(resp, &parsed))
	tools := parsed["result"].(map[string]interface{})["tools"].([]interface{})
	require.Len(t, tools, 4)

	names := map[string]bool{}
	for _, tool := range tools {
		names[tool.(map[string]interface{})["name"].(string)] = true
	}
	for _, want := range []string{"add_memories", "search_memory", "list_memories", "delete_all_memories"} {
		assert.True(t, names[want], "missing tool %s", want)
	}
}

func TestAddMemoriesRequiresScope(t *testing.T) {
	srv, _ := newTestServer(t, &stubEngine{})

	// No scope in context: tool call must be refused.
	resp := callTool(t, srv, context.Background(), "add_memories", map[string]interface{}{"text": "anything"})
	payload, isErr := toolPayload(t, resp)
	require.True(t, isErr)
	assert.Contains(t, payload["error"], "no caller identity")
}

func TestAddMemoriesCreatesRecord(t *testing.T) {
	id := uuid.New().String()
	engine := &stubEngine{proposals: []types.MemoryOperation{
		{Event: types.EventAdd, RecordID: id, Content: "prefers dark mode"},
	}}
	srv, store := newTestServer(t, engine)
	ctx := scopedCtx("alice", "claude-code", types.StatusApproved)

	resp := callTool(t, srv, ctx, "add_memories", map[string]interface{}{"text": "the user prefers dark mode everywhere"})
	payload, isErr := toolPayload(t, resp)
	require.False(t, isErr)

	results := payload["results"].([]interface{})
	require.Len(t, results, 1)
	assert.Equal(t, "created", results[0].(map[string]interface{})["outcome"])

	rec, err := store.GetRecord(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.StateActive, rec.State)
	assert.Equal(t, "claude-code", rec.AppID)
	assert.Equal(t, "claude-code", rec.Metadata["client_identifier"])

	// Committed record was projected into the index.
	assert.Contains(t, engine.indexed, id)
}

func TestAddMemoriesMinimalContentForcesRaw(t *testing.T) {
	engine := &stubEngine{}
	srv, store := newTestServer(t, engine)
	ctx := scopedCtx("alice", "claude-code", types.StatusApproved)

	resp := callTool(t, srv, ctx, "add_memories", map[string]interface{}{"text": "Blue."})
	payload, isErr := toolPayload(t, resp)
	require.False(t, isErr)

	// Inference was requested but the content is minimal: raw storage.
	assert.True(t, engine.lastRaw, "minimal content must bypass inference")
	assert.Equal(t, true, payload["raw_fallback"])

	results := payload["results"].([]interface{})
	require.Len(t, results, 1)
	recID := results[0].(map[string]interface{})["id"].(string)

	rec, err := store.GetRecord(ctx, recID)
	require.NoError(t, err)
	assert.Equal(t, "true", rec.Metadata["auto_fallback"])
	assert.Equal(t, "minimal_content", rec.Metadata["fallback_reason"])
}

func TestAddMemoriesExplicitRawSkipsFallbackTag(t *testing.T) {
	engine := &stubEngine{}
	srv, store := newTestServer(t, engine)
	ctx := scopedCtx("alice", "claude-code", types.StatusApproved)

	resp := callTool(t, srv, ctx, "add_memories", map[string]interface{}{
		"text":  "already a structured fact about the deployment runbook",
		"infer": false,
	})
	payload, isErr := toolPayload(t, resp)
	require.False(t, isErr)
	assert.True(t, engine.lastRaw)
	assert.Nil(t, payload["raw_fallback"], "explicit raw is not a fallback")

	results := payload["results"].([]interface{})
	recID := results[0].(map[string]interface{})["id"].(string)
	rec, err := store.GetRecord(ctx, recID)
	require.NoError(t, err)
	assert.Nil(t, rec.Metadata["auto_fallback"])
}

func TestAddMemoriesDropsPhantomOperations(t *testing.T) {
	engine := &stubEngine{proposals: []types.MemoryOperation{
		{Event: types.EventDelete, RecordID: uuid.New().String()},
	}}
	srv, _ := newTestServer(t, engine)
	ctx := scopedCtx("alice", "claude-code", types.StatusApproved)

	resp := callTool(t, srv, ctx, "add_memories", map[string]interface{}{"text": "please forget the old preference"})
	payload, isErr := toolPayload(t, resp)
	require.False(t, isErr)

	// Against an empty store the DELETE is a phantom and never applies.
	assert.Equal(t, float64(1), payload["dropped"])
	assert.Nil(t, payload["results"])
}

func TestAddMemoriesEngineFailureRefusesCall(t *testing.T) {
	engine := &stubEngine{proposeErr: semantic.ErrEngineUnavailable}
	srv, store := newTestServer(t, engine)
	ctx := scopedCtx("alice", "claude-code", types.StatusApproved)

	resp := callTool(t, srv, ctx, "add_memories", map[string]interface{}{"text": "this should not be stored"})
	payload, isErr := toolPayload(t, resp)
	require.True(t, isErr)
	assert.Contains(t, payload["error"], "temporarily unavailable")

	// The relational store stays untouched.
	live, err := store.LiveRecordIDs(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, live)
}

func TestBlockedClientRejected(t *testing.T) {
	srv, _ := newTestServer(t, &stubEngine{})
	ctx := scopedCtx("alice", "rogue-tool", types.StatusBlocked)

	resp := callTool(t, srv, ctx, "list_memories", nil)
	payload, isErr := toolPayload(t, resp)
	require.True(t, isErr)
	assert.Contains(t, payload["error"], "blocked")
}

func TestQuarantinedClientLimitedFlag(t *testing.T) {
	engine := &stubEngine{}
	srv, _ := newTestServer(t, engine)
	ctx := scopedCtx("alice", "mystery-tool", types.StatusPending)

	resp := callTool(t, srv, ctx, "add_memories", map[string]interface{}{"text": "quarantined clients still get to store"})
	payload, isErr := toolPayload(t, resp)
	require.False(t, isErr)
	assert.Equal(t, true, payload["limited_functionality"])
}

func seedMemory(t *testing.T, srv *mcp.Server, ctx context.Context, engine *stubEngine, content string) string {
	t.Helper()
	id := uuid.New().String()
	engine.proposals = []types.MemoryOperation{{Event: types.EventAdd, RecordID: id, Content: content}}
	resp := callTool(t, srv, ctx, "add_memories", map[string]interface{}{"text": content})
	_, isErr := toolPayload(t, resp)
	require.False(t, isErr)
	engine.proposals = nil
	return id
}

func TestSearchMemoryLogsAccess(t *testing.T) {
	engine := &stubEngine{}
	srv, store := newTestServer(t, engine)
	ctx := scopedCtx("alice", "claude-code", types.StatusApproved)

	id := seedMemory(t, srv, ctx, engine, "the staging database lives on host db-stage-2")
	engine.searchHits = []semantic.Hit{{ID: id, Content: "the staging database lives on host db-stage-2", Score: 0.91}}

	resp := callTool(t, srv, ctx, "search_memory", map[string]interface{}{"query": "where is staging db"})
	payload, isErr := toolPayload(t, resp)
	require.False(t, isErr)

	matches := payload["matches"].([]interface{})
	require.Len(t, matches, 1)
	match := matches[0].(map[string]interface{})
	assert.Equal(t, id, match["id"])
	assert.Equal(t, 0.91, match["score"])

	logs, err := store.AccessLogsForRecord(ctx, id, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, types.AccessSearch, logs[0].AccessType)
	assert.Equal(t, "where is staging db", logs[0].Metadata["query"])
}

func TestSearchMemorySkipsPhantomHits(t *testing.T) {
	engine := &stubEngine{searchHits: []semantic.Hit{
		{ID: uuid.New().String(), Content: "only the index knows this", Score: 0.88},
	}}
	srv, _ := newTestServer(t, engine)
	ctx := scopedCtx("alice", "claude-code", types.StatusApproved)

	resp := callTool(t, srv, ctx, "search_memory", map[string]interface{}{"query": "anything"})
	payload, isErr := toolPayload(t, resp)
	require.False(t, isErr)
	assert.Nil(t, payload["matches"], "phantom hits must not surface")
}

func TestSearchMemoryDeniedRecordHidden(t *testing.T) {
	engine := &stubEngine{}
	srv, store := newTestServer(t, engine)
	owner := scopedCtx("alice", "claude-code", types.StatusApproved)

	id := seedMemory(t, srv, owner, engine, "a private note about vacation plans")
	engine.searchHits = []semantic.Hit{{ID: id, Content: "a private note about vacation plans", Score: 0.95}}

	require.NoError(t, store.CreateRule(context.Background(), &types.AccessRule{
		SubjectType: "app", SubjectID: "spy-tool",
		ObjectType: "memory", ObjectID: id,
		Effect: types.EffectDeny,
	}))

	spy := scopedCtx("alice", "spy-tool", types.StatusApproved)
	resp := callTool(t, srv, spy, "search_memory", map[string]interface{}{"query": "vacation"})
	payload, isErr := toolPayload(t, resp)
	require.False(t, isErr)
	assert.Nil(t, payload["matches"])

	// The denied access left no search log for the spy.
	logs, err := store.AccessLogsForRecord(context.Background(), id, 10)
	require.NoError(t, err)
	for _, entry := range logs {
		assert.NotEqual(t, "spy-tool", entry.AppID)
	}
}

func TestListMemories(t *testing.T) {
	engine := &stubEngine{}
	srv, store := newTestServer(t, engine)
	ctx := scopedCtx("alice", "claude-code", types.StatusApproved)

	first := seedMemory(t, srv, ctx, engine, "keeps notes in markdown files")
	second := seedMemory(t, srv, ctx, engine, "reviews PRs before standup")

	resp := callTool(t, srv, ctx, "list_memories", nil)
	payload, isErr := toolPayload(t, resp)
	require.False(t, isErr)
	assert.Equal(t, float64(2), payload["total"])

	for _, id := range []string{first, second} {
		logs, err := store.AccessLogsForRecord(ctx, id, 10)
		require.NoError(t, err)
		require.Len(t, logs, 1)
		assert.Equal(t, types.AccessList, logs[0].AccessType)
	}
}

func TestDeleteAllMemoriesToleratesEngineFailure(t *testing.T) {
	engine := &stubEngine{removeErr: map[string]error{}}
	srv, store := newTestServer(t, engine)
	ctx := scopedCtx("alice", "claude-code", types.StatusApproved)

	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, seedMemory(t, srv, ctx, engine, fmt.Sprintf("deletable note number %d", i)))
	}
	engine.removeErr[ids[1]] = semantic.ErrEngineUnavailable

	resp := callTool(t, srv, ctx, "delete_all_memories", nil)
	payload, isErr := toolPayload(t, resp)
	require.False(t, isErr)

	// All three deleted relationally despite one failed index removal.
	assert.Equal(t, float64(3), payload["deleted"])
	assert.Equal(t, float64(1), payload["engine_failures"])

	live, err := store.LiveRecordIDs(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, live)

	for _, id := range ids {
		history, err := store.HistoryForRecord(ctx, id)
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, types.StateDeleted, history[1].NewState)

		logs, err := store.AccessLogsForRecord(ctx, id, 10)
		require.NoError(t, err)
		found := false
		for _, entry := range logs {
			if entry.AccessType == types.AccessDeleteAll {
				found = true
			}
		}
		assert.True(t, found, "missing delete_all access log for %s", id)
	}
}

func TestMethodNotFound(t *testing.T) {
	srv, _ := newTestServer(t, &stubEngine{})

	resp, err := srv.HandleRequest(context.Background(),
		[]byte(`{"jsonrpc":"2.0","id":1,"method":"no_such_method"}`))
	require.NoError(t, err)
	assert.Contains(t, string(resp), `"code":-32601`)
}

func TestInvalidJSONRPCVersion(t *testing.T) {
	srv, _ := newTestServer(t, &stubEngine{})

	resp, err := srv.HandleRequest(context.Background(),
		[]byte(`{"jsonrpc":"1.0","id":1,"method":"tools/list"}`))
	require.NoError(t, err)
	assert.Contains(t, string(resp), `"code":-32600`)
}
