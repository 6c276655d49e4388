package validator

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/scrypster/memgate/internal/storage/sqlite"
	"github.com/scrypster/memgate/pkg/types"
)

func newTestValidator(t *testing.T) (*Validator, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.NewStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(store), store
}

func seedRecord(t *testing.T, store *sqlite.Store, id, userID string) {
	t.Helper()
	rec := &types.MemoryRecord{
		ID: id, UserID: userID, AppID: "claude-code",
		Content: "remembers things", State: types.StateActive,
	}
	hist := &types.StatusHistory{MemoryID: id, ChangedBy: userID, NewState: types.StateActive}
	if err := store.UpsertRecord(context.Background(), rec, hist); err != nil {
		t.Fatalf("failed to seed record: %v", err)
	}
}

func TestValidateBatchEmptyStoreDropsAllDeletes(t *testing.T) {
	v, _ := newTestValidator(t)

	ops := []types.MemoryOperation{
		{Event: types.EventDelete, RecordID: uuid.New().String()},
		{Event: types.EventDelete, RecordID: uuid.New().String()},
	}
	result, err := v.ValidateBatch(context.Background(), "alice", ops)
	if err != nil {
		t.Fatalf("ValidateBatch failed: %v", err)
	}
	if len(result.Validated) != 0 {
		t.Errorf("validated = %d, want 0 against an empty store", len(result.Validated))
	}
	if len(result.Dropped) != 2 {
		t.Errorf("dropped = %d, want 2", len(result.Dropped))
	}
}

func TestValidateBatchAddAlwaysPasses(t *testing.T) {
	v, _ := newTestValidator(t)

	ops := []types.MemoryOperation{
		{Event: types.EventAdd, RecordID: uuid.New().String(), Content: "new fact"},
		{Event: "add", RecordID: uuid.New().String(), Content: "case-insensitive"},
	}
	result, err := v.ValidateBatch(context.Background(), "alice", ops)
	if err != nil {
		t.Fatalf("ValidateBatch failed: %v", err)
	}
	if len(result.Validated) != 2 {
		t.Errorf("validated = %d, want 2 (ADD always passes)", len(result.Validated))
	}
}

func TestValidateBatchUpdateOnLiveRecord(t *testing.T) {
	v, store := newTestValidator(t)
	ctx := context.Background()

	liveID := uuid.New().String()
	seedRecord(t, store, liveID, "alice")

	deletedID := uuid.New().String()
	seedRecord(t, store, deletedID, "alice")
	if _, err := store.TransitionRecord(ctx, deletedID, types.StateDeleted, "alice"); err != nil {
		t.Fatalf("failed to delete record: %v", err)
	}

	ops := []types.MemoryOperation{
		{Event: types.EventUpdate, RecordID: liveID, Content: "edit"},
		{Event: types.EventUpdate, RecordID: deletedID, Content: "phantom edit"},
		{Event: types.EventDelete, RecordID: uuid.New().String()},
	}
	result, err := v.ValidateBatch(ctx, "alice", ops)
	if err != nil {
		t.Fatalf("ValidateBatch failed: %v", err)
	}
	if len(result.Validated) != 1 || result.Validated[0].RecordID != liveID {
		t.Errorf("only the live-record update should survive, got %v", result.Validated)
	}
	if len(result.Dropped) != 2 {
		t.Errorf("dropped = %d, want 2", len(result.Dropped))
	}
}

func TestValidateBatchRejectsMalformedIDs(t *testing.T) {
	v, _ := newTestValidator(t)

	ops := []types.MemoryOperation{
		{Event: types.EventDelete, RecordID: "not-a-uuid"},
		{Event: types.EventUpdate, RecordID: ""},
	}
	result, err := v.ValidateBatch(context.Background(), "alice", ops)
	if err != nil {
		t.Fatalf("ValidateBatch failed: %v", err)
	}
	if len(result.Validated) != 0 {
		t.Errorf("malformed ids must not validate, got %v", result.Validated)
	}
}

func TestValidateBatchPassesNoneAndUnknownEvents(t *testing.T) {
	v, _ := newTestValidator(t)

	ops := []types.MemoryOperation{
		{Event: types.EventNone, RecordID: uuid.New().String()},
		{Event: "MERGE", RecordID: "whatever"},
	}
	result, err := v.ValidateBatch(context.Background(), "alice", ops)
	if err != nil {
		t.Fatalf("ValidateBatch failed: %v", err)
	}
	if len(result.Validated) != 2 {
		t.Errorf("NONE and unknown events should pass through, got %d", len(result.Validated))
	}
}

func TestValidateBatchScopedToUser(t *testing.T) {
	v, store := newTestValidator(t)

	bobID := uuid.New().String()
	seedRecord(t, store, bobID, "bob")

	// Alice's batch cannot update Bob's record.
	result, err := v.ValidateBatch(context.Background(), "alice", []types.MemoryOperation{
		{Event: types.EventUpdate, RecordID: bobID, Content: "cross-user edit"},
	})
	if err != nil {
		t.Fatalf("ValidateBatch failed: %v", err)
	}
	if len(result.Validated) != 0 {
		t.Error("operations must be scoped to the requesting user's records")
	}
}

func TestIsMinimalContent(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"", true},
		{"Blue.", true},
		{"one two three", true},
		{"short but ok yes", true}, // 16 chars, under the 20-char floor
		{"this sentence has more than three words in it", false},
		{"four words but quite-long-compound-tokens here", false},
	}
	for _, tc := range tests {
		if got := IsMinimalContent(tc.text); got != tc.want {
			t.Errorf("IsMinimalContent(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestShouldUseRawStorage(t *testing.T) {
	if !ShouldUseRawStorage("a perfectly long sentence that could be inferred", false) {
		t.Error("infer=false always means raw storage")
	}
	if !ShouldUseRawStorage("Blue.", true) {
		t.Error("minimal content should fall back to raw storage")
	}
	if ShouldUseRawStorage("this content is long enough for semantic processing", true) {
		t.Error("substantial content with infer=true should not be raw")
	}
}
