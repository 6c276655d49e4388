package access

import (
	"context"
	"testing"

	"github.com/scrypster/memgate/internal/storage/sqlite"
	"github.com/scrypster/memgate/pkg/types"
)

func newTestFilter(t *testing.T, defaultAllow bool) (*Filter, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.NewStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewFilter(store, store, defaultAllow), store
}

func mustCreateRule(t *testing.T, store *sqlite.Store, subjectID, objectID string, effect types.RuleEffect) {
	t.Helper()
	err := store.CreateRule(context.Background(), &types.AccessRule{
		SubjectType: SubjectApp, SubjectID: subjectID,
		ObjectType: ObjectMemory, ObjectID: objectID,
		Effect: effect,
	})
	if err != nil {
		t.Fatalf("failed to create rule: %v", err)
	}
}

func TestAllowedDefaultVerdict(t *testing.T) {
	f, _ := newTestFilter(t, true)
	ok, err := f.Allowed(context.Background(), "claude-code", "mem-1")
	if err != nil {
		t.Fatalf("Allowed failed: %v", err)
	}
	if !ok {
		t.Error("no rules plus default-allow should permit access")
	}

	fDeny, _ := newTestFilter(t, false)
	ok, _ = fDeny.Allowed(context.Background(), "claude-code", "mem-1")
	if ok {
		t.Error("no rules plus default-deny should refuse access")
	}
}

func TestSpecificRuleBeatsWildcard(t *testing.T) {
	f, store := newTestFilter(t, true)
	ctx := context.Background()

	// Wildcard allow for every app, specific deny for one app/memory
	// pair.
	mustCreateRule(t, store, "", "", types.EffectAllow)
	mustCreateRule(t, store, "claude-code", "mem-secret", types.EffectDeny)

	ok, _ := f.Allowed(ctx, "claude-code", "mem-secret")
	if ok {
		t.Error("specific deny should beat wildcard allow")
	}
	ok, _ = f.Allowed(ctx, "claude-code", "mem-other")
	if !ok {
		t.Error("other memories remain allowed")
	}
	ok, _ = f.Allowed(ctx, "cursor", "mem-secret")
	if !ok {
		t.Error("the deny is scoped to one app")
	}
}

func TestSubjectSpecificityOutweighsObject(t *testing.T) {
	f, store := newTestFilter(t, true)
	ctx := context.Background()

	// Wildcard-subject deny on one memory vs concrete-subject allow on
	// all memories: the concrete subject is more specific and wins.
	mustCreateRule(t, store, "", "mem-1", types.EffectDeny)
	mustCreateRule(t, store, "claude-code", "", types.EffectAllow)

	ok, _ := f.Allowed(ctx, "claude-code", "mem-1")
	if !ok {
		t.Error("concrete-subject allow should beat wildcard-subject deny")
	}
	ok, _ = f.Allowed(ctx, "cursor", "mem-1")
	if ok {
		t.Error("apps without their own rule fall to the wildcard deny")
	}
}

func TestEqualSpecificityDenyWins(t *testing.T) {
	f, store := newTestFilter(t, true)

	mustCreateRule(t, store, "claude-code", "mem-1", types.EffectAllow)
	mustCreateRule(t, store, "claude-code", "mem-1", types.EffectDeny)

	ok, _ := f.Allowed(context.Background(), "claude-code", "mem-1")
	if ok {
		t.Error("conflicting rules at equal specificity must deny")
	}
}

func TestFilterRecordsPreservesOrder(t *testing.T) {
	f, store := newTestFilter(t, true)
	ctx := context.Background()

	mustCreateRule(t, store, "claude-code", "b", types.EffectDeny)

	records := []*types.MemoryRecord{
		{ID: "a"}, {ID: "b"}, {ID: "c"},
	}
	filtered, err := f.FilterRecords(ctx, "claude-code", records)
	if err != nil {
		t.Fatalf("FilterRecords failed: %v", err)
	}
	if len(filtered) != 2 || filtered[0].ID != "a" || filtered[1].ID != "c" {
		t.Errorf("filtered = %v, want [a c]", filtered)
	}
}

func TestRecordAccessWritesAuditRow(t *testing.T) {
	f, store := newTestFilter(t, true)
	ctx := context.Background()

	f.RecordAccess(ctx, "claude-code", "mem-1", types.AccessSearch, map[string]interface{}{"query": "tabs"})

	logs, err := store.AccessLogsForRecord(ctx, "mem-1", 10)
	if err != nil {
		t.Fatalf("AccessLogsForRecord failed: %v", err)
	}
	if len(logs) != 1 || logs[0].AccessType != types.AccessSearch {
		t.Errorf("logs = %v, want one search entry", logs)
	}
}
