package pgvector

import (
	"context"
	"os"
	"testing"
)

// newIntegrationIndex connects to the database named by
// MEMGATE_TEST_PGVECTOR_DSN, skipping the test when unset.
func newIntegrationIndex(t *testing.T) *Index {
	t.Helper()
	dsn := os.Getenv("MEMGATE_TEST_PGVECTOR_DSN")
	if dsn == "" {
		t.Skip("MEMGATE_TEST_PGVECTOR_DSN not set; skipping pgvector integration test")
	}

	idx, err := NewIndex(dsn, 4)
	if err != nil {
		t.Fatalf("failed to create index: %v", err)
	}
	t.Cleanup(func() {
		_, _ = idx.DeleteAll(context.Background(), "pgvector-test-user")
		idx.Close()
	})
	return idx
}

func TestIndexRoundTrip(t *testing.T) {
	idx := newIntegrationIndex(t)
	ctx := context.Background()
	const user = "pgvector-test-user"

	if err := idx.Upsert(ctx, user, "mem-a", "likes go", []float32{1, 0, 0, 0}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := idx.Upsert(ctx, user, "mem-b", "dislikes yaml", []float32{0, 1, 0, 0}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	hits, err := idx.Search(ctx, user, []float32{1, 0, 0, 0}, 2)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(hits) != 2 || hits[0].ID != "mem-a" {
		t.Errorf("nearest hit should be mem-a, got %v", hits)
	}
	if hits[0].Score < 0.99 {
		t.Errorf("identical vector should score ~1.0, got %f", hits[0].Score)
	}

	ids, err := idx.ListIDs(ctx, user)
	if err != nil {
		t.Fatalf("ListIDs failed: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("ids = %v, want 2 entries", ids)
	}

	if err := idx.Delete(ctx, "mem-a"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	n, err := idx.DeleteAll(ctx, user)
	if err != nil {
		t.Fatalf("DeleteAll failed: %v", err)
	}
	if n != 1 {
		t.Errorf("DeleteAll removed %d, want 1", n)
	}
}

func TestUpsertRejectsWrongDimension(t *testing.T) {
	idx := newIntegrationIndex(t)

	err := idx.Upsert(context.Background(), "pgvector-test-user", "mem-x", "content", []float32{1, 2})
	if err == nil {
		t.Error("wrong-dimension embedding should be rejected")
	}
}
