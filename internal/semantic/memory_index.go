package semantic

import (
	"context"
	"math"
	"sort"
	"sync"
)

// MemoryIndex is an in-process Index backed by a map. It serves tests
// and deployments that run without a vector database; cosine similarity
// over a few thousand entries is fast enough for a single-user store.
type MemoryIndex struct {
	mu      sync.RWMutex
	entries map[string]map[string]memoryEntry // userID -> id -> entry
}

type memoryEntry struct {
	content   string
	embedding []float32
}

// NewMemoryIndex creates an empty in-process index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: make(map[string]map[string]memoryEntry)}
}

var _ Index = (*MemoryIndex)(nil)

// Upsert stores or replaces an entry.
func (m *MemoryIndex) Upsert(ctx context.Context, userID, id, content string, embedding []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.entries[userID] == nil {
		m.entries[userID] = make(map[string]memoryEntry)
	}
	m.entries[userID][id] = memoryEntry{content: content, embedding: embedding}
	return nil
}

// Delete removes entries by id across all users.
func (m *MemoryIndex) Delete(ctx context.Context, ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, byID := range m.entries {
		for _, id := range ids {
			delete(byID, id)
		}
	}
	return nil
}

// DeleteAll removes every entry for a user.
func (m *MemoryIndex) DeleteAll(ctx context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.entries[userID])
	delete(m.entries, userID)
	return n, nil
}

// Search returns the nearest entries by cosine similarity, best first.
func (m *MemoryIndex) Search(ctx context.Context, userID string, embedding []float32, limit int) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	hits := make([]Hit, 0, len(m.entries[userID]))
	for id, entry := range m.entries[userID] {
		hits = append(hits, Hit{
			ID:      id,
			Content: entry.content,
			Score:   cosineSimilarity(embedding, entry.embedding),
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})

	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// ListIDs returns every entry id for a user in stable order.
func (m *MemoryIndex) ListIDs(ctx context.Context, userID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.entries[userID]))
	for id := range m.entries[userID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
