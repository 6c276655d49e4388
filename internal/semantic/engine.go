// Package semantic maintains the vector-side projection of the memory
// store and proposes memory operations for new content.
//
// The semantic index is never authoritative. It holds copies of active
// records keyed by the same ids as the relational store; on any
// disagreement the relational store wins and the consistency auditor
// reports the divergence.
package semantic

import (
	"context"
	"errors"
	"log"

	"github.com/google/uuid"

	"github.com/scrypster/memgate/pkg/types"
)

// ErrEngineUnavailable is returned when the semantic engine cannot be
// reached, including when its circuit breaker is open. Callers degrade
// rather than fail: reads fall back to the relational store, writes
// complete relationally and resync later.
var ErrEngineUnavailable = errors.New("semantic engine unavailable")

// Hit is one semantic search result.
type Hit struct {
	ID      string  `json:"id"`
	Content string  `json:"memory"`
	Score   float64 `json:"score"`
}

// Index is the vector store surface. Implementations: the pgvector
// index (production) and MemoryIndex (tests, or running without a
// vector database).
type Index interface {
	// Upsert stores or replaces a projection entry.
	Upsert(ctx context.Context, userID, id, content string, embedding []float32) error

	// Delete removes entries by id. Missing ids are ignored.
	Delete(ctx context.Context, ids ...string) error

	// DeleteAll removes every entry for a user and returns how many
	// were removed.
	DeleteAll(ctx context.Context, userID string) (int, error)

	// Search returns the nearest entries for a user, best first.
	Search(ctx context.Context, userID string, embedding []float32, limit int) ([]Hit, error)

	// ListIDs returns every entry id held for a user. The consistency
	// auditor compares this against the relational live-id set.
	ListIDs(ctx context.Context, userID string) ([]string, error)
}

// Embedder turns text into an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// duplicateThreshold is the similarity score above which new content is
// treated as already known and proposed as NONE instead of ADD.
const duplicateThreshold = 0.97

// Engine combines an embedder and an index and speaks in memory
// operations: it proposes batches for new content and projects
// committed records into the index.
type Engine struct {
	index    Index
	embedder Embedder
	logger   *log.Logger
}

// NewEngine creates an Engine.
func NewEngine(index Index, embedder Embedder) *Engine {
	return &Engine{
		index:    index,
		embedder: embedder,
		logger:   log.New(log.Writer(), "[semantic] ", log.LstdFlags),
	}
}

// ProposeOperations turns incoming content into a proposed operation
// batch. Raw mode (infer disabled or minimal content) always proposes a
// single ADD. Inferred mode checks the index for a near-duplicate first
// and proposes NONE when the content is already known.
//
// The proposals are unvalidated: the operation validator filters them
// against the relational store before anything is applied.
func (e *Engine) ProposeOperations(ctx context.Context, userID, content string, raw bool) ([]types.MemoryOperation, error) {
	add := types.MemoryOperation{
		Event:    types.EventAdd,
		RecordID: uuid.New().String(),
		Content:  content,
	}

	if raw {
		return []types.MemoryOperation{add}, nil
	}

	embedding, err := e.embedder.Embed(ctx, content)
	if err != nil {
		// Degrade to raw: the content still gets stored.
		e.logger.Printf("embedding failed, falling back to raw add: %v", err)
		return []types.MemoryOperation{add}, nil
	}

	hits, err := e.index.Search(ctx, userID, embedding, 1)
	if err != nil {
		e.logger.Printf("duplicate check failed, falling back to raw add: %v", err)
		return []types.MemoryOperation{add}, nil
	}

	if len(hits) > 0 && hits[0].Score >= duplicateThreshold {
		return []types.MemoryOperation{{
			Event:    types.EventNone,
			RecordID: hits[0].ID,
			Content:  hits[0].Content,
		}}, nil
	}
	return []types.MemoryOperation{add}, nil
}

// IndexRecord projects a committed record into the semantic index.
func (e *Engine) IndexRecord(ctx context.Context, rec *types.MemoryRecord) error {
	embedding, err := e.embedder.Embed(ctx, rec.Content)
	if err != nil {
		return err
	}
	return e.index.Upsert(ctx, rec.UserID, rec.ID, rec.Content, embedding)
}

// Remove drops projection entries by id.
func (e *Engine) Remove(ctx context.Context, ids ...string) error {
	return e.index.Delete(ctx, ids...)
}

// RemoveAll drops every projection entry for a user.
func (e *Engine) RemoveAll(ctx context.Context, userID string) (int, error) {
	return e.index.DeleteAll(ctx, userID)
}

// Search embeds the query and returns the nearest hits.
func (e *Engine) Search(ctx context.Context, userID, query string, limit int) ([]Hit, error) {
	if limit < 1 {
		limit = 10
	}
	embedding, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return e.index.Search(ctx, userID, embedding, limit)
}

// KnownIDs returns the ids currently held in the index for a user.
func (e *Engine) KnownIDs(ctx context.Context, userID string) ([]string, error) {
	return e.index.ListIDs(ctx, userID)
}
