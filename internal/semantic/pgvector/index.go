// Package pgvector implements the semantic index on PostgreSQL with
// the pgvector extension.
package pgvector

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq" // PostgreSQL driver
	pgv "github.com/pgvector/pgvector-go"

	"github.com/scrypster/memgate/internal/semantic"
)

// schemaTemplate creates the projection table. The embedding dimension
// is fixed per deployment and baked into the column type.
const schemaTemplate = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS semantic_memories (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    content TEXT NOT NULL,
    embedding vector(%d),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_semantic_user ON semantic_memories(user_id);
CREATE INDEX IF NOT EXISTS idx_semantic_embedding
    ON semantic_memories USING ivfflat (embedding vector_cosine_ops)
    WITH (lists = 100);
`

// Index is the pgvector-backed semantic index.
type Index struct {
	db  *sql.DB
	dim int
}

var _ semantic.Index = (*Index)(nil)

// NewIndex connects to PostgreSQL and ensures the projection schema
// exists. dim is the embedding dimension and must match the embedder.
func NewIndex(dsn string, dim int) (*Index, error) {
	if dim < 1 {
		return nil, fmt.Errorf("pgvector: embedding dimension must be positive, got %d", dim)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("pgvector: failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pgvector: failed to connect: %w", err)
	}

	if _, err := db.Exec(fmt.Sprintf(schemaTemplate, dim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("pgvector: failed to create schema: %w", err)
	}

	return &Index{db: db, dim: dim}, nil
}

// Close releases the database connection.
func (x *Index) Close() error {
	return x.db.Close()
}

// Upsert stores or replaces a projection entry.
func (x *Index) Upsert(ctx context.Context, userID, id, content string, embedding []float32) error {
	if len(embedding) != x.dim {
		return fmt.Errorf("pgvector: embedding dimension %d, want %d", len(embedding), x.dim)
	}

	_, err := x.db.ExecContext(ctx, `
		INSERT INTO semantic_memories (id, user_id, content, embedding, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			updated_at = NOW()
	`, id, userID, content, pgv.NewVector(embedding))
	if err != nil {
		return fmt.Errorf("pgvector: upsert %s: %w", id, err)
	}
	return nil
}

// Delete removes entries by id. Missing ids are ignored.
func (x *Index) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	for _, id := range ids {
		if _, err := x.db.ExecContext(ctx, `DELETE FROM semantic_memories WHERE id = $1`, id); err != nil {
			return fmt.Errorf("pgvector: delete %s: %w", id, err)
		}
	}
	return nil
}

// DeleteAll removes every entry for a user.
func (x *Index) DeleteAll(ctx context.Context, userID string) (int, error) {
	res, err := x.db.ExecContext(ctx, `DELETE FROM semantic_memories WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("pgvector: delete all for %s: %w", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pgvector: delete all for %s: %w", userID, err)
	}
	return int(n), nil
}

// Search returns the nearest entries by cosine distance, best first.
// Score is 1 - distance, so identical vectors score 1.0.
func (x *Index) Search(ctx context.Context, userID string, embedding []float32, limit int) ([]semantic.Hit, error) {
	if limit < 1 {
		limit = 10
	}

	rows, err := x.db.QueryContext(ctx, `
		SELECT id, content, 1 - (embedding <=> $2) AS score
		FROM semantic_memories
		WHERE user_id = $1
		ORDER BY embedding <=> $2
		LIMIT $3
	`, userID, pgv.NewVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("pgvector: search for %s: %w", userID, err)
	}
	defer func() { _ = rows.Close() }()

	var hits []semantic.Hit
	for rows.Next() {
		var h semantic.Hit
		if err := rows.Scan(&h.ID, &h.Content, &h.Score); err != nil {
			return nil, fmt.Errorf("pgvector: scan hit: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgvector: search rows: %w", err)
	}
	return hits, nil
}

// ListIDs returns every entry id held for a user.
func (x *Index) ListIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := x.db.QueryContext(ctx,
		`SELECT id FROM semantic_memories WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("pgvector: list ids for %s: %w", userID, err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("pgvector: scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgvector: id rows: %w", err)
	}
	return ids, nil
}

// KnownIDs returns the ids currently held in the index for a user.
func (x *Index) KnownIDs(ctx context.Context, userID string) ([]string, error) {
	return x.ListIDs(ctx, userID)
}
