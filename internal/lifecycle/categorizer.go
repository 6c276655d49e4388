package lifecycle

import (
	"context"
	"log"
	"strings"

	"github.com/scrypster/memgate/internal/storage"
	"github.com/scrypster/memgate/pkg/types"
)

// categoryKeywords drives the keyword categorizer. Matching is
// substring-based over the lowercased content, one category per group.
var categoryKeywords = map[string][]string{
	"work":       {"work", "job", "career", "office", "meeting", "project", "client", "business"},
	"technology": {"code", "programming", "python", "javascript", "api", "software", "tech", "computer"},
	"personal":   {"hobby", "guitar", "music", "game", "sport", "exercise", "travel", "book"},
	"health":     {"health", "doctor", "medicine", "exercise", "diet", "wellness"},
}

// Categorize assigns categories to memory content by keyword matching.
// Content matching nothing gets "general".
func Categorize(content string) []string {
	lower := strings.ToLower(content)

	var categories []string
	// Stable iteration order so the same content always gets the same
	// category list.
	for _, name := range []string{"work", "technology", "personal", "health"} {
		for _, kw := range categoryKeywords[name] {
			if strings.Contains(lower, kw) {
				categories = append(categories, name)
				break
			}
		}
	}
	if len(categories) == 0 {
		categories = []string{"general"}
	}
	return categories
}

// Categorizer is a post-commit hook that stamps category metadata onto
// freshly written records. It runs after the record transaction has
// committed, never inside it, so a categorization failure can't roll
// back a memory write.
type Categorizer struct {
	store  storage.RecordStore
	logger *log.Logger
}

// NewCategorizer creates the categorization hook.
func NewCategorizer(store storage.RecordStore) *Categorizer {
	return &Categorizer{
		store:  store,
		logger: log.New(log.Writer(), "[categorizer] ", log.LstdFlags),
	}
}

var _ Hook = (*Categorizer)(nil)

// RecordCommitted computes categories for the record and persists them
// in its metadata. State is untouched, so no history row is written.
func (c *Categorizer) RecordCommitted(ctx context.Context, rec *types.MemoryRecord) {
	categories := Categorize(rec.Content)

	current, err := c.store.GetRecord(ctx, rec.ID)
	if err != nil {
		c.logger.Printf("failed to load %s for categorization: %v", rec.ID, err)
		return
	}

	if current.Metadata == nil {
		current.Metadata = make(map[string]interface{})
	}
	current.Metadata["categories"] = categories

	if err := c.store.UpsertRecord(ctx, current, nil); err != nil {
		c.logger.Printf("failed to store categories for %s: %v", rec.ID, err)
	}
}
