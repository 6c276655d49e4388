// Package validator filters memory operation batches before they are
// applied, dropping phantom operations: UPDATE or DELETE events aimed
// at records the relational store doesn't hold in a live state.
package validator

import (
	"context"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/scrypster/memgate/internal/storage"
	"github.com/scrypster/memgate/pkg/types"
)

// Validator checks operation batches against the relational store. The
// relational store is the authority: whatever the semantic engine
// proposed, an UPDATE/DELETE only survives if the target id is live
// here.
type Validator struct {
	store  storage.RecordStore
	logger *log.Logger
}

// New creates a Validator over a RecordStore.
func New(store storage.RecordStore) *Validator {
	return &Validator{
		store:  store,
		logger: log.New(log.Writer(), "[validator] ", log.LstdFlags),
	}
}

// Result reports what the batch filter kept and dropped.
type Result struct {
	// Validated is the surviving batch, in input order.
	Validated []types.MemoryOperation

	// Dropped lists the phantom operations removed from the batch.
	Dropped []types.MemoryOperation
}

// ValidateBatch filters a batch of operations for one user.
//
// Rules, applied per operation:
//   - ADD always passes; it creates or reactivates.
//   - UPDATE/DELETE pass only when the id parses as a UUID and the
//     record is live (exists, not deleted, not archived). Against an
//     empty store every UPDATE/DELETE drops.
//   - NONE and unrecognized events pass through unchanged.
//
// The live-id set is read once per batch, so validation is one query
// regardless of batch size and the whole batch sees one snapshot.
func (v *Validator) ValidateBatch(ctx context.Context, userID string, ops []types.MemoryOperation) (*Result, error) {
	result := &Result{}
	if len(ops) == 0 {
		return result, nil
	}

	liveIDs, err := v.store.LiveRecordIDs(ctx, userID)
	if err != nil {
		return nil, err
	}

	for _, op := range ops {
		event := strings.ToUpper(op.Event)
		switch event {
		case types.EventAdd:
			result.Validated = append(result.Validated, op)

		case types.EventUpdate, types.EventDelete:
			if !v.targetIsLive(op.RecordID, liveIDs) {
				v.logger.Printf("phantom operation prevented: %s on %s (user %s)", event, op.RecordID, userID)
				result.Dropped = append(result.Dropped, op)
				continue
			}
			result.Validated = append(result.Validated, op)

		default:
			// NONE and anything unrecognized pass through; the
			// lifecycle tracker ignores what it doesn't understand.
			result.Validated = append(result.Validated, op)
		}
	}

	if len(result.Dropped) > 0 {
		v.logger.Printf("batch validation: %d -> %d operations (user %s)",
			len(ops), len(result.Validated), userID)
	}
	return result, nil
}

// targetIsLive reports whether an UPDATE/DELETE target id is a
// well-formed UUID naming a live record.
func (v *Validator) targetIsLive(id string, liveIDs map[string]bool) bool {
	if id == "" {
		return false
	}
	if _, err := uuid.Parse(id); err != nil {
		v.logger.Printf("invalid record id format: %q", id)
		return false
	}
	return liveIDs[id]
}

// IsMinimalContent reports whether text is too short for semantic
// processing: at most 3 words or at most 20 characters. Such content is
// stored raw instead of being sent to the inference pipeline.
func IsMinimalContent(text string) bool {
	if text == "" {
		return true
	}
	wordCount := len(strings.Fields(text))
	charCount := len(strings.TrimSpace(text))
	return wordCount <= 3 || charCount <= 20
}

// ShouldUseRawStorage decides between raw storage and semantic
// processing. Raw storage is used when the caller asked for it (infer
// false) or the content is minimal.
func ShouldUseRawStorage(text string, infer bool) bool {
	if !infer {
		return true
	}
	return IsMinimalContent(text)
}
