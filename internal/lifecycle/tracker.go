// Package lifecycle applies validated operation batches to the
// relational store and keeps the audit trail honest: every state
// transition commits with exactly one history row, in the same
// transaction.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/scrypster/memgate/internal/storage"
	"github.com/scrypster/memgate/pkg/types"
)

// ErrWrongOwner is returned when an operation targets a record owned
// by a different user. Record ids are never reusable across owners.
var ErrWrongOwner = errors.New("record belongs to a different user")

// Hook runs after a record write has committed. Hooks must not assume
// they run on the request goroutine; deferred mode runs them in the
// background.
type Hook interface {
	RecordCommitted(ctx context.Context, rec *types.MemoryRecord)
}

// Outcome labels what ApplyBatch did with one operation.
type Outcome string

const (
	OutcomeCreated     Outcome = "created"
	OutcomeUpdated     Outcome = "updated"
	OutcomeReactivated Outcome = "reactivated"
	OutcomeDeleted     Outcome = "deleted"
	OutcomeSkipped     Outcome = "skipped"
)

// AppliedOperation is the per-operation result of ApplyBatch.
type AppliedOperation struct {
	Operation types.MemoryOperation
	Outcome   Outcome
	Record    *types.MemoryRecord
	Err       error
}

// Tracker owns memory record lifecycle changes. All mutations flow
// through it so the history invariant holds in exactly one place.
type Tracker struct {
	store    storage.RecordStore
	hooks    []Hook
	deferred bool
	logger   *log.Logger
}

// Option configures the Tracker.
type Option func(*Tracker)

// WithHook registers a post-commit hook.
func WithHook(h Hook) Option {
	return func(t *Tracker) {
		if h != nil {
			t.hooks = append(t.hooks, h)
		}
	}
}

// WithDeferredHooks runs hooks on a background goroutine instead of
// inline on the request path.
func WithDeferredHooks() Option {
	return func(t *Tracker) { t.deferred = true }
}

// NewTracker creates a lifecycle tracker.
func NewTracker(store storage.RecordStore, opts ...Option) *Tracker {
	t := &Tracker{
		store:  store,
		logger: log.New(log.Writer(), "[lifecycle] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ApplyBatch applies an already-validated operation batch for one user.
// Operations apply independently: a failing operation is reported in
// its result and never aborts the rest of the batch.
func (t *Tracker) ApplyBatch(ctx context.Context, userID, appID string, ops []types.MemoryOperation) []AppliedOperation {
	results := make([]AppliedOperation, 0, len(ops))
	for _, op := range ops {
		results = append(results, t.apply(ctx, userID, appID, op))
	}
	return results
}

func (t *Tracker) apply(ctx context.Context, userID, appID string, op types.MemoryOperation) AppliedOperation {
	result := AppliedOperation{Operation: op}

	switch op.Event {
	case types.EventAdd:
		rec, outcome, err := t.addOrReactivate(ctx, userID, appID, op)
		result.Record, result.Outcome, result.Err = rec, outcome, err

	case types.EventUpdate:
		rec, err := t.updateContent(ctx, userID, op)
		result.Record, result.Outcome, result.Err = rec, OutcomeUpdated, err
		if err != nil {
			result.Outcome = OutcomeSkipped
		}

	case types.EventDelete:
		rec, err := t.store.TransitionRecord(ctx, op.RecordID, types.StateDeleted, userID)
		result.Record, result.Outcome, result.Err = rec, OutcomeDeleted, err
		if err != nil {
			result.Outcome = OutcomeSkipped
		}

	default:
		// NONE and unrecognized events change nothing.
		result.Outcome = OutcomeSkipped
	}

	if result.Err != nil {
		t.logger.Printf("%s on %s failed: %v", op.Event, op.RecordID, result.Err)
	} else if result.Outcome != OutcomeSkipped && result.Outcome != OutcomeDeleted {
		t.runHooks(result.Record)
	}
	return result
}

// addOrReactivate handles ADD: a fresh id creates a record, a known id
// reactivates it (whatever non-active state it is in) and replaces its
// content.
func (t *Tracker) addOrReactivate(ctx context.Context, userID, appID string, op types.MemoryOperation) (*types.MemoryRecord, Outcome, error) {
	existing, err := t.store.GetRecord(ctx, op.RecordID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, OutcomeSkipped, err
	}

	if existing == nil {
		rec := &types.MemoryRecord{
			ID:      op.RecordID,
			UserID:  userID,
			AppID:   appID,
			Content: op.Content,
			State:   types.StateActive,
		}
		hist := &types.StatusHistory{
			MemoryID:  rec.ID,
			ChangedBy: userID,
			NewState:  types.StateActive,
		}
		if err := t.store.UpsertRecord(ctx, rec, hist); err != nil {
			return nil, OutcomeSkipped, err
		}
		return rec, OutcomeCreated, nil
	}

	if existing.UserID != userID {
		return nil, OutcomeSkipped, fmt.Errorf("%w: %s", ErrWrongOwner, op.RecordID)
	}

	if existing.State == types.StateActive {
		// ADD on a live id is a plain content replacement.
		existing.Content = op.Content
		if err := t.store.UpsertRecord(ctx, existing, nil); err != nil {
			return nil, OutcomeSkipped, err
		}
		return existing, OutcomeUpdated, nil
	}

	// Reactivation: back to active with one history row, terminal
	// stamps cleared, content replaced.
	oldState := existing.State
	existing.State = types.StateActive
	existing.Content = op.Content
	existing.ArchivedAt = nil
	existing.DeletedAt = nil
	hist := &types.StatusHistory{
		MemoryID:  existing.ID,
		ChangedBy: userID,
		OldState:  oldState,
		NewState:  types.StateActive,
	}
	if err := t.store.UpsertRecord(ctx, existing, hist); err != nil {
		return nil, OutcomeSkipped, err
	}
	t.logger.Printf("reactivated %s (%s -> active)", existing.ID, oldState)
	return existing, OutcomeReactivated, nil
}

func (t *Tracker) updateContent(ctx context.Context, userID string, op types.MemoryOperation) (*types.MemoryRecord, error) {
	existing, err := t.store.GetRecord(ctx, op.RecordID)
	if err != nil {
		return nil, err
	}
	if existing.UserID != userID {
		return nil, fmt.Errorf("%w: %s", ErrWrongOwner, op.RecordID)
	}
	existing.Content = op.Content
	if err := t.store.UpsertRecord(ctx, existing, nil); err != nil {
		return nil, err
	}
	return existing, nil
}

// Transition moves a record to an explicit state, for the admin
// pause/archive/delete surface.
func (t *Tracker) Transition(ctx context.Context, id string, next types.MemoryState, actor string) (*types.MemoryRecord, error) {
	return t.store.TransitionRecord(ctx, id, next, actor)
}

// DeleteAll soft-deletes every live record for a user and returns the
// ids it deleted. Each deletion commits with its own history row; a
// failing record is logged and skipped.
func (t *Tracker) DeleteAll(ctx context.Context, userID, actor string) ([]string, error) {
	liveIDs, err := t.store.LiveRecordIDs(ctx, userID)
	if err != nil {
		return nil, err
	}

	deleted := make([]string, 0, len(liveIDs))
	for id := range liveIDs {
		if _, err := t.store.TransitionRecord(ctx, id, types.StateDeleted, actor); err != nil {
			t.logger.Printf("delete all: failed to delete %s: %v", id, err)
			continue
		}
		deleted = append(deleted, id)
	}
	return deleted, nil
}

// runHooks fires post-commit hooks for a written record. In deferred
// mode hooks run detached from the request context.
func (t *Tracker) runHooks(rec *types.MemoryRecord) {
	if rec == nil {
		return
	}
	for _, h := range t.hooks {
		if t.deferred {
			go h.RecordCommitted(context.Background(), rec)
		} else {
			h.RecordCommitted(context.Background(), rec)
		}
	}
}
