// Package storage provides composable storage interfaces for the memgate
// relational store.
//
// The storage layer is designed with small, focused interfaces that can
// be implemented independently and composed as needed. The relational
// store is the authority for record state, trust status, and every audit
// row; the semantic store only ever holds a projection (see
// internal/semantic).
package storage

import (
	"context"

	"github.com/scrypster/memgate/pkg/types"
)

// RecordStore provides the memory record lifecycle operations. Every
// mutation that changes a record's state writes its StatusHistory row in
// the same transaction: the history is the audit trail and must never
// disagree with the record.
type RecordStore interface {
	// GetRecord retrieves a record by id, including terminal records.
	// Returns ErrNotFound if the record doesn't exist.
	GetRecord(ctx context.Context, id string) (*types.MemoryRecord, error)

	// ListRecords retrieves all records owned by a user. Terminal
	// (deleted/archived) records are included only when includeTerminal
	// is set.
	ListRecords(ctx context.Context, userID string, includeTerminal bool) ([]*types.MemoryRecord, error)

	// LiveRecordIDs returns the set of record ids for a user whose state
	// is neither deleted nor archived. This is the relational truth the
	// operation validator and consistency auditor compare against.
	LiveRecordIDs(ctx context.Context, userID string) (map[string]bool, error)

	// UpsertRecord creates the record or replaces its content and state,
	// and appends the given history row, atomically. The caller is
	// responsible for having validated the transition. A nil hist is
	// permitted only for content/metadata updates that leave the state
	// unchanged.
	UpsertRecord(ctx context.Context, rec *types.MemoryRecord, hist *types.StatusHistory) error

	// TransitionRecord moves an existing record to the next state and
	// appends the matching history row in one transaction. Returns
	// ErrNotFound if the record doesn't exist and ErrInvalidTransition
	// if the edge is not permitted by the lifecycle state machine.
	TransitionRecord(ctx context.Context, id string, next types.MemoryState, changedBy string) (*types.MemoryRecord, error)

	// HistoryForRecord returns the append-only transition history for a
	// record, oldest first.
	HistoryForRecord(ctx context.Context, memoryID string) ([]*types.StatusHistory, error)

	// UserIDs returns every user id that owns at least one record,
	// in any state. The consistency auditor sweeps over this set.
	UserIDs(ctx context.Context) ([]string, error)
}

// AccessLogStore records every read/search/list/delete that touches a
// record through the access-control filter. Append-only.
type AccessLogStore interface {
	// AppendAccessLog writes one access log row.
	AppendAccessLog(ctx context.Context, entry *types.AccessLog) error

	// AccessLogsForRecord returns access log rows for one record,
	// newest first, capped at limit.
	AccessLogsForRecord(ctx context.Context, memoryID string, limit int) ([]*types.AccessLog, error)
}

// AccessRuleStore manages access-control rules.
type AccessRuleStore interface {
	// CreateRule stores a new access rule.
	CreateRule(ctx context.Context, rule *types.AccessRule) error

	// RulesForSubject returns all rules whose subject matches the given
	// type and id, including wildcard-subject rules.
	RulesForSubject(ctx context.Context, subjectType, subjectID string) ([]*types.AccessRule, error)

	// DeleteRule removes a rule by id. Returns ErrNotFound if absent.
	DeleteRule(ctx context.Context, id string) error
}

// RegistryStore persists client registry entries. Identifier is the
// unique business key; id is the surrogate row key used by the admin
// surface.
type RegistryStore interface {
	// GetEntry retrieves a registry entry by row id.
	// Returns ErrNotFound if absent.
	GetEntry(ctx context.Context, id string) (*types.ClientRegistryEntry, error)

	// GetEntryByIdentifier retrieves a registry entry by its unique
	// client identifier. Returns ErrNotFound if absent.
	GetEntryByIdentifier(ctx context.Context, identifier string) (*types.ClientRegistryEntry, error)

	// CreateEntry inserts a new registry entry. Returns
	// ErrDuplicateIdentifier when the identifier is already registered.
	CreateEntry(ctx context.Context, entry *types.ClientRegistryEntry) error

	// UpdateEntry replaces the mutable fields of an existing entry.
	// Returns ErrNotFound if absent.
	UpdateEntry(ctx context.Context, entry *types.ClientRegistryEntry) error

	// TouchLastSeen refreshes last_seen_at for an identifier.
	// Last-writer-wins is acceptable here.
	TouchLastSeen(ctx context.Context, identifier string) error

	// ListEntries retrieves registry entries with pagination and
	// filtering, newest first.
	ListEntries(ctx context.Context, opts RegistryListOptions) (*PaginatedResult[types.ClientRegistryEntry], error)

	// DeleteEntry hard-deletes a registry entry by row id. Only the
	// explicit admin delete path calls this.
	DeleteEntry(ctx context.Context, id string) error
}

// SessionStore persists client sessions, one row per accepted connection.
type SessionStore interface {
	// CreateSession inserts a new session row.
	CreateSession(ctx context.Context, session *types.ClientSession) error

	// TouchSession refreshes last_activity_at for a session token.
	TouchSession(ctx context.Context, token string) error

	// EndSession stamps ended_at for a session token. Ending an already
	// ended session is a no-op.
	EndSession(ctx context.Context, token string) error

	// ListSessions retrieves sessions with pagination and filtering,
	// newest first.
	ListSessions(ctx context.Context, opts SessionListOptions) (*PaginatedResult[types.ClientSession], error)
}

// Store is the full relational store surface used by the server wiring.
type Store interface {
	RecordStore
	AccessLogStore
	AccessRuleStore
	RegistryStore
	SessionStore

	// Close releases any resources held by the store.
	Close() error
}
