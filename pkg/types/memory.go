package types

import "time"

// MemoryState is the lifecycle state of a memory record in the
// relational store. The semantic store only ever holds a projection of
// active records.
type MemoryState string

const (
	StateActive   MemoryState = "active"
	StatePaused   MemoryState = "paused"
	StateArchived MemoryState = "archived"
	StateDeleted  MemoryState = "deleted"
)

// ValidMemoryStates contains all valid lifecycle state values.
var ValidMemoryStates = []MemoryState{
	StateActive,
	StatePaused,
	StateArchived,
	StateDeleted,
}

// IsValidMemoryState reports whether s is a recognized lifecycle state.
func IsValidMemoryState(s MemoryState) bool {
	for _, v := range ValidMemoryStates {
		if s == v {
			return true
		}
	}
	return false
}

// Terminal reports whether the state excludes a record from
// UPDATE/DELETE operations. Terminal records can only re-enter the
// lifecycle through explicit reactivation (an ADD on the same id).
func (s MemoryState) Terminal() bool {
	return s == StateDeleted || s == StateArchived
}

// IsValidStateTransition validates memory lifecycle transitions.
//
// Valid transitions:
//
//	(empty)  -> active                       (record creation)
//	active   -> paused | archived | deleted
//	paused   -> active | archived | deleted
//	archived -> active | deleted             (active = reactivation)
//	deleted  -> active                       (reactivation)
//
// Every state can reach active again because an ADD on an existing id
// is a reactivation, not a duplicate-key error.
func IsValidStateTransition(current, next MemoryState) bool {
	if next == "" {
		return false
	}

	switch current {
	case "":
		return next == StateActive

	case StateActive:
		return next == StatePaused || next == StateArchived || next == StateDeleted

	case StatePaused:
		return next == StateActive || next == StateArchived || next == StateDeleted

	case StateArchived:
		return next == StateActive || next == StateDeleted

	case StateDeleted:
		return next == StateActive

	default:
		return false
	}
}

// MemoryRecord is the authoritative relational row for one memory. The
// id is immutable; once deleted, the id is only reusable via explicit
// reactivation, never as a fresh record under a different owner.
type MemoryRecord struct {
	ID         string                 `json:"id"`
	UserID     string                 `json:"user_id"`
	AppID      string                 `json:"app_id"`
	Content    string                 `json:"content"`
	State      MemoryState            `json:"state"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
	ArchivedAt *time.Time             `json:"archived_at,omitempty"`
	DeletedAt  *time.Time             `json:"deleted_at,omitempty"`
}

// StatusHistory is one append-only row per state transition. OldState is
// empty only for a brand-new record's first ADD.
type StatusHistory struct {
	ID        string      `json:"id"`
	MemoryID  string      `json:"memory_id"`
	ChangedBy string      `json:"changed_by"`
	OldState  MemoryState `json:"old_state,omitempty"`
	NewState  MemoryState `json:"new_state"`
	ChangedAt time.Time   `json:"changed_at"`
}

// AccessLog is one append-only row per read/search/list/delete touching
// a record through the access-control filter.
type AccessLog struct {
	ID         string                 `json:"id"`
	MemoryID   string                 `json:"memory_id"`
	AppID      string                 `json:"app_id"`
	AccessType string                 `json:"access_type"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	AccessedAt time.Time              `json:"accessed_at"`
}

// Access log access_type values.
const (
	AccessSearch    = "search"
	AccessList      = "list"
	AccessDeleteAll = "delete_all"
)

// RuleEffect is the outcome of an access-control rule.
type RuleEffect string

const (
	EffectAllow RuleEffect = "allow"
	EffectDeny  RuleEffect = "deny"
)

// AccessRule grants or denies a subject access to an object. A nil/empty
// SubjectID or ObjectID means "any". Rules with concrete ids are more
// specific than wildcard rules and win when both match.
type AccessRule struct {
	ID          string     `json:"id"`
	SubjectType string     `json:"subject_type"` // e.g. "app"
	SubjectID   string     `json:"subject_id,omitempty"`
	ObjectType  string     `json:"object_type"` // e.g. "memory"
	ObjectID    string     `json:"object_id,omitempty"`
	Effect      RuleEffect `json:"effect"`
	CreatedAt   time.Time  `json:"created_at"`
}
