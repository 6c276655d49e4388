// Package types defines the core domain types shared across memgate:
// client identities and their trust state machine, memory records and
// their lifecycle state machine, and the audit rows that accompany
// every transition.
package types

import "time"

// ResolutionSource identifies which detection layer produced a ClientIdentity.
type ResolutionSource string

const (
	SourceEndpoint  ResolutionSource = "endpoint"   // matched a known endpoint template
	SourceHeaders   ResolutionSource = "headers"    // explicit client headers or first-party UI referer
	SourceUserAgent ResolutionSource = "user_agent" // user-agent regex table
	SourceUnknown   ResolutionSource = "unknown"    // fallback hash identifier
)

// ClientIdentity is the resolver's output for a single request. It is
// transient: never persisted directly, only consumed to populate the
// client registry and session rows.
type ClientIdentity struct {
	// Identifier is the stable key for this client (e.g. "claude-code",
	// "ollama-llama3.1:8b", "unknown-a1b2c3d4").
	Identifier string `json:"identifier"`

	// ClientType is the detected client family, or "unknown".
	ClientType string `json:"client_type"`

	// ModelName is the model the client reported or embedded in its
	// endpoint path, when known.
	ModelName string `json:"model_name,omitempty"`

	// ClientVersion is the version token extracted from headers or the
	// user-agent string, when present.
	ClientVersion string `json:"client_version,omitempty"`

	// ConfidenceScore is 0-100: 95 endpoint, 85 headers (100 for the
	// first-party web UI), 70 user-agent, 0 unknown.
	ConfidenceScore int `json:"confidence_score"`

	// Source records which detection layer produced this identity.
	Source ResolutionSource `json:"resolution_source"`

	// Metadata carries raw request details (user-agent, referer, origin,
	// host, full URL for unknown clients) for later admin inspection.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// RegistryStatus is the trust status of a client registry entry.
type RegistryStatus string

const (
	StatusPending  RegistryStatus = "pending"
	StatusApproved RegistryStatus = "approved"
	StatusBlocked  RegistryStatus = "blocked"
	StatusUnknown  RegistryStatus = "unknown"
)

// ValidRegistryStatuses contains all valid registry status values.
var ValidRegistryStatuses = []RegistryStatus{
	StatusPending,
	StatusApproved,
	StatusBlocked,
	StatusUnknown,
}

// IsValidRegistryStatus reports whether s is a recognized registry status.
func IsValidRegistryStatus(s RegistryStatus) bool {
	for _, v := range ValidRegistryStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// IsValidStatusTransition validates trust status transitions.
//
// Valid transitions:
//
//	(empty) -> unknown | approved | pending   (row creation)
//	unknown -> pending | approved | blocked
//	pending -> approved | blocked
//	approved -> blocked                       (admin action only)
//	blocked -> approved                       (admin override only)
//
// Blocked is terminal except for an explicit admin approval; the
// registry service is the only caller allowed to perform the
// approved<->blocked edges, and only from its admin methods.
func IsValidStatusTransition(current, next RegistryStatus) bool {
	if next == "" {
		return false
	}

	switch current {
	case "": // row creation
		return next == StatusUnknown || next == StatusApproved || next == StatusPending

	case StatusUnknown:
		return next == StatusPending || next == StatusApproved || next == StatusBlocked

	case StatusPending:
		return next == StatusApproved || next == StatusBlocked

	case StatusApproved:
		return next == StatusBlocked

	case StatusBlocked:
		return next == StatusApproved

	default:
		return false
	}
}

// Quarantined reports whether the status means limited, pending-review access.
func (s RegistryStatus) Quarantined() bool {
	return s == StatusUnknown || s == StatusPending
}

// ClientRegistryEntry is the persistent directory row for every client
// identifier ever seen. Identifier is globally unique; status only moves
// along the edges validated by IsValidStatusTransition.
type ClientRegistryEntry struct {
	ID               string                 `json:"id"`
	Identifier       string                 `json:"client_identifier"`
	ClientType       string                 `json:"client_type"`
	ModelName        string                 `json:"model_name,omitempty"`
	ClientVersion    string                 `json:"client_version,omitempty"`
	EndpointPattern  string                 `json:"endpoint_pattern"`
	Status           RegistryStatus         `json:"status"`
	AutoApproved     bool                   `json:"auto_approved"`
	DetectionDetails map[string]interface{} `json:"detection_metadata,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
	LastSeenAt       *time.Time             `json:"last_seen_at,omitempty"`
}

// ClientSession records one accepted connection: which registry entry it
// resolved to, which user it served, and the detection confidence at the
// time. Append-only; identity fields are never mutated after creation.
type ClientSession struct {
	ID             string     `json:"id"`
	RegistryID     string     `json:"client_registry_id"`
	UserID         string     `json:"user_id"`
	SessionToken   string     `json:"session_token"`
	EndpointUsed   string     `json:"endpoint_used"`
	UserAgent      string     `json:"user_agent,omitempty"`
	RemoteAddr     string     `json:"remote_addr,omitempty"`
	ConfidenceScore int       `json:"confidence_score"`
	StartedAt      time.Time  `json:"started_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
}

// Active reports whether the session has not been closed yet.
func (s *ClientSession) Active() bool {
	return s.EndedAt == nil
}
