package types

// Operation event tags returned by the semantic engine in response to an
// add call. Tags outside this set are passed through the validator
// unchanged for forward compatibility.
const (
	EventAdd    = "ADD"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"
	EventNone   = "NONE"
)

// MemoryOperation is one proposed write produced by the semantic engine.
// A batch of these is filtered by the operation validator before the
// relational store is mutated.
type MemoryOperation struct {
	// Event is the operation tag (ADD, UPDATE, DELETE, NONE, or an
	// unrecognized future tag).
	Event string `json:"event"`

	// RecordID is the memory record id the operation targets.
	RecordID string `json:"id"`

	// Content is the extracted memory text for ADD/UPDATE events.
	Content string `json:"memory,omitempty"`
}
