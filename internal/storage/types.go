package storage

import (
	"errors"
	"time"

	"github.com/scrypster/memgate/pkg/types"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDuplicateIdentifier indicates an attempt to register a client
	// identifier that already exists.
	ErrDuplicateIdentifier = errors.New("client identifier already exists")

	// ErrInvalidTransition indicates a state or status change along an
	// edge the relevant state machine does not permit.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrNotQuarantined indicates a quarantine action (approve/block)
	// targeted at an entry that is not in a quarantined status.
	ErrNotQuarantined = errors.New("client is not quarantined")
)

// PaginatedResult represents a paginated result set with type safety using generics.
type PaginatedResult[T any] struct {
	// Items is the slice of results for the current page.
	Items []T

	// Total is the total number of items across all pages.
	Total int

	// Page is the current page number (1-indexed).
	Page int

	// PageSize is the number of items per page.
	PageSize int

	// HasMore indicates whether there are more pages available.
	HasMore bool
}

// RegistryListOptions provides pagination and filtering for registry queries.
type RegistryListOptions struct {
	// Page is the page number to retrieve (1-indexed, default: 1).
	Page int

	// Limit is the number of items per page (default: 20, max: 100).
	Limit int

	// Status filters by trust status. Empty means no status filter.
	Status types.RegistryStatus

	// ClientType filters by detected client family. Empty means no filter.
	ClientType string

	// ModelName filters by model name. Empty means no filter.
	ModelName string

	// QuarantinedOnly restricts results to unknown/pending entries.
	QuarantinedOnly bool
}

// Normalize applies defaults and validates the RegistryListOptions.
func (o *RegistryListOptions) Normalize() {
	if o.Page < 1 {
		o.Page = 1
	}
	if o.Limit < 1 {
		o.Limit = 20
	}
	if o.Limit > 100 {
		o.Limit = 100
	}
}

// Offset calculates the offset for SQL queries based on page and limit.
func (o *RegistryListOptions) Offset() int {
	return (o.Page - 1) * o.Limit
}

// SessionListOptions provides pagination and filtering for session queries.
type SessionListOptions struct {
	// Page is the page number to retrieve (1-indexed, default: 1).
	Page int

	// Limit is the number of items per page (default: 20, max: 100).
	Limit int

	// RegistryID filters to sessions belonging to one registry entry.
	RegistryID string

	// UserID filters to sessions serving one relational-store user.
	UserID string

	// ActiveOnly restricts results to sessions with no ended_at.
	ActiveOnly bool

	// StartedAfter filters to sessions started strictly after this time.
	// Zero value means no lower bound.
	StartedAfter time.Time
}

// Normalize applies defaults and validates the SessionListOptions.
func (o *SessionListOptions) Normalize() {
	if o.Page < 1 {
		o.Page = 1
	}
	if o.Limit < 1 {
		o.Limit = 20
	}
	if o.Limit > 100 {
		o.Limit = 100
	}
}

// Offset calculates the offset for SQL queries based on page and limit.
func (o *SessionListOptions) Offset() int {
	return (o.Page - 1) * o.Limit
}
