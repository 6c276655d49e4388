package mcp

import (
	"context"
	"errors"

	"github.com/scrypster/memgate/pkg/types"
)

// ErrNoScope is returned when a tool call arrives without a resolved
// caller in its context. Tools never run anonymously: the transport is
// responsible for attaching a Scope before dispatching.
var ErrNoScope = errors.New("no caller identity in request context")

// ErrBlockedClient is returned when the calling client's registry
// status is blocked. Blocked clients get no data access at all.
var ErrBlockedClient = errors.New("client is blocked")

// Scope carries the per-connection caller details every tool handler
// needs: who the user is, which client is speaking for them, and the
// trust status the registry assigned at connection time.
//
// The scope travels in the request context, set once by the transport
// when the connection is accepted. It is never stored in a package-level
// variable and never mutated after creation.
type Scope struct {
	// UserID is the memory owner extracted from the connection path.
	UserID string

	// Identity is the resolver's verdict for this connection.
	Identity *types.ClientIdentity

	// RegistryStatus is the client's trust status at connection time.
	RegistryStatus types.RegistryStatus

	// SessionToken identifies the session row opened for this
	// connection.
	SessionToken string
}

// AppID returns the client identifier used as the acting app for
// ownership and access-control purposes.
func (s *Scope) AppID() string {
	if s.Identity == nil {
		return ""
	}
	return s.Identity.Identifier
}

// Quarantined reports whether the caller is operating with limited
// functionality pending admin review.
func (s *Scope) Quarantined() bool {
	return s.RegistryStatus.Quarantined()
}

type scopeKey struct{}

// WithScope returns a context carrying the caller scope.
func WithScope(ctx context.Context, scope *Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, scope)
}

// ScopeFrom extracts the caller scope from a context.
func ScopeFrom(ctx context.Context) (*Scope, bool) {
	scope, ok := ctx.Value(scopeKey{}).(*Scope)
	return scope, ok
}

// requireScope returns the scope or the errors the error-handling
// policy prescribes: no scope refuses the call, a blocked client is
// rejected outright.
func requireScope(ctx context.Context) (*Scope, error) {
	scope, ok := ScopeFrom(ctx)
	if !ok || scope == nil || scope.UserID == "" {
		return nil, ErrNoScope
	}
	if scope.RegistryStatus == types.StatusBlocked {
		return nil, ErrBlockedClient
	}
	return scope, nil
}
