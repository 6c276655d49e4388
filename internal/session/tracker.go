// Package session tracks client connections: one row per accepted
// connection, touched on activity, stamped closed on disconnect or
// idle timeout.
package session

import (
	"context"
	"log"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/scrypster/memgate/internal/storage"
	"github.com/scrypster/memgate/pkg/types"
)

// Tracker manages client session rows. Session tokens are ULIDs, so
// they sort by creation time and never collide across restarts.
type Tracker struct {
	store       storage.SessionStore
	idleTimeout time.Duration
	logger      *log.Logger
}

// NewTracker creates a session tracker. idleTimeout controls when
// ReapIdle considers a session abandoned; zero disables reaping.
func NewTracker(store storage.SessionStore, idleTimeout time.Duration) *Tracker {
	return &Tracker{
		store:       store,
		idleTimeout: idleTimeout,
		logger:      log.New(log.Writer(), "[session] ", log.LstdFlags),
	}
}

// BeginParams carries the request details captured at connection time.
// Identity fields are frozen into the session row and never mutated.
type BeginParams struct {
	RegistryID      string
	UserID          string
	EndpointUsed    string
	UserAgent       string
	RemoteAddr      string
	ConfidenceScore int
}

// Begin opens a session for an accepted connection and returns the row
// with its generated token.
func (t *Tracker) Begin(ctx context.Context, p BeginParams) (*types.ClientSession, error) {
	session := &types.ClientSession{
		RegistryID:      p.RegistryID,
		UserID:          p.UserID,
		SessionToken:    ulid.Make().String(),
		EndpointUsed:    p.EndpointUsed,
		UserAgent:       p.UserAgent,
		RemoteAddr:      p.RemoteAddr,
		ConfidenceScore: p.ConfidenceScore,
	}
	if err := t.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Touch refreshes a session's activity timestamp.
func (t *Tracker) Touch(ctx context.Context, token string) error {
	return t.store.TouchSession(ctx, token)
}

// End closes a session. Ending twice is a no-op.
func (t *Tracker) End(ctx context.Context, token string) error {
	return t.store.EndSession(ctx, token)
}

// List returns sessions with pagination and filtering.
func (t *Tracker) List(ctx context.Context, opts storage.SessionListOptions) (*storage.PaginatedResult[types.ClientSession], error) {
	return t.store.ListSessions(ctx, opts)
}

// ReapIdle ends active sessions whose last activity is older than the
// idle timeout. Returns how many sessions were closed.
func (t *Tracker) ReapIdle(ctx context.Context) (int, error) {
	if t.idleTimeout <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-t.idleTimeout)

	reaped := 0
	page := 1
	for {
		result, err := t.store.ListSessions(ctx, storage.SessionListOptions{
			Page: page, Limit: 100, ActiveOnly: true,
		})
		if err != nil {
			return reaped, err
		}

		for _, sess := range result.Items {
			if sess.LastActivityAt.After(cutoff) {
				continue
			}
			if err := t.store.EndSession(ctx, sess.SessionToken); err != nil {
				t.logger.Printf("failed to end idle session %s: %v", sess.SessionToken, err)
				continue
			}
			reaped++
		}

		if !result.HasMore {
			break
		}
		page++
	}

	if reaped > 0 {
		t.logger.Printf("reaped %d idle sessions", reaped)
	}
	return reaped, nil
}

// RunReaper runs ReapIdle on a fixed interval until the context is
// canceled. Intended to be launched as a goroutine from server startup.
func (t *Tracker) RunReaper(ctx context.Context, interval time.Duration) {
	if interval <= 0 || t.idleTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := t.ReapIdle(ctx); err != nil {
				t.logger.Printf("reaper sweep failed: %v", err)
			}
		}
	}
}
