package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/memgate/internal/storage"
	"github.com/scrypster/memgate/pkg/types"
)

const sessionSelectColumns = `
	id, client_registry_id, user_id, session_token, endpoint_used,
	user_agent, remote_addr, confidence_score,
	started_at, last_activity_at, ended_at
`

// CreateSession inserts a new session row.
func (s *Store) CreateSession(ctx context.Context, session *types.ClientSession) error {
	if session == nil {
		return storage.ErrInvalidInput
	}
	if session.RegistryID == "" || session.UserID == "" || session.SessionToken == "" {
		return fmt.Errorf("%w: registry id, user id, and session token are required", storage.ErrInvalidInput)
	}

	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if session.StartedAt.IsZero() {
		session.StartedAt = now
	}
	if session.LastActivityAt.IsZero() {
		session.LastActivityAt = session.StartedAt
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO client_sessions (
			id, client_registry_id, user_id, session_token, endpoint_used,
			user_agent, remote_addr, confidence_score,
			started_at, last_activity_at, ended_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		session.ID, session.RegistryID, session.UserID, session.SessionToken, session.EndpointUsed,
		nullString(session.UserAgent), nullString(session.RemoteAddr), session.ConfidenceScore,
		session.StartedAt, session.LastActivityAt, session.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: create session for %s: %w", session.RegistryID, err)
	}
	return nil
}

// TouchSession refreshes last_activity_at for a session token. Ended
// sessions are never revived by a touch.
func (s *Store) TouchSession(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE client_sessions SET last_activity_at = ?
		WHERE session_token = ? AND ended_at IS NULL
	`, time.Now().UTC(), token)
	if err != nil {
		return fmt.Errorf("sqlite: touch session: %w", err)
	}
	return nil
}

// EndSession stamps ended_at for a session token. Ending an already
// ended session is a no-op.
func (s *Store) EndSession(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE client_sessions SET ended_at = ?, last_activity_at = ?
		WHERE session_token = ? AND ended_at IS NULL
	`, time.Now().UTC(), time.Now().UTC(), token)
	if err != nil {
		return fmt.Errorf("sqlite: end session: %w", err)
	}
	return nil
}

// ListSessions retrieves sessions with pagination and filtering, newest
// first.
func (s *Store) ListSessions(ctx context.Context, opts storage.SessionListOptions) (*storage.PaginatedResult[types.ClientSession], error) {
	opts.Normalize()

	where := []string{"1=1"}
	args := []interface{}{}

	if opts.RegistryID != "" {
		where = append(where, "client_registry_id = ?")
		args = append(args, opts.RegistryID)
	}
	if opts.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, opts.UserID)
	}
	if opts.ActiveOnly {
		where = append(where, "ended_at IS NULL")
	}
	if !opts.StartedAfter.IsZero() {
		where = append(where, "started_at > ?")
		args = append(args, opts.StartedAfter)
	}

	whereClause := strings.Join(where, " AND ")

	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM client_sessions WHERE `+whereClause, args...).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("sqlite: count sessions: %w", err)
	}

	query := `SELECT ` + sessionSelectColumns + ` FROM client_sessions WHERE ` + whereClause +
		` ORDER BY started_at DESC LIMIT ? OFFSET ?`
	args = append(args, opts.Limit, opts.Offset())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []types.ClientSession
	for rows.Next() {
		var sess types.ClientSession
		var userAgent, remoteAddr sql.NullString
		var endedAt sql.NullTime
		err := rows.Scan(
			&sess.ID, &sess.RegistryID, &sess.UserID, &sess.SessionToken, &sess.EndpointUsed,
			&userAgent, &remoteAddr, &sess.ConfidenceScore,
			&sess.StartedAt, &sess.LastActivityAt, &endedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan session row: %w", err)
		}
		sess.UserAgent = userAgent.String
		sess.RemoteAddr = remoteAddr.String
		if endedAt.Valid {
			t := endedAt.Time
			sess.EndedAt = &t
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: session rows: %w", err)
	}

	return &storage.PaginatedResult[types.ClientSession]{
		Items:    sessions,
		Total:    total,
		Page:     opts.Page,
		PageSize: opts.Limit,
		HasMore:  opts.Offset()+len(sessions) < total,
	}, nil
}
