package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/memgate/internal/storage"
	"github.com/scrypster/memgate/pkg/types"
)

// recordSelectColumns is the canonical SELECT column list for the
// memories table. It must match the scan order in scanRecord.
const recordSelectColumns = `
	id, user_id, app_id, content, state, metadata,
	created_at, updated_at, archived_at, deleted_at
`

// GetRecord retrieves a record by id, including terminal records.
func (s *Store) GetRecord(ctx context.Context, id string) (*types.MemoryRecord, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: record id is required", storage.ErrInvalidInput)
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+recordSelectColumns+` FROM memories WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get record %s: %w", id, err)
	}
	return rec, nil
}

// ListRecords retrieves all records owned by a user, oldest first.
func (s *Store) ListRecords(ctx context.Context, userID string, includeTerminal bool) ([]*types.MemoryRecord, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", storage.ErrInvalidInput)
	}

	query := `SELECT ` + recordSelectColumns + ` FROM memories WHERE user_id = ?`
	if !includeTerminal {
		query += ` AND state NOT IN ('deleted', 'archived')`
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list records for user %s: %w", userID, err)
	}
	defer func() { _ = rows.Close() }()

	var records []*types.MemoryRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan record row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: record rows: %w", err)
	}
	return records, nil
}

// LiveRecordIDs returns the ids of a user's records whose state is
// neither deleted nor archived.
func (s *Store) LiveRecordIDs(ctx context.Context, userID string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM memories WHERE user_id = ? AND state NOT IN ('deleted', 'archived')`, userID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: live record ids for user %s: %w", userID, err)
	}
	defer func() { _ = rows.Close() }()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: scan record id: %w", err)
		}
		ids[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: record id rows: %w", err)
	}
	return ids, nil
}

// UpsertRecord creates or replaces a record and appends the given
// history row atomically. State transition validity is the caller's
// responsibility; the record and its audit row always commit together.
// hist may be nil only when the write doesn't change the state.
func (s *Store) UpsertRecord(ctx context.Context, rec *types.MemoryRecord, hist *types.StatusHistory) error {
	if rec == nil {
		return storage.ErrInvalidInput
	}
	if rec.ID == "" {
		return fmt.Errorf("%w: record id is required", storage.ErrInvalidInput)
	}
	if rec.Content == "" {
		return fmt.Errorf("%w: record content is required", storage.ErrInvalidInput)
	}

	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if rec.State == "" {
		rec.State = types.StateActive
	}

	metadataJSON, err := marshalJSON(rec.Metadata)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin upsert tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO memories (
			id, user_id, app_id, content, state, metadata,
			created_at, updated_at, archived_at, deleted_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			state = excluded.state,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at,
			archived_at = excluded.archived_at,
			deleted_at = excluded.deleted_at
	`,
		rec.ID, rec.UserID, rec.AppID, rec.Content, string(rec.State), metadataJSON,
		rec.CreatedAt, rec.UpdatedAt, rec.ArchivedAt, rec.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: upsert record %s: %w", rec.ID, err)
	}

	if hist != nil {
		if err := insertHistory(ctx, tx, hist); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit upsert tx: %w", err)
	}
	return nil
}

// TransitionRecord moves an existing record to the next state and
// appends the matching history row in one transaction.
func (s *Store) TransitionRecord(ctx context.Context, id string, next types.MemoryState, changedBy string) (*types.MemoryRecord, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: record id is required", storage.ErrInvalidInput)
	}
	if !types.IsValidMemoryState(next) {
		return nil, fmt.Errorf("%w: unknown state %q", storage.ErrInvalidInput, next)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin transition tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+recordSelectColumns+` FROM memories WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: load record %s for transition: %w", id, err)
	}

	if !types.IsValidStateTransition(rec.State, next) {
		return nil, fmt.Errorf("%w: %s -> %s", storage.ErrInvalidTransition, rec.State, next)
	}

	now := time.Now().UTC()
	oldState := rec.State
	rec.State = next
	rec.UpdatedAt = now
	switch next {
	case types.StateDeleted:
		rec.DeletedAt = &now
	case types.StateArchived:
		rec.ArchivedAt = &now
	case types.StateActive:
		// Reactivation clears the terminal stamps.
		rec.DeletedAt = nil
		rec.ArchivedAt = nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE memories
		SET state = ?, updated_at = ?, archived_at = ?, deleted_at = ?
		WHERE id = ?
	`, string(rec.State), rec.UpdatedAt, rec.ArchivedAt, rec.DeletedAt, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: transition record %s: %w", id, err)
	}

	hist := &types.StatusHistory{
		MemoryID:  rec.ID,
		ChangedBy: changedBy,
		OldState:  oldState,
		NewState:  next,
		ChangedAt: now,
	}
	if err := insertHistory(ctx, tx, hist); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: commit transition tx: %w", err)
	}
	return rec, nil
}

// HistoryForRecord returns the transition history for a record, oldest first.
func (s *Store) HistoryForRecord(ctx context.Context, memoryID string) ([]*types.StatusHistory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, memory_id, changed_by, old_state, new_state, changed_at
		FROM memory_status_history
		WHERE memory_id = ?
		ORDER BY changed_at ASC, id ASC
	`, memoryID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: history for record %s: %w", memoryID, err)
	}
	defer func() { _ = rows.Close() }()

	var history []*types.StatusHistory
	for rows.Next() {
		var h types.StatusHistory
		var oldState sql.NullString
		if err := rows.Scan(&h.ID, &h.MemoryID, &h.ChangedBy, &oldState, &h.NewState, &h.ChangedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan history row: %w", err)
		}
		if oldState.Valid {
			h.OldState = types.MemoryState(oldState.String)
		}
		history = append(history, &h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: history rows: %w", err)
	}
	return history, nil
}

// UserIDs returns every user id owning at least one record.
func (s *Store) UserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT user_id FROM memories ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list user ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: user id rows: %w", err)
	}
	return ids, nil
}

// AppendAccessLog writes one access log row.
func (s *Store) AppendAccessLog(ctx context.Context, entry *types.AccessLog) error {
	if entry == nil {
		return storage.ErrInvalidInput
	}
	if entry.MemoryID == "" || entry.AppID == "" || entry.AccessType == "" {
		return fmt.Errorf("%w: memory id, app id, and access type are required", storage.ErrInvalidInput)
	}

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.AccessedAt.IsZero() {
		entry.AccessedAt = time.Now().UTC()
	}

	metadataJSON, err := marshalJSON(entry.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memory_access_logs (id, memory_id, app_id, access_type, metadata, accessed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.MemoryID, entry.AppID, entry.AccessType, metadataJSON, entry.AccessedAt)
	if err != nil {
		return fmt.Errorf("sqlite: append access log for %s: %w", entry.MemoryID, err)
	}
	return nil
}

// AccessLogsForRecord returns access log rows for one record, newest first.
func (s *Store) AccessLogsForRecord(ctx context.Context, memoryID string, limit int) ([]*types.AccessLog, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, memory_id, app_id, access_type, metadata, accessed_at
		FROM memory_access_logs
		WHERE memory_id = ?
		ORDER BY accessed_at DESC
		LIMIT ?
	`, memoryID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: access logs for %s: %w", memoryID, err)
	}
	defer func() { _ = rows.Close() }()

	var logs []*types.AccessLog
	for rows.Next() {
		var l types.AccessLog
		var metadataJSON sql.NullString
		if err := rows.Scan(&l.ID, &l.MemoryID, &l.AppID, &l.AccessType, &metadataJSON, &l.AccessedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan access log row: %w", err)
		}
		if l.Metadata, err = unmarshalJSON(metadataJSON); err != nil {
			return nil, err
		}
		logs = append(logs, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: access log rows: %w", err)
	}
	return logs, nil
}

// CreateRule stores a new access rule.
func (s *Store) CreateRule(ctx context.Context, rule *types.AccessRule) error {
	if rule == nil {
		return storage.ErrInvalidInput
	}
	if rule.SubjectType == "" || rule.ObjectType == "" {
		return fmt.Errorf("%w: subject type and object type are required", storage.ErrInvalidInput)
	}
	if rule.Effect != types.EffectAllow && rule.Effect != types.EffectDeny {
		return fmt.Errorf("%w: effect must be allow or deny", storage.ErrInvalidInput)
	}

	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO access_rules (id, subject_type, subject_id, object_type, object_id, effect, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rule.ID, rule.SubjectType, nullString(rule.SubjectID), rule.ObjectType, nullString(rule.ObjectID),
		string(rule.Effect), rule.CreatedAt)
	if err != nil {
		return fmt.Errorf("sqlite: create access rule: %w", err)
	}
	return nil
}

// RulesForSubject returns rules matching the subject type and id,
// including wildcard-subject rules.
func (s *Store) RulesForSubject(ctx context.Context, subjectType, subjectID string) ([]*types.AccessRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subject_type, subject_id, object_type, object_id, effect, created_at
		FROM access_rules
		WHERE subject_type = ? AND (subject_id = ? OR subject_id IS NULL)
		ORDER BY created_at ASC
	`, subjectType, subjectID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: rules for subject %s/%s: %w", subjectType, subjectID, err)
	}
	defer func() { _ = rows.Close() }()

	var rules []*types.AccessRule
	for rows.Next() {
		var r types.AccessRule
		var subjID, objID sql.NullString
		var effect string
		if err := rows.Scan(&r.ID, &r.SubjectType, &subjID, &r.ObjectType, &objID, &effect, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan rule row: %w", err)
		}
		r.SubjectID = subjID.String
		r.ObjectID = objID.String
		r.Effect = types.RuleEffect(effect)
		rules = append(rules, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: rule rows: %w", err)
	}
	return rules, nil
}

// DeleteRule removes a rule by id.
func (s *Store) DeleteRule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM access_rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: delete rule %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: delete rule %s: %w", id, err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// insertHistory appends one status history row inside an open transaction.
func insertHistory(ctx context.Context, tx *sql.Tx, hist *types.StatusHistory) error {
	if hist.ID == "" {
		hist.ID = uuid.New().String()
	}
	if hist.ChangedAt.IsZero() {
		hist.ChangedAt = time.Now().UTC()
	}

	var oldState sql.NullString
	if hist.OldState != "" {
		oldState = sql.NullString{String: string(hist.OldState), Valid: true}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO memory_status_history (id, memory_id, changed_by, old_state, new_state, changed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, hist.ID, hist.MemoryID, hist.ChangedBy, oldState, string(hist.NewState), hist.ChangedAt)
	if err != nil {
		return fmt.Errorf("sqlite: insert history for %s: %w", hist.MemoryID, err)
	}
	return nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scanning.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanRecord scans a single memories row. The column order must match
// recordSelectColumns.
func scanRecord(row rowScanner) (*types.MemoryRecord, error) {
	var rec types.MemoryRecord
	var state string
	var metadataJSON sql.NullString
	var archivedAt, deletedAt sql.NullTime

	err := row.Scan(
		&rec.ID, &rec.UserID, &rec.AppID, &rec.Content, &state, &metadataJSON,
		&rec.CreatedAt, &rec.UpdatedAt, &archivedAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.State = types.MemoryState(state)
	if rec.Metadata, err = unmarshalJSON(metadataJSON); err != nil {
		return nil, err
	}
	if archivedAt.Valid {
		t := archivedAt.Time
		rec.ArchivedAt = &t
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		rec.DeletedAt = &t
	}
	return &rec, nil
}

// nullString converts an empty string to a SQL NULL.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
