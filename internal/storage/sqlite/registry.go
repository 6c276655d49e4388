package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/memgate/internal/storage"
	"github.com/scrypster/memgate/pkg/types"
)

const registrySelectColumns = `
	id, client_identifier, client_type, model_name, client_version,
	endpoint_pattern, status, auto_approved, detection_metadata, metadata,
	created_at, updated_at, last_seen_at
`

// GetEntry retrieves a registry entry by row id.
func (s *Store) GetEntry(ctx context.Context, id string) (*types.ClientRegistryEntry, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: entry id is required", storage.ErrInvalidInput)
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+registrySelectColumns+` FROM client_registry WHERE id = ?`, id)
	entry, err := scanRegistryEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get registry entry %s: %w", id, err)
	}
	return entry, nil
}

// GetEntryByIdentifier retrieves a registry entry by its unique client
// identifier.
func (s *Store) GetEntryByIdentifier(ctx context.Context, identifier string) (*types.ClientRegistryEntry, error) {
	if identifier == "" {
		return nil, fmt.Errorf("%w: client identifier is required", storage.ErrInvalidInput)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+registrySelectColumns+` FROM client_registry WHERE client_identifier = ?`, identifier)
	entry, err := scanRegistryEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get registry entry for %s: %w", identifier, err)
	}
	return entry, nil
}

// CreateEntry inserts a new registry entry.
func (s *Store) CreateEntry(ctx context.Context, entry *types.ClientRegistryEntry) error {
	if entry == nil {
		return storage.ErrInvalidInput
	}
	if entry.Identifier == "" {
		return fmt.Errorf("%w: client identifier is required", storage.ErrInvalidInput)
	}
	if entry.ClientType == "" {
		return fmt.Errorf("%w: client type is required", storage.ErrInvalidInput)
	}
	if !types.IsValidRegistryStatus(entry.Status) {
		return fmt.Errorf("%w: unknown status %q", storage.ErrInvalidInput, entry.Status)
	}

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now

	detectionJSON, err := marshalJSON(entry.DetectionDetails)
	if err != nil {
		return err
	}
	metadataJSON, err := marshalJSON(entry.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO client_registry (
			id, client_identifier, client_type, model_name, client_version,
			endpoint_pattern, status, auto_approved, detection_metadata, metadata,
			created_at, updated_at, last_seen_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.ID, entry.Identifier, entry.ClientType,
		nullString(entry.ModelName), nullString(entry.ClientVersion),
		entry.EndpointPattern, string(entry.Status), entry.AutoApproved,
		detectionJSON, metadataJSON,
		entry.CreatedAt, entry.UpdatedAt, entry.LastSeenAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return storage.ErrDuplicateIdentifier
		}
		return fmt.Errorf("sqlite: create registry entry %s: %w", entry.Identifier, err)
	}
	return nil
}

// UpdateEntry replaces the mutable fields of an existing entry. Status
// transition validity is the registry service's responsibility.
func (s *Store) UpdateEntry(ctx context.Context, entry *types.ClientRegistryEntry) error {
	if entry == nil || entry.ID == "" {
		return fmt.Errorf("%w: entry id is required", storage.ErrInvalidInput)
	}
	if !types.IsValidRegistryStatus(entry.Status) {
		return fmt.Errorf("%w: unknown status %q", storage.ErrInvalidInput, entry.Status)
	}

	entry.UpdatedAt = time.Now().UTC()

	detectionJSON, err := marshalJSON(entry.DetectionDetails)
	if err != nil {
		return err
	}
	metadataJSON, err := marshalJSON(entry.Metadata)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE client_registry
		SET client_type = ?, model_name = ?, client_version = ?,
		    endpoint_pattern = ?, status = ?, auto_approved = ?,
		    detection_metadata = ?, metadata = ?, updated_at = ?
		WHERE id = ?
	`,
		entry.ClientType, nullString(entry.ModelName), nullString(entry.ClientVersion),
		entry.EndpointPattern, string(entry.Status), entry.AutoApproved,
		detectionJSON, metadataJSON, entry.UpdatedAt,
		entry.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update registry entry %s: %w", entry.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: update registry entry %s: %w", entry.ID, err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// TouchLastSeen refreshes last_seen_at for an identifier. Missing
// identifiers are ignored; a touch is advisory, not an upsert.
func (s *Store) TouchLastSeen(ctx context.Context, identifier string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE client_registry SET last_seen_at = ? WHERE client_identifier = ?`,
		time.Now().UTC(), identifier)
	if err != nil {
		return fmt.Errorf("sqlite: touch last seen for %s: %w", identifier, err)
	}
	return nil
}

// ListEntries retrieves registry entries with pagination and filtering,
// newest first.
func (s *Store) ListEntries(ctx context.Context, opts storage.RegistryListOptions) (*storage.PaginatedResult[types.ClientRegistryEntry], error) {
	opts.Normalize()

	where := []string{"1=1"}
	args := []interface{}{}

	if opts.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(opts.Status))
	}
	if opts.ClientType != "" {
		where = append(where, "client_type = ?")
		args = append(args, opts.ClientType)
	}
	if opts.ModelName != "" {
		where = append(where, "model_name = ?")
		args = append(args, opts.ModelName)
	}
	if opts.QuarantinedOnly {
		where = append(where, "status IN ('unknown', 'pending')")
	}

	whereClause := strings.Join(where, " AND ")

	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM client_registry WHERE `+whereClause, args...).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("sqlite: count registry entries: %w", err)
	}

	query := `SELECT ` + registrySelectColumns + ` FROM client_registry WHERE ` + whereClause +
		` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, opts.Limit, opts.Offset())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list registry entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []types.ClientRegistryEntry
	for rows.Next() {
		entry, err := scanRegistryEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan registry row: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: registry rows: %w", err)
	}

	return &storage.PaginatedResult[types.ClientRegistryEntry]{
		Items:    entries,
		Total:    total,
		Page:     opts.Page,
		PageSize: opts.Limit,
		HasMore:  opts.Offset()+len(entries) < total,
	}, nil
}

// DeleteEntry hard-deletes a registry entry by row id.
func (s *Store) DeleteEntry(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM client_registry WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: delete registry entry %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: delete registry entry %s: %w", id, err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanRegistryEntry(row rowScanner) (*types.ClientRegistryEntry, error) {
	var entry types.ClientRegistryEntry
	var status string
	var modelName, clientVersion sql.NullString
	var detectionJSON, metadataJSON sql.NullString
	var lastSeenAt sql.NullTime

	err := row.Scan(
		&entry.ID, &entry.Identifier, &entry.ClientType, &modelName, &clientVersion,
		&entry.EndpointPattern, &status, &entry.AutoApproved, &detectionJSON, &metadataJSON,
		&entry.CreatedAt, &entry.UpdatedAt, &lastSeenAt,
	)
	if err != nil {
		return nil, err
	}

	entry.Status = types.RegistryStatus(status)
	entry.ModelName = modelName.String
	entry.ClientVersion = clientVersion.String
	if entry.DetectionDetails, err = unmarshalJSON(detectionJSON); err != nil {
		return nil, err
	}
	if entry.Metadata, err = unmarshalJSON(metadataJSON); err != nil {
		return nil, err
	}
	if lastSeenAt.Valid {
		t := lastSeenAt.Time
		entry.LastSeenAt = &t
	}
	return &entry, nil
}
