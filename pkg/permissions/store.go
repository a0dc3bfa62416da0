package permissions

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Store persists materialized permission rows in the shared relational store.
// All writes are idempotent upserts keyed on the row uniqueness invariant,
// so concurrent writers to the same tuple linearize to last-write-wins and
// event replays never create duplicates.
type Store struct {
	db *sql.DB
}

// NewStore creates a new permission store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const rowColumns = `id, user_id, guest_id, resource_type, resource_id, permission, source_type, source_id, priority, expires_at, created_by_id, created_at, updated_at`

// Upsert writes a row, overwriting any existing row with the same
// (principal, resource, source_type, source_id) tuple.
func (s *Store) Upsert(ctx context.Context, row *UnifiedPermission) error {
	if err := row.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO unified_permissions (user_id, guest_id, resource_type, resource_id, permission, source_type, source_id, priority, expires_at, created_by_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (COALESCE(user_id, 0), COALESCE(guest_id, 0), resource_type, resource_id, source_type, source_id)
		DO UPDATE SET permission = EXCLUDED.permission,
		              priority = EXCLUDED.priority,
		              expires_at = EXCLUDED.expires_at,
		              updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`

	now := time.Now()
	err := s.db.QueryRowContext(ctx, query,
		row.UserID,
		row.GuestID,
		row.Type,
		row.ResourceID,
		row.Permission.String(),
		row.Source,
		row.SourceID,
		row.Priority,
		row.ExpiresAt,
		row.CreatedByID,
		now,
		now,
	).Scan(&row.ID, &row.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to upsert permission row: %w", err)
	}

	row.UpdatedAt = now
	return nil
}

// Delete removes the row with the given uniqueness key, if present.
func (s *Store) Delete(ctx context.Context, key RowKey) error {
	if !key.Principal.Valid() {
		return ErrInvalidPrincipal
	}

	where, args := principalClause(key.Principal, 1)
	n := len(args)
	query := fmt.Sprintf(`
		DELETE FROM unified_permissions
		WHERE %s AND resource_type = $%d AND resource_id = $%d AND source_type = $%d AND source_id = $%d
	`, where, n+1, n+2, n+3, n+4)
	args = append(args, key.Resource.Type, key.Resource.ID, key.Source, key.SourceID)

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete permission row: %w", err)
	}
	return nil
}

// DeleteBySource removes every row materialized from the given source
// record, across all principals. Used when a share, role, or group grant is
// revoked outright.
func (s *Store) DeleteBySource(ctx context.Context, source SourceType, sourceID int64) (int64, error) {
	query := `DELETE FROM unified_permissions WHERE source_type = $1 AND source_id = $2`
	res, err := s.db.ExecContext(ctx, query, source, sourceID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete rows for source %s:%d: %w", source, sourceID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted rows: %w", err)
	}
	return n, nil
}

// ListForPrincipalOnResources returns the principal's rows on any of the
// given resources. Expired rows are filtered in SQL; the resolver filters
// again so a stale clock here never extends access.
func (s *Store) ListForPrincipalOnResources(ctx context.Context, p Principal, refs []ResourceRef) ([]*UnifiedPermission, error) {
	if !p.Valid() {
		return nil, ErrInvalidPrincipal
	}
	if len(refs) == 0 {
		return nil, nil
	}

	where, args := principalClause(p, 1)

	// The ancestor chain is at most three entries, so an OR list stays
	// within a sane parameter count.
	conds := make([]string, 0, len(refs))
	for _, ref := range refs {
		n := len(args)
		conds = append(conds, fmt.Sprintf("(resource_type = $%d AND resource_id = $%d)", n+1, n+2))
		args = append(args, ref.Type, ref.ID)
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM unified_permissions
		WHERE %s
		  AND (%s)
		  AND (expires_at IS NULL OR expires_at > CURRENT_TIMESTAMP)
	`, rowColumns, where, strings.Join(conds, " OR "))

	return s.queryRows(ctx, query, args...)
}

// ListForPrincipal returns every non-expired row the principal holds, on any
// resource. Used by resource enumeration.
func (s *Store) ListForPrincipal(ctx context.Context, p Principal) ([]*UnifiedPermission, error) {
	if !p.Valid() {
		return nil, ErrInvalidPrincipal
	}

	where, args := principalClause(p, 1)
	query := fmt.Sprintf(`
		SELECT %s
		FROM unified_permissions
		WHERE %s
		  AND (expires_at IS NULL OR expires_at > CURRENT_TIMESTAMP)
		ORDER BY resource_type, resource_id
	`, rowColumns, where)

	return s.queryRows(ctx, query, args...)
}

// DeleteExpired removes rows whose expiry has passed. Returns the number of
// rows removed.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `DELETE FROM unified_permissions WHERE expires_at IS NOT NULL AND expires_at <= $1`
	res, err := s.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired rows: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count expired rows: %w", err)
	}
	return n, nil
}

func (s *Store) queryRows(ctx context.Context, query string, args ...interface{}) ([]*UnifiedPermission, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query permission rows: %w", err)
	}
	defer rows.Close()

	var result []*UnifiedPermission
	for rows.Next() {
		row, err := scanPermissionRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// principalClause builds the WHERE fragment matching a principal, starting
// placeholder numbering at the given index.
func principalClause(p Principal, start int) (string, []interface{}) {
	if p.UserID != nil {
		return fmt.Sprintf("user_id = $%d AND guest_id IS NULL", start), []interface{}{*p.UserID}
	}
	return fmt.Sprintf("guest_id = $%d AND user_id IS NULL", start), []interface{}{*p.GuestID}
}

// scanPermissionRow scans one row from a result set.
func scanPermissionRow(scanner interface {
	Scan(dest ...interface{}) error
}) (*UnifiedPermission, error) {
	var row UnifiedPermission
	var userID, guestID, createdBy sql.NullInt64
	var permission string
	var expiresAt sql.NullTime

	err := scanner.Scan(
		&row.ID,
		&userID,
		&guestID,
		&row.Type,
		&row.ResourceID,
		&permission,
		&row.Source,
		&row.SourceID,
		&row.Priority,
		&expiresAt,
		&createdBy,
		&row.CreatedAt,
		&row.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan permission row: %w", err)
	}

	level, err := ParsePermissionLevel(permission)
	if err != nil {
		return nil, fmt.Errorf("failed to scan permission row: %w", err)
	}
	row.Permission = level

	if userID.Valid {
		id := userID.Int64
		row.UserID = &id
	}
	if guestID.Valid {
		id := guestID.Int64
		row.GuestID = &id
	}
	if createdBy.Valid {
		id := createdBy.Int64
		row.CreatedByID = &id
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		row.ExpiresAt = &t
	}

	return &row, nil
}
