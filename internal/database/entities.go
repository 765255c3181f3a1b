package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/syncforge/crmsync/internal/apptype"
	"github.com/syncforge/crmsync/internal/mapping"
)

// storedColumns expands a mapping into the flat column list used by upserts
// and reads. Reference fields contribute their internal-key and deferred
// marker columns. The order is fixed per entity type, so generated SQL is
// stable and cacheable.
func storedColumns(m mapping.Entity) []string {
	var cols []string
	for _, f := range m.Field {
		if f.Kind == mapping.Reference {
			idCol, refCol := mapping.RefColumns(f)
			cols = append(cols, idCol, refCol)
			continue
		}
		cols = append(cols, f.Column)
	}
	return cols
}

// UpsertRow writes one mapped record keyed by source_id. Applying the same
// record twice yields the same row state; rows are updated in place, never
// duplicated. Returns the internal key.
func (s *Store) UpsertRow(ctx context.Context, m mapping.Entity, sourceID string, cols map[string]any, sourceUpdatedAt time.Time) (int64, error) {
	if strings.TrimSpace(sourceID) == "" {
		return 0, fmt.Errorf("source id must be a non-empty string")
	}

	names := storedColumns(m)
	now := fmtTime(time.Now())
	var srcUpdated any
	if !sourceUpdatedAt.IsZero() {
		srcUpdated = fmtTime(sourceUpdatedAt)
	}

	args := make([]any, 0, len(names)+4)
	var sets []string
	for _, name := range names {
		sets = append(sets, name+" = ?")
		args = append(args, storableValue(cols[name]))
	}
	sets = append(sets, "source_updated_at = ?", "last_synced_at = ?", "updated_at = ?")
	args = append(args, srcUpdated, now, now, sourceID)

	updateSQL := fmt.Sprintf("UPDATE %s SET %s WHERE source_id = ?", m.Table, strings.Join(sets, ", "))
	stmt, err := s.getPreparedStmt(ctx, updateSQL)
	if err != nil {
		return 0, err
	}
	result, err := stmt.ExecContext(ctx, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to update %s %q: %w", m.Table, sourceID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected > 0 {
		return s.lookupID(ctx, m.Table, sourceID)
	}

	insertCols := append([]string{"source_id"}, names...)
	insertCols = append(insertCols, "source_updated_at", "last_synced_at", "updated_at")
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(insertCols)), ", ")

	insertArgs := make([]any, 0, len(insertCols))
	insertArgs = append(insertArgs, sourceID)
	for _, name := range names {
		insertArgs = append(insertArgs, storableValue(cols[name]))
	}
	insertArgs = append(insertArgs, srcUpdated, now, now)

	insertSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		m.Table, strings.Join(insertCols, ", "), placeholders)
	stmt, err = s.getPreparedStmt(ctx, insertSQL)
	if err != nil {
		return 0, err
	}
	insResult, err := stmt.ExecContext(ctx, insertArgs...)
	if err != nil {
		return 0, fmt.Errorf("failed to insert %s %q: %w", m.Table, sourceID, err)
	}
	id, err := insResult.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get insert id for %s %q: %w", m.Table, sourceID, err)
	}
	return id, nil
}

// LookupInternalID resolves a source id to the internal key of an
// already-stored row of the target entity type. The second return is false
// when the target has not been synced yet.
func (s *Store) LookupInternalID(ctx context.Context, target apptype.EntityType, sourceID string) (int64, bool, error) {
	m, ok := mapping.ForType(target)
	if !ok {
		return 0, false, fmt.Errorf("no mapping for entity type %q", target)
	}
	id, err := s.lookupID(ctx, m.Table, sourceID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (s *Store) lookupID(ctx context.Context, table, sourceID string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT id FROM %s WHERE source_id = ?", table), sourceID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	if err != nil {
		return 0, fmt.Errorf("failed to look up %s %q: %w", table, sourceID, err)
	}
	return id, nil
}

// ChangedSince reads rows updated strictly after since, oldest first, up to
// limit. Ties on updated_at break by internal id so pagination is stable.
func (s *Store) ChangedSince(ctx context.Context, m mapping.Entity, since time.Time, limit int) ([]apptype.StoredRow, error) {
	if limit <= 0 {
		limit = 50
	}
	names := storedColumns(m)
	timestampCols := make(map[string]bool)
	for _, f := range m.Field {
		if f.Kind == mapping.Timestamp {
			timestampCols[f.Column] = true
		}
	}
	query := fmt.Sprintf(
		"SELECT id, source_id, %s, updated_at FROM %s WHERE updated_at > ? ORDER BY updated_at, id LIMIT ?",
		strings.Join(names, ", "), m.Table)

	rows, err := s.db.QueryContext(ctx, query, fmtTime(since), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query changed %s rows: %w", m.Table, err)
	}
	defer rows.Close()

	var out []apptype.StoredRow
	for rows.Next() {
		dest := make([]any, len(names)+3)
		var (
			id        int64
			sourceID  string
			updatedAt string
		)
		dest[0] = &id
		dest[1] = &sourceID
		raw := make([]any, len(names))
		for i := range names {
			dest[i+2] = &raw[i]
		}
		dest[len(dest)-1] = &updatedAt

		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", m.Table, err)
		}

		columns := make(map[string]any, len(names))
		for i, name := range names {
			v, err := normalizeColumn(raw[i])
			if err != nil {
				return nil, fmt.Errorf("column %s.%s: %w", m.Table, name, err)
			}
			if s, ok := v.(string); ok && timestampCols[name] {
				t, err := parseTime(s)
				if err != nil {
					return nil, fmt.Errorf("column %s.%s: %w", m.Table, name, err)
				}
				v = t
			}
			columns[name] = v
		}

		updated, err := parseTime(updatedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, apptype.StoredRow{
			ID:        id,
			SourceID:  sourceID,
			Columns:   columns,
			UpdatedAt: updated,
		})
	}
	return out, rows.Err()
}

// storableValue converts writer-level values into driver-ready ones.
// Timestamps take the store's text layout; booleans become 0/1.
func storableValue(v any) any {
	switch val := v.(type) {
	case time.Time:
		if val.IsZero() {
			return nil
		}
		return fmtTime(val)
	case *time.Time:
		if val == nil || val.IsZero() {
			return nil
		}
		return fmtTime(*val)
	case bool:
		if val {
			return int64(1)
		}
		return int64(0)
	default:
		return v
	}
}

// normalizeColumn maps driver values onto the small set of types the
// projector understands. NULL stays nil; it is never coerced.
func normalizeColumn(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return string(val), nil
	case string, int64, float64, bool:
		return val, nil
	case time.Time:
		return val, nil
	default:
		return nil, fmt.Errorf("unsupported column type %T", v)
	}
}

// DisplayName returns a human-readable label for a stored row, used to
// enrich rendered documents with resolved reference names.
func (s *Store) DisplayName(ctx context.Context, target apptype.EntityType, internalID int64) (string, error) {
	var expr string
	switch target {
	case apptype.EntityOwners, apptype.EntityContacts:
		expr = "TRIM(COALESCE(firstname, '') || ' ' || COALESCE(lastname, ''))"
	case apptype.EntityCompanies:
		expr = "COALESCE(name, '')"
	case apptype.EntityDeals:
		expr = "COALESCE(dealname, '')"
	default:
		return "", nil
	}
	m, ok := mapping.ForType(target)
	if !ok {
		return "", fmt.Errorf("no mapping for entity type %q", target)
	}

	var name string
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", expr, m.Table), internalID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up display name in %s: %w", m.Table, err)
	}
	return name, nil
}
