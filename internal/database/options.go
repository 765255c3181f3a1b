package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/syncforge/crmsync/internal/apptype"
)

// ResolveOption returns the surrogate id for a select-field value, creating
// the options row on first sight. The table is append-only: an existing id
// is never rewritten, so references from already-stored rows stay valid.
func (s *Store) ResolveOption(ctx context.Context, entityType apptype.EntityType, fieldName, rawValue string) (int64, error) {
	id, err := s.lookupOption(ctx, entityType, fieldName, rawValue)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO property_options (entity_type, field_name, raw_value, created_at)
         VALUES (?, ?, ?, ?)
         ON CONFLICT (entity_type, field_name, raw_value) DO NOTHING`,
		string(entityType), fieldName, rawValue, fmtTime(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("failed to insert option %s.%s=%q: %w", entityType, fieldName, rawValue, err)
	}

	// Re-select rather than LastInsertId: the conflict path means another
	// writer got there first and the id already exists.
	return s.lookupOption(ctx, entityType, fieldName, rawValue)
}

func (s *Store) lookupOption(ctx context.Context, entityType apptype.EntityType, fieldName, rawValue string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM property_options WHERE entity_type = ? AND field_name = ? AND raw_value = ?`,
		string(entityType), fieldName, rawValue).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	if err != nil {
		return 0, fmt.Errorf("failed to look up option %s.%s=%q: %w", entityType, fieldName, rawValue, err)
	}
	return id, nil
}

// OptionValue returns the raw source value behind a surrogate id, used when
// rendering documents.
func (s *Store) OptionValue(ctx context.Context, id int64) (string, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT raw_value FROM property_options WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up option %d: %w", id, err)
	}
	return raw, nil
}
