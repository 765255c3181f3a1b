package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/syncforge/crmsync/internal/apptype"
)

// ErrSyncRunning is returned by BeginSync when a run for the same entity
// type is already in flight. Callers must not queue behind it.
var ErrSyncRunning = errors.New("sync already running for entity type")

// BeginSync transitions the entity type to running and stamps last_sync_at.
// It fails fast with ErrSyncRunning if another run holds the row; the
// sync_status row is the single serialization point per entity type.
func (s *Store) BeginSync(ctx context.Context, entityType apptype.EntityType) error {
	now := fmtTime(time.Now())

	// Seed the row on first contact so the guarded UPDATE below has
	// something to match.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_status (entity_type, status, updated_at) VALUES (?, 'success', ?)
         ON CONFLICT (entity_type) DO NOTHING`,
		string(entityType), now)
	if err != nil {
		return fmt.Errorf("failed to seed sync status for %s: %w", entityType, err)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE sync_status
         SET status = 'running', last_sync_at = ?, error_message = NULL, updated_at = ?
         WHERE entity_type = ? AND status != 'running'`,
		now, now, string(entityType))
	if err != nil {
		return fmt.Errorf("failed to begin sync for %s: %w", entityType, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrSyncRunning
	}
	return nil
}

// CommitSync records a successful run. The watermark only advances: a
// commit with an older (or zero) watermark keeps the stored value, so
// last_successful_sync_at is monotonically non-decreasing.
func (s *Store) CommitSync(ctx context.Context, entityType apptype.EntityType, watermark time.Time, count int) error {
	now := fmtTime(time.Now())
	var wm any
	if !watermark.IsZero() {
		wm = fmtTime(watermark)
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE sync_status
         SET status = 'success',
             last_successful_sync_at = CASE
                 WHEN ? IS NOT NULL AND (last_successful_sync_at IS NULL OR last_successful_sync_at < ?)
                 THEN ?
                 ELSE last_successful_sync_at
             END,
             records_synced = ?,
             error_message = NULL,
             updated_at = ?
         WHERE entity_type = ?`,
		wm, wm, wm, count, now, string(entityType))
	if err != nil {
		return fmt.Errorf("failed to commit sync for %s: %w", entityType, err)
	}
	return nil
}

// FailSync records a failed run. The prior watermark is left untouched so
// the next cycle retries the same range.
func (s *Store) FailSync(ctx context.Context, entityType apptype.EntityType, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	now := fmtTime(time.Now())
	_, err := s.db.ExecContext(ctx,
		`UPDATE sync_status
         SET status = 'error', error_message = ?, records_synced = 0, updated_at = ?
         WHERE entity_type = ?`,
		msg, now, string(entityType))
	if err != nil {
		return fmt.Errorf("failed to record sync failure for %s: %w", entityType, err)
	}
	return nil
}

// GetSyncState returns the watermark row for one entity type, or a zero
// state when the entity has never synced.
func (s *Store) GetSyncState(ctx context.Context, entityType apptype.EntityType) (*apptype.SyncState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT entity_type, last_sync_at, last_successful_sync_at, status, error_message, records_synced
         FROM sync_status WHERE entity_type = ?`,
		string(entityType))

	state, err := scanSyncState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return &apptype.SyncState{EntityType: entityType, Status: apptype.StatusSuccess}, nil
	}
	if err != nil {
		return nil, err
	}
	return state, nil
}

// ListSyncStates returns watermark rows for all entity types that have
// synced at least once.
func (s *Store) ListSyncStates(ctx context.Context) ([]apptype.SyncState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entity_type, last_sync_at, last_successful_sync_at, status, error_message, records_synced
         FROM sync_status ORDER BY entity_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync states: %w", err)
	}
	defer rows.Close()

	var states []apptype.SyncState
	for rows.Next() {
		state, err := scanSyncState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, *state)
	}
	return states, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSyncState(row rowScanner) (*apptype.SyncState, error) {
	var (
		entityType    string
		lastSync      sql.NullString
		lastSucc      sql.NullString
		status        string
		errorMessage  sql.NullString
		recordsSynced int
	)
	if err := row.Scan(&entityType, &lastSync, &lastSucc, &status, &errorMessage, &recordsSynced); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan sync status: %w", err)
	}

	lastSyncAt, err := nullableTime(lastSync)
	if err != nil {
		return nil, err
	}
	lastSuccAt, err := nullableTime(lastSucc)
	if err != nil {
		return nil, err
	}
	return &apptype.SyncState{
		EntityType:           apptype.EntityType(entityType),
		LastSyncAt:           lastSyncAt,
		LastSuccessfulSyncAt: lastSuccAt,
		Status:               apptype.SyncStatus(status),
		ErrorMessage:         errorMessage.String,
		RecordsSynced:        recordsSynced,
	}, nil
}
