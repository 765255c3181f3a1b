package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/syncforge/crmsync/internal/apptype"
)

// GetProjectionState returns the projection watermark for one entity type.
// A never-projected entity yields a zero watermark, which means "project
// everything".
func (s *Store) GetProjectionState(ctx context.Context, entityType apptype.EntityType) (*apptype.ProjectionState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT last_projected_at, docs_projected FROM projection_status WHERE entity_type = ?`,
		string(entityType))

	var (
		lastProjected sql.NullString
		docs          int
	)
	if err := row.Scan(&lastProjected, &docs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &apptype.ProjectionState{EntityType: entityType}, nil
		}
		return nil, fmt.Errorf("failed to scan projection status: %w", err)
	}

	lastProjectedAt, err := nullableTime(lastProjected)
	if err != nil {
		return nil, err
	}
	return &apptype.ProjectionState{
		EntityType:      entityType,
		LastProjectedAt: lastProjectedAt,
		DocsProjected:   docs,
	}, nil
}

// CommitProjection advances the projection watermark after one durably
// upserted batch. The watermark is monotonic, mirroring CommitSync.
func (s *Store) CommitProjection(ctx context.Context, entityType apptype.EntityType, watermark time.Time, docs int) error {
	now := fmtTime(time.Now())
	wm := fmtTime(watermark)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projection_status (entity_type, last_projected_at, docs_projected, updated_at)
         VALUES (?, ?, ?, ?)
         ON CONFLICT (entity_type) DO UPDATE SET
             last_projected_at = CASE
                 WHEN last_projected_at IS NULL OR last_projected_at < excluded.last_projected_at
                 THEN excluded.last_projected_at
                 ELSE last_projected_at
             END,
             docs_projected = docs_projected + excluded.docs_projected,
             updated_at = excluded.updated_at`,
		string(entityType), wm, docs, now)
	if err != nil {
		return fmt.Errorf("failed to commit projection for %s: %w", entityType, err)
	}
	return nil
}

// ResetProjection clears the watermark so the next projection run is a full
// re-projection. Idempotent re-entry into the projector's normal path.
func (s *Store) ResetProjection(ctx context.Context, entityType apptype.EntityType) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE projection_status SET last_projected_at = NULL, docs_projected = 0, updated_at = ?
         WHERE entity_type = ?`,
		fmtTime(time.Now()), string(entityType))
	if err != nil {
		return fmt.Errorf("failed to reset projection for %s: %w", entityType, err)
	}
	return nil
}

// ListProjectionStates returns projection watermarks for all entity types
// that have projected at least once.
func (s *Store) ListProjectionStates(ctx context.Context) ([]apptype.ProjectionState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entity_type, last_projected_at, docs_projected FROM projection_status ORDER BY entity_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to query projection states: %w", err)
	}
	defer rows.Close()

	var states []apptype.ProjectionState
	for rows.Next() {
		var (
			entityType    string
			lastProjected sql.NullString
			docs          int
		)
		if err := rows.Scan(&entityType, &lastProjected, &docs); err != nil {
			return nil, fmt.Errorf("failed to scan projection status: %w", err)
		}
		lastProjectedAt, err := nullableTime(lastProjected)
		if err != nil {
			return nil, err
		}
		states = append(states, apptype.ProjectionState{
			EntityType:      apptype.EntityType(entityType),
			LastProjectedAt: lastProjectedAt,
			DocsProjected:   docs,
		})
	}
	return states, rows.Err()
}
