package database

import (
	"context"
	"fmt"
	"time"

	"github.com/syncforge/crmsync/internal/mapping"
)

// ReconcileDeferred resolves deferred reference markers for one entity
// type: rows whose reference column is still NULL but whose marker holds an
// external id now present in the target table get their internal key filled
// in, without reprocessing the source record. Returns the number of rows
// reconciled.
func (s *Store) ReconcileDeferred(ctx context.Context, m mapping.Entity) (int64, error) {
	var reconciled int64
	for _, f := range m.Field {
		if f.Kind != mapping.Reference {
			continue
		}
		target, ok := mapping.ForType(f.Target)
		if !ok {
			return reconciled, fmt.Errorf("reference %s.%s targets unknown entity type %q", m.Table, f.Column, f.Target)
		}
		idCol, refCol := mapping.RefColumns(f)

		query := fmt.Sprintf(
			`UPDATE %[1]s
             SET %[2]s = (SELECT t.id FROM %[4]s t WHERE t.source_id = %[1]s.%[3]s),
                 updated_at = ?
             WHERE %[2]s IS NULL AND %[3]s IS NOT NULL
               AND EXISTS (SELECT 1 FROM %[4]s t WHERE t.source_id = %[1]s.%[3]s)`,
			m.Table, idCol, refCol, target.Table)

		result, err := s.db.ExecContext(ctx, query, fmtTime(time.Now()))
		if err != nil {
			return reconciled, fmt.Errorf("failed to reconcile %s.%s: %w", m.Table, idCol, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return reconciled, fmt.Errorf("failed to get rows affected: %w", err)
		}
		reconciled += n
	}
	return reconciled, nil
}
