package vector

import (
	"time"

	"github.com/syncforge/crmsync/internal/apptype"
	"github.com/syncforge/crmsync/internal/mapping"
)

// Metadata builds the filterable payload for one document. Only the
// mapping's listed scalar columns are copied; NULL columns are omitted
// entirely, never coerced to zero or empty string, so downstream filters
// can distinguish "absent" from a real zero. entity_type and source_id are
// always present.
func Metadata(m mapping.Entity, row apptype.StoredRow) map[string]any {
	meta := map[string]any{
		"entity_type": string(m.Type),
		"source_id":   row.SourceID,
	}
	for _, col := range m.MetaFields {
		v, ok := row.Columns[col]
		if !ok || v == nil {
			continue
		}
		if sv, ok := sanitizeScalar(v); ok {
			meta[col] = sv
		}
	}
	return meta
}

// sanitizeScalar admits only flat scalar values into metadata. Timestamps
// become RFC 3339 strings; anything non-scalar is rejected rather than
// serialized.
func sanitizeScalar(v any) (any, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case int64:
		return val, true
	case float64:
		return val, true
	case bool:
		return val, true
	case time.Time:
		return val.UTC().Format(time.RFC3339), true
	case int:
		return int64(val), true
	case float32:
		return float64(val), true
	default:
		return nil, false
	}
}
