package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/syncforge/crmsync/internal/apptype"
	"github.com/syncforge/crmsync/internal/database"
)

// UnresolvedOption is the explicit marker stored in a select array when a
// raw value has no scalar form to translate. Never dropped silently.
const UnresolvedOption = "unresolved"

// Resolver translates foreign references and select-field values into
// internal keys, tolerating forward references.
type Resolver struct {
	store *database.Store
	log   zerolog.Logger
}

// NewResolver builds a resolver on top of the relational store.
func NewResolver(store *database.Store, log zerolog.Logger) *Resolver {
	return &Resolver{store: store, log: log}
}

// ResolveReference looks up the internal key for an external id of the
// target entity type. pending is true when the target has not been synced
// yet; the caller stores the external id as a deferred marker and a later
// reconciliation sweep fills the key in.
func (r *Resolver) ResolveReference(ctx context.Context, rawValue string, target apptype.EntityType) (id int64, pending bool, err error) {
	rawValue = strings.TrimSpace(rawValue)
	if rawValue == "" {
		return 0, false, fmt.Errorf("reference value must be a non-empty string")
	}
	id, found, err := r.store.LookupInternalID(ctx, target, rawValue)
	if err != nil {
		return 0, false, err
	}
	if !found {
		return 0, true, nil
	}
	return id, false, nil
}

// ResolveOptions translates a select-field value into option surrogate ids.
// The source is inconsistent about shape: values arrive as arrays, as
// ";"-separated strings, or as scalars. The result is always an array of
// ids, also for single-select fields. A value with no scalar form yields
// the UnresolvedOption marker and a log line; a storage failure is
// returned so the run fails and the watermark holds.
func (r *Resolver) ResolveOptions(ctx context.Context, entityType apptype.EntityType, fieldName string, rawValue any) ([]any, error) {
	values := flattenOptionValues(rawValue)
	if len(values) == 0 {
		return nil, nil
	}

	out := make([]any, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			r.log.Warn().
				Str("entity_type", string(entityType)).
				Str("field", fieldName).
				Interface("value", v).
				Msg("option value has no scalar form")
			out = append(out, UnresolvedOption)
			continue
		}
		id, err := r.store.ResolveOption(ctx, entityType, fieldName, s)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve option %q for %s.%s: %w", s, entityType, fieldName, err)
		}
		out = append(out, id)
	}
	return out, nil
}

// flattenOptionValues normalizes the source's select-value shapes into a
// flat list. Scalars become trimmed non-empty strings; values with no
// scalar form (nested objects) pass through untouched so the caller can
// mark them unresolved.
func flattenOptionValues(rawValue any) []any {
	switch v := rawValue.(type) {
	case nil:
		return nil
	case []any:
		var out []any
		for _, item := range v {
			out = append(out, flattenOptionValues(item)...)
		}
		return out
	case []string:
		var out []any
		for _, item := range v {
			out = append(out, flattenOptionValues(item)...)
		}
		return out
	case string:
		if strings.Contains(v, ";") {
			var out []any
			for _, part := range strings.Split(v, ";") {
				if part = strings.TrimSpace(part); part != "" {
					out = append(out, part)
				}
			}
			return out
		}
		if v = strings.TrimSpace(v); v == "" {
			return nil
		}
		return []any{v}
	case float64, int, int64, bool, json.Number:
		return []any{fmt.Sprint(v)}
	default:
		return []any{v}
	}
}
