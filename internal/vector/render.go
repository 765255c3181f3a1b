package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/syncforge/crmsync/internal/apptype"
	"github.com/syncforge/crmsync/internal/mapping"
)

// Lookup resolves surrogate ids back to human-readable values while
// rendering. *database.Store satisfies it.
type Lookup interface {
	OptionValue(ctx context.Context, id int64) (string, error)
	DisplayName(ctx context.Context, target apptype.EntityType, internalID int64) (string, error)
}

// Renderer turns stored rows into the text bodies that get embedded.
// Rendering is deterministic: fields appear in the mapping's fixed order,
// empty fields are skipped, and surrogate ids are translated back to their
// source values so the embedding sees words, not keys.
type Renderer struct {
	lookup Lookup
}

// NewRenderer builds a renderer over the relational store.
func NewRenderer(lookup Lookup) *Renderer {
	return &Renderer{lookup: lookup}
}

// Render produces the document body for one row. The first line carries
// the entity label so similar records of different types stay separable
// in embedding space.
func (r *Renderer) Render(ctx context.Context, m mapping.Entity, row apptype.StoredRow) (string, error) {
	kinds := make(map[string]mapping.Kind, len(m.Field))
	for _, f := range m.Field {
		kinds[f.Column] = f.Kind
	}

	lines := []string{m.DocLabel}
	for _, col := range m.DocFields {
		v, ok := row.Columns[col]
		if !ok || v == nil {
			continue
		}
		var (
			text string
			err  error
		)
		if kinds[col] == mapping.Select {
			text, err = r.renderOptions(ctx, v)
		} else {
			text = renderScalar(v)
		}
		if err != nil {
			return "", fmt.Errorf("failed to render %s.%s: %w", m.Table, col, err)
		}
		if text == "" {
			continue
		}
		lines = append(lines, fieldLabel(col)+": "+text)
	}

	// Resolved references render as names. Deferred ones are skipped; the
	// row re-renders after reconciliation bumps its updated_at.
	for _, f := range m.Field {
		if f.Kind != mapping.Reference {
			continue
		}
		idCol, _ := mapping.RefColumns(f)
		id, ok := row.Columns[idCol].(int64)
		if !ok {
			continue
		}
		name, err := r.lookup.DisplayName(ctx, f.Target, id)
		if err != nil {
			return "", fmt.Errorf("failed to render %s.%s: %w", m.Table, idCol, err)
		}
		if name == "" {
			continue
		}
		lines = append(lines, fieldLabel(f.Column)+": "+name)
	}

	return strings.Join(lines, "\n"), nil
}

// renderOptions translates a stored JSON array of option surrogate ids back
// to the raw source values, joined with ", ".
func (r *Renderer) renderOptions(ctx context.Context, v any) (string, error) {
	encoded, ok := v.(string)
	if !ok {
		return renderScalar(v), nil
	}
	var ids []any
	if err := json.Unmarshal([]byte(encoded), &ids); err != nil {
		// Not an id array; render as-is rather than dropping the field.
		return encoded, nil
	}
	var parts []string
	for _, id := range ids {
		switch val := id.(type) {
		case float64:
			raw, err := r.lookup.OptionValue(ctx, int64(val))
			if err != nil {
				return "", err
			}
			if raw != "" {
				parts = append(parts, raw)
			}
		case string:
			parts = append(parts, val)
		}
	}
	return strings.Join(parts, ", "), nil
}

func renderScalar(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	case time.Time:
		return val.UTC().Format("2006-01-02")
	default:
		return strings.TrimSpace(fmt.Sprint(val))
	}
}

// fieldLabel turns a column name into a readable label ("annual_revenue"
// becomes "annual revenue").
func fieldLabel(col string) string {
	return strings.ReplaceAll(col, "_", " ")
}
