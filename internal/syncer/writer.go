package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/syncforge/crmsync/internal/apptype"
	"github.com/syncforge/crmsync/internal/database"
	"github.com/syncforge/crmsync/internal/mapping"
)

// RecordError marks a record-level failure: a malformed or unmappable
// payload. The syncer skips such records and continues; storage errors are
// returned unwrapped and fail the run.
type RecordError struct {
	SourceID string
	Err      error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %q: %v", e.SourceID, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// Writer applies fetched records to the relational store through the
// entity type's field mapping. Upserts are idempotent and keyed by
// source_id.
type Writer struct {
	store    *database.Store
	resolver *Resolver
	log      zerolog.Logger
}

// NewWriter builds an upsert writer.
func NewWriter(store *database.Store, resolver *Resolver, log zerolog.Logger) *Writer {
	return &Writer{store: store, resolver: resolver, log: log}
}

// Upsert maps one source record onto its stored columns and writes it.
// Returns the internal key of the stored row.
func (w *Writer) Upsert(ctx context.Context, m mapping.Entity, rec apptype.SourceRecord) (int64, error) {
	if strings.TrimSpace(rec.SourceID) == "" {
		return 0, &RecordError{SourceID: rec.SourceID, Err: fmt.Errorf("missing source id")}
	}
	if rec.Fields == nil {
		return 0, &RecordError{SourceID: rec.SourceID, Err: fmt.Errorf("missing payload")}
	}

	cols := make(map[string]any, len(m.Field))
	for _, f := range m.Field {
		raw, present := rec.Fields[f.Source]
		switch f.Kind {
		case mapping.Reference:
			idCol, refCol := mapping.RefColumns(f)
			if !present || raw == nil || strings.TrimSpace(fmt.Sprint(raw)) == "" {
				cols[idCol] = nil
				cols[refCol] = nil
				continue
			}
			external := strings.TrimSpace(fmt.Sprint(raw))
			id, pending, err := w.resolver.ResolveReference(ctx, external, f.Target)
			if err != nil {
				return 0, fmt.Errorf("failed to resolve %s.%s: %w", m.Table, f.Column, err)
			}
			if pending {
				// Forward reference: keep the external id so a later
				// reconciliation sweep can fill the key in.
				cols[idCol] = nil
				cols[refCol] = external
			} else {
				cols[idCol] = id
				cols[refCol] = external
			}
		case mapping.Select:
			if !present || raw == nil {
				cols[f.Column] = nil
				continue
			}
			ids, err := w.resolver.ResolveOptions(ctx, m.Type, f.Source, raw)
			if err != nil {
				return 0, fmt.Errorf("failed to resolve options for %s.%s: %w", m.Table, f.Column, err)
			}
			if len(ids) == 0 {
				cols[f.Column] = nil
				continue
			}
			encoded, err := json.Marshal(ids)
			if err != nil {
				return 0, &RecordError{SourceID: rec.SourceID, Err: err}
			}
			cols[f.Column] = string(encoded)
		case mapping.Number:
			cols[f.Column] = parseNumber(raw)
		case mapping.Timestamp:
			cols[f.Column] = parseSourceTime(raw)
		case mapping.Bool:
			cols[f.Column] = parseBool(raw)
		default:
			if !present || raw == nil {
				cols[f.Column] = nil
				continue
			}
			cols[f.Column] = fmt.Sprint(raw)
		}
	}

	id, err := w.store.UpsertRow(ctx, m, rec.SourceID, cols, rec.LastModifiedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert %s %q: %w", m.Table, rec.SourceID, err)
	}
	return id, nil
}

// parseNumber tolerates the source's habit of shipping numbers as strings.
// Unparseable values store as NULL.
func parseNumber(raw any) any {
	switch v := raw.(type) {
	case nil:
		return nil
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
		return nil
	case string:
		if v = strings.TrimSpace(v); v == "" {
			return nil
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		return nil
	default:
		return nil
	}
}

// sourceTimeLayouts are the wire formats the CRM has been observed to use.
var sourceTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000Z",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseSourceTime accepts epoch milliseconds or any known string layout.
// Unparseable values store as NULL.
func parseSourceTime(raw any) any {
	switch v := raw.(type) {
	case nil:
		return nil
	case time.Time:
		return v
	case float64:
		if v <= 0 {
			return nil
		}
		return time.UnixMilli(int64(v)).UTC()
	case int64:
		if v <= 0 {
			return nil
		}
		return time.UnixMilli(v).UTC()
	case string:
		if v = strings.TrimSpace(v); v == "" {
			return nil
		}
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms > 0 {
			return time.UnixMilli(ms).UTC()
		}
		for _, layout := range sourceTimeLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t.UTC()
			}
		}
		return nil
	default:
		return nil
	}
}

func parseBool(raw any) any {
	switch v := raw.(type) {
	case nil:
		return nil
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
		return nil
	default:
		return nil
	}
}
