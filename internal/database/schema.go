package database

import (
	"fmt"
	"strings"

	"github.com/syncforge/crmsync/internal/mapping"
)

// schema returns all DDL statements: the bookkeeping tables plus one table
// per mapped entity type, generated from the mapping so the writer stays
// generic over entity types.
func schema() []string {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sync_status (
        entity_type TEXT PRIMARY KEY,
        last_sync_at DATETIME,
        last_successful_sync_at DATETIME,
        status TEXT NOT NULL DEFAULT 'success',
        error_message TEXT,
        records_synced INTEGER NOT NULL DEFAULT 0,
        updated_at DATETIME
    )`,

		`CREATE TABLE IF NOT EXISTS projection_status (
        entity_type TEXT PRIMARY KEY,
        last_projected_at DATETIME,
        docs_projected INTEGER NOT NULL DEFAULT 0,
        updated_at DATETIME
    )`,

		// Append-only: existing rows are never rewritten, so surrogate ids
		// already referenced from entity rows stay stable.
		`CREATE TABLE IF NOT EXISTS property_options (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        entity_type TEXT NOT NULL,
        field_name TEXT NOT NULL,
        raw_value TEXT NOT NULL,
        created_at DATETIME,
        UNIQUE (entity_type, field_name, raw_value)
    )`,
	}

	for _, m := range mapping.All() {
		statements = append(statements, entityDDL(m)...)
	}
	return statements
}

// entityDDL generates the table and indexes for one entity mapping.
func entityDDL(m mapping.Entity) []string {
	var cols []string
	cols = append(cols,
		"id INTEGER PRIMARY KEY AUTOINCREMENT",
		"source_id TEXT NOT NULL UNIQUE",
	)
	for _, f := range m.Field {
		switch f.Kind {
		case mapping.Number:
			cols = append(cols, f.Column+" REAL")
		case mapping.Bool:
			cols = append(cols, f.Column+" INTEGER")
		case mapping.Timestamp:
			cols = append(cols, f.Column+" DATETIME")
		case mapping.Reference:
			idCol, refCol := mapping.RefColumns(f)
			cols = append(cols, idCol+" INTEGER", refCol+" TEXT")
		default:
			// Text and Select (JSON array of option ids) are both TEXT.
			cols = append(cols, f.Column+" TEXT")
		}
	}
	cols = append(cols,
		"source_updated_at DATETIME",
		"last_synced_at DATETIME",
		"updated_at DATETIME",
	)

	ddl := []string{fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n        %s\n    )",
		m.Table, strings.Join(cols, ",\n        "))}

	// The projector reads ranges on updated_at.
	ddl = append(ddl, fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS idx_%s_updated_at ON %s(updated_at)", m.Table, m.Table))

	// Deferred references are swept by target table, so index the markers.
	for _, f := range m.Field {
		if f.Kind != mapping.Reference {
			continue
		}
		idCol, refCol := mapping.RefColumns(f)
		ddl = append(ddl, fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s(%s) WHERE %s IS NULL AND %s IS NOT NULL",
			m.Table, refCol, m.Table, refCol, idCol, refCol))
	}
	return ddl
}
