package vector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncforge/crmsync/internal/apptype"
	"github.com/syncforge/crmsync/internal/mapping"
)

func TestMetadataOmitsNullFields(t *testing.T) {
	m, ok := mapping.ForType(apptype.EntityCompanies)
	require.True(t, ok)

	row := apptype.StoredRow{
		SourceID: "co-1",
		Columns: map[string]any{
			"name":     "Acme",
			"city":     nil,
			"owner_id": nil,
		},
	}

	meta := Metadata(m, row)
	assert.Equal(t, "companies", meta["entity_type"])
	assert.Equal(t, "co-1", meta["source_id"])
	assert.Equal(t, "Acme", meta["name"])

	// NULL columns are absent, never coerced to a zero value.
	assert.NotContains(t, meta, "city")
	assert.NotContains(t, meta, "owner_id")
}

func TestMetadataKeepsResolvedReference(t *testing.T) {
	m, ok := mapping.ForType(apptype.EntityCompanies)
	require.True(t, ok)

	row := apptype.StoredRow{
		SourceID: "co-1",
		Columns: map[string]any{
			"name":     "Acme",
			"owner_id": int64(7),
		},
	}

	meta := Metadata(m, row)
	assert.Equal(t, int64(7), meta["owner_id"])
}

func TestMetadataFormatsTimestamps(t *testing.T) {
	m, ok := mapping.ForType(apptype.EntityActivities)
	require.True(t, ok)

	occurred := time.Date(2026, 1, 15, 9, 30, 0, 0, time.UTC)
	row := apptype.StoredRow{
		SourceID: "act-1",
		Columns: map[string]any{
			"subject":     "Kickoff call",
			"occurred_at": occurred,
		},
	}

	meta := Metadata(m, row)
	assert.Equal(t, "2026-01-15T09:30:00Z", meta["occurred_at"])
}

func TestMetadataRejectsNonScalars(t *testing.T) {
	m, ok := mapping.ForType(apptype.EntityCompanies)
	require.True(t, ok)

	row := apptype.StoredRow{
		SourceID: "co-1",
		Columns: map[string]any{
			"name": map[string]any{"nested": true},
		},
	}

	meta := Metadata(m, row)
	assert.NotContains(t, meta, "name")
}
