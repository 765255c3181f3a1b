package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncforge/crmsync/internal/apptype"
	"github.com/syncforge/crmsync/internal/mapping"
)

func ownersMapping(t *testing.T) mapping.Entity {
	t.Helper()
	m, ok := mapping.ForType(apptype.EntityOwners)
	require.True(t, ok)
	return m
}

func TestUpsertRowIdempotent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	m := ownersMapping(t)

	cols := map[string]any{
		"email":     "jess@example.com",
		"firstname": "Jess",
		"lastname":  "Ng",
	}
	modified := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	id1, err := store.UpsertRow(ctx, m, "own-1", cols, modified)
	require.NoError(t, err)
	id2, err := store.UpsertRow(ctx, m, "own-1", cols, modified)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	rows, err := store.ChangedSince(ctx, m, time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "own-1", rows[0].SourceID)
	assert.Equal(t, "jess@example.com", rows[0].Columns["email"])
}

func TestUpsertRowUpdatesInPlace(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	m := ownersMapping(t)

	_, err := store.UpsertRow(ctx, m, "own-1", map[string]any{"email": "old@example.com"}, time.Now())
	require.NoError(t, err)
	_, err = store.UpsertRow(ctx, m, "own-1", map[string]any{"email": "new@example.com"}, time.Now())
	require.NoError(t, err)

	rows, err := store.ChangedSince(ctx, m, time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "new@example.com", rows[0].Columns["email"])
}

func TestUpsertRowRejectsEmptySourceID(t *testing.T) {
	store := setupTestStore(t)
	m := ownersMapping(t)

	_, err := store.UpsertRow(context.Background(), m, "  ", nil, time.Now())
	require.Error(t, err)
}

func TestChangedSinceNullColumnsStayNil(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	m := ownersMapping(t)

	_, err := store.UpsertRow(ctx, m, "own-1", map[string]any{
		"firstname": "Sam",
		"email":     nil,
	}, time.Now())
	require.NoError(t, err)

	rows, err := store.ChangedSince(ctx, m, time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0].Columns["email"])
	assert.Equal(t, "Sam", rows[0].Columns["firstname"])
}

func TestChangedSinceStrictWatermark(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	m := ownersMapping(t)

	for _, id := range []string{"a", "b", "c"} {
		_, err := store.UpsertRow(ctx, m, id, map[string]any{"firstname": id}, time.Now())
		require.NoError(t, err)
	}

	rows, err := store.ChangedSince(ctx, m, time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.True(t, rows[0].UpdatedAt.Before(rows[2].UpdatedAt) || rows[0].UpdatedAt.Equal(rows[2].UpdatedAt))

	// Reading from the last row's timestamp returns nothing: the boundary
	// is exclusive.
	rest, err := store.ChangedSince(ctx, m, rows[2].UpdatedAt, 10)
	require.NoError(t, err)
	assert.Empty(t, rest)
}

func TestTimestampColumnsRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	m, ok := mapping.ForType(apptype.EntityDeals)
	require.True(t, ok)

	contract := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	_, err := store.UpsertRow(ctx, m, "deal-1", map[string]any{
		"dealname":      "Acme renewal",
		"amount":        float64(1200),
		"contract_date": contract,
	}, time.Now())
	require.NoError(t, err)

	rows, err := store.ChangedSince(ctx, m, time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	got, ok := rows[0].Columns["contract_date"].(time.Time)
	require.True(t, ok, "contract_date should scan back as time.Time, got %T", rows[0].Columns["contract_date"])
	assert.True(t, got.Equal(contract))
	assert.Equal(t, float64(1200), rows[0].Columns["amount"])
}

func TestResolveOptionAppendOnly(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	id1, err := store.ResolveOption(ctx, apptype.EntityCompanies, "industry", "Software")
	require.NoError(t, err)
	id2, err := store.ResolveOption(ctx, apptype.EntityCompanies, "industry", "Software")
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	id3, err := store.ResolveOption(ctx, apptype.EntityCompanies, "industry", "Hardware")
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3)

	// Same raw value under another field is a distinct option.
	id4, err := store.ResolveOption(ctx, apptype.EntityCompanies, "state", "Software")
	require.NoError(t, err)
	assert.NotEqual(t, id1, id4)

	raw, err := store.OptionValue(ctx, id1)
	require.NoError(t, err)
	assert.Equal(t, "Software", raw)
}

func TestLookupInternalID(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	m := ownersMapping(t)

	_, found, err := store.LookupInternalID(ctx, apptype.EntityOwners, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	id, err := store.UpsertRow(ctx, m, "own-1", map[string]any{"firstname": "Kim"}, time.Now())
	require.NoError(t, err)

	got, found, err := store.LookupInternalID(ctx, apptype.EntityOwners, "own-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, id, got)
}

func TestReconcileDeferredFillsForwardReferences(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	companies, ok := mapping.ForType(apptype.EntityCompanies)
	require.True(t, ok)
	owners := ownersMapping(t)

	// Company arrives before its owner: the marker holds the external id.
	_, err := store.UpsertRow(ctx, companies, "co-1", map[string]any{
		"name":      "Acme",
		"owner_id":  nil,
		"owner_ref": "own-9",
	}, time.Now())
	require.NoError(t, err)

	n, err := store.ReconcileDeferred(ctx, companies)
	require.NoError(t, err)
	assert.Zero(t, n, "nothing to reconcile while the owner is missing")

	before, err := store.ChangedSince(ctx, companies, time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, before, 1)

	ownerID, err := store.UpsertRow(ctx, owners, "own-9", map[string]any{"firstname": "Dana"}, time.Now())
	require.NoError(t, err)

	n, err = store.ReconcileDeferred(ctx, companies)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rows, err := store.ChangedSince(ctx, companies, time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, ownerID, rows[0].Columns["owner_id"])
	assert.Equal(t, "own-9", rows[0].Columns["owner_ref"])

	// Reconciliation bumps updated_at so the row re-projects.
	assert.True(t, rows[0].UpdatedAt.After(before[0].UpdatedAt))

	// Idempotent: a second sweep has nothing left to do.
	n, err = store.ReconcileDeferred(ctx, companies)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDisplayName(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	m := ownersMapping(t)

	id, err := store.UpsertRow(ctx, m, "own-1", map[string]any{
		"firstname": "Dana",
		"lastname":  "Reyes",
	}, time.Now())
	require.NoError(t, err)

	name, err := store.DisplayName(ctx, apptype.EntityOwners, id)
	require.NoError(t, err)
	assert.Equal(t, "Dana Reyes", name)

	name, err = store.DisplayName(ctx, apptype.EntityOwners, 9999)
	require.NoError(t, err)
	assert.Empty(t, name)
}
