package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncforge/crmsync/internal/apptype"
)

func TestProjectionWatermarkAccumulates(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	state, err := store.GetProjectionState(ctx, apptype.EntityContacts)
	require.NoError(t, err)
	assert.Nil(t, state.LastProjectedAt)
	assert.Zero(t, state.DocsProjected)

	t1 := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)

	require.NoError(t, store.CommitProjection(ctx, apptype.EntityContacts, t1, 50))
	require.NoError(t, store.CommitProjection(ctx, apptype.EntityContacts, t2, 20))

	state, err = store.GetProjectionState(ctx, apptype.EntityContacts)
	require.NoError(t, err)
	require.NotNil(t, state.LastProjectedAt)
	assert.True(t, state.LastProjectedAt.Equal(t2))
	assert.Equal(t, 70, state.DocsProjected)

	// Monotonic: an older batch watermark does not regress.
	require.NoError(t, store.CommitProjection(ctx, apptype.EntityContacts, t1, 5))
	state, err = store.GetProjectionState(ctx, apptype.EntityContacts)
	require.NoError(t, err)
	assert.True(t, state.LastProjectedAt.Equal(t2))
	assert.Equal(t, 75, state.DocsProjected)
}

func TestProjectionWatermarkAdvancesWithinSameSecond(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	whole := time.Date(2026, 6, 1, 10, 0, 5, 0, time.UTC)
	frac := whole.Add(500 * time.Millisecond)

	require.NoError(t, store.CommitProjection(ctx, apptype.EntityContacts, whole, 10))
	require.NoError(t, store.CommitProjection(ctx, apptype.EntityContacts, frac, 5))

	state, err := store.GetProjectionState(ctx, apptype.EntityContacts)
	require.NoError(t, err)
	require.NotNil(t, state.LastProjectedAt)
	assert.True(t, state.LastProjectedAt.Equal(frac))
}

func TestResetProjectionForcesFullReprojection(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CommitProjection(ctx, apptype.EntityDeals, time.Now(), 10))
	require.NoError(t, store.ResetProjection(ctx, apptype.EntityDeals))

	state, err := store.GetProjectionState(ctx, apptype.EntityDeals)
	require.NoError(t, err)
	assert.Nil(t, state.LastProjectedAt)
	assert.Zero(t, state.DocsProjected)
}
