package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncforge/crmsync/internal/apptype"
	"github.com/syncforge/crmsync/internal/database"
	"github.com/syncforge/crmsync/internal/mapping"
)

func TestResolveOptionsTranslatesAndCreates(t *testing.T) {
	store := setupTestStore(t)
	resolver := NewResolver(store, zerolog.Nop())
	ctx := context.Background()

	first, err := resolver.ResolveOptions(ctx, apptype.EntityContacts, "lifecyclestage", "lead")
	require.NoError(t, err)
	require.Len(t, first, 1)

	// The same raw value maps to the same surrogate id on every call.
	again, err := resolver.ResolveOptions(ctx, apptype.EntityContacts, "lifecyclestage", []any{"lead", "customer"})
	require.NoError(t, err)
	require.Len(t, again, 2)
	assert.Equal(t, first[0], again[0])
	assert.NotEqual(t, again[0], again[1])
}

func TestResolveOptionsStorageErrorPropagates(t *testing.T) {
	url := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	store, err := database.NewStore(database.Config{URL: url}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, store.Close())

	resolver := NewResolver(store, zerolog.Nop())
	ids, err := resolver.ResolveOptions(context.Background(), apptype.EntityContacts, "lifecyclestage", "lead")
	require.Error(t, err)
	assert.Nil(t, ids)
}

func TestUpsertFailsRunOnOptionStorageError(t *testing.T) {
	url := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	store, err := database.NewStore(database.Config{URL: url}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, store.Close())

	writer := NewWriter(store, NewResolver(store, zerolog.Nop()), zerolog.Nop())
	m, ok := mapping.ForType(apptype.EntityContacts)
	require.True(t, ok)

	_, err = writer.Upsert(context.Background(), m, apptype.SourceRecord{
		SourceID:       "c-1",
		Fields:         map[string]any{"firstname": "Ada", "lifecyclestage": "lead"},
		LastModifiedAt: time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC),
	})
	require.Error(t, err)

	// A storage failure is not a record-level failure: the syncer must fail
	// the run and keep the watermark instead of skipping the record.
	var recErr *RecordError
	assert.False(t, errors.As(err, &recErr))
}

func TestResolveOptionsMarksValuesWithoutScalarForm(t *testing.T) {
	store := setupTestStore(t)
	resolver := NewResolver(store, zerolog.Nop())

	ids, err := resolver.ResolveOptions(context.Background(), apptype.EntityContacts, "lifecyclestage",
		[]any{"lead", map[string]any{"label": "nested"}})
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.IsType(t, int64(0), ids[0])
	assert.Equal(t, UnresolvedOption, ids[1])
}
