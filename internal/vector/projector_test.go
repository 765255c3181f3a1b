package vector

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

type fakeProvider struct{ dims int }

func (f fakeProvider) Name() string    { return "fake" }
func (f fakeProvider) Dimensions() int { return f.dims }
func (f fakeProvider) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i := range inputs {
		out[i] = make([]float32, f.dims)
	}
	return out, nil
}

// captureIndex records upserted batches and can fail a chosen call to
// simulate a crash mid-projection.
type captureIndex struct {
	batches [][]apptype.VectorDocument
	failAt  int
	calls   int
}

func (x *captureIndex) UpsertBatch(_ context.Context, docs []apptype.VectorDocument, vectors [][]float32) error {
	x.calls++
	if x.failAt > 0 && x.calls == x.failAt {
		return errors.New("index unavailable")
	}
	if len(docs) != len(vectors) {
		return errors.New("docs/vectors length mismatch")
	}
	x.batches = append(x.batches, docs)
	return nil
}

func (x *captureIndex) Search(context.Context, []float32, apptype.EntityType, int) ([]SearchResult, error) {
	return nil, nil
}

func (x *captureIndex) Close() error { return nil }

func (x *captureIndex) docIDs() []string {
	var ids []string
	for _, batch := range x.batches {
		for _, doc := range batch {
			ids = append(ids, doc.ID)
		}
	}
	return ids
}

func setupTestStore(t *testing.T) *database.Store {
	t.Helper()
	url := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	store, err := database.NewStore(database.Config{URL: url}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, store.Close())
	})
	return store
}

func insertOwners(t *testing.T, store *database.Store, n int) {
	t.Helper()
	m, ok := mapping.ForType(apptype.EntityOwners)
	require.True(t, ok)
	for i := 0; i < n; i++ {
		_, err := store.UpsertRow(context.Background(), m, fmt.Sprintf("own-%d", i), map[string]any{
			"firstname": fmt.Sprintf("Owner%d", i),
		}, time.Now())
		require.NoError(t, err)
	}
}

func TestProjectBatchesAndCommitsPerBatch(t *testing.T) {
	store := setupTestStore(t)
	index := &captureIndex{}
	p := NewProjector(store, fakeProvider{dims: 4}, index, 2, zerolog.Nop())
	ctx := context.Background()

	insertOwners(t, store, 5)

	total, err := p.Project(ctx, apptype.EntityOwners)
	require.NoError(t, err)
	assert.Equal(t, 5, total)

	// 5 rows at batch size 2 is 3 durable batches.
	require.Len(t, index.batches, 3)
	assert.Len(t, index.batches[0], 2)
	assert.Len(t, index.batches[1], 2)
	assert.Len(t, index.batches[2], 1)
	assert.Contains(t, index.docIDs(), "owners_own-0")
	assert.Contains(t, index.docIDs(), "owners_own-4")

	state, err := store.GetProjectionState(ctx, apptype.EntityOwners)
	require.NoError(t, err)
	require.NotNil(t, state.LastProjectedAt)
	assert.Equal(t, 5, state.DocsProjected)

	// Nothing changed, so a second run projects nothing.
	index.batches = nil
	total, err = p.Project(ctx, apptype.EntityOwners)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, index.batches)
}

func TestProjectResumesAfterBatchFailure(t *testing.T) {
	store := setupTestStore(t)
	index := &captureIndex{failAt: 2}
	p := NewProjector(store, fakeProvider{dims: 4}, index, 2, zerolog.Nop())
	ctx := context.Background()

	insertOwners(t, store, 5)

	total, err := p.Project(ctx, apptype.EntityOwners)
	require.Error(t, err)
	assert.Equal(t, 2, total, "only the first batch committed")

	state, err := store.GetProjectionState(ctx, apptype.EntityOwners)
	require.NoError(t, err)
	assert.Equal(t, 2, state.DocsProjected)

	// The next run picks up from the committed watermark and projects the
	// rest; stable doc ids make the replay an overwrite, not a duplicate.
	index.failAt = 0
	total, err = p.Project(ctx, apptype.EntityOwners)
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	state, err = store.GetProjectionState(ctx, apptype.EntityOwners)
	require.NoError(t, err)
	assert.Equal(t, 5, state.DocsProjected)
}

func TestProjectMetadataOmitsUnresolvedReference(t *testing.T) {
	store := setupTestStore(t)
	index := &captureIndex{}
	p := NewProjector(store, fakeProvider{dims: 4}, index, 50, zerolog.Nop())
	ctx := context.Background()

	companies, ok := mapping.ForType(apptype.EntityCompanies)
	require.True(t, ok)
	_, err := store.UpsertRow(ctx, companies, "co-1", map[string]any{
		"name":      "Acme",
		"owner_id":  nil,
		"owner_ref": "own-9",
	}, time.Now())
	require.NoError(t, err)

	total, err := p.Project(ctx, apptype.EntityCompanies)
	require.NoError(t, err)
	require.Equal(t, 1, total)

	require.Len(t, index.batches, 1)
	doc := index.batches[0][0]
	assert.Equal(t, "companies_co-1", doc.ID)
	assert.Equal(t, "Acme", doc.Metadata["name"])
	assert.NotContains(t, doc.Metadata, "owner_id", "unresolved reference must be absent, not zero")
}

func TestReprojectRunsFull(t *testing.T) {
	store := setupTestStore(t)
	index := &captureIndex{}
	p := NewProjector(store, fakeProvider{dims: 4}, index, 50, zerolog.Nop())
	ctx := context.Background()

	insertOwners(t, store, 3)

	_, err := p.Project(ctx, apptype.EntityOwners)
	require.NoError(t, err)
	require.Len(t, index.batches, 1)

	index.batches = nil
	total, err := p.Reproject(ctx, apptype.EntityOwners)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, index.batches, 1)
	assert.Len(t, index.batches[0], 3)
}

func TestDocumentID(t *testing.T) {
	assert.Equal(t, "contacts_ct-1", DocumentID(apptype.EntityContacts, "ct-1"))
}
