package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncforge/crmsync/internal/apptype"
	"github.com/syncforge/crmsync/internal/mapping"
)

type fakeProjector struct {
	projected   []apptype.EntityType
	reprojected []apptype.EntityType
	err         error
}

func (p *fakeProjector) Project(_ context.Context, entityType apptype.EntityType) (int, error) {
	p.projected = append(p.projected, entityType)
	return 1, p.err
}

func (p *fakeProjector) Reproject(_ context.Context, entityType apptype.EntityType) (int, error) {
	p.reprojected = append(p.reprojected, entityType)
	return 0, p.err
}

func TestRunCycleFollowsDependencyOrder(t *testing.T) {
	store, fetcher, s := newTestSyncer(t)
	proj := &fakeProjector{}
	orch := NewOrchestrator(store, s, proj, time.Hour, zerolog.Nop())

	orch.RunCycle(context.Background())

	assert.Equal(t, apptype.SyncOrder, fetcher.order)
	assert.Equal(t, apptype.SyncOrder, proj.projected)
}

func TestRunCycleSurvivesEntityFailure(t *testing.T) {
	store, fetcher, s := newTestSyncer(t)
	proj := &fakeProjector{}
	orch := NewOrchestrator(store, s, proj, time.Hour, zerolog.Nop())

	// Every fetch fails, but the cycle still visits every entity type and
	// still runs projection.
	fetcher.err = errors.New("source down")
	orch.RunCycle(context.Background())

	assert.Equal(t, apptype.SyncOrder, fetcher.order)
	assert.Equal(t, apptype.SyncOrder, proj.projected)

	state, err := store.GetSyncState(context.Background(), apptype.EntityOwners)
	require.NoError(t, err)
	assert.Equal(t, apptype.StatusError, state.Status)
}

func TestTriggerSyncRunsReconciliation(t *testing.T) {
	store, fetcher, s := newTestSyncer(t)
	proj := &fakeProjector{}
	orch := NewOrchestrator(store, s, proj, time.Hour, zerolog.Nop())
	ctx := context.Background()

	fetcher.records[apptype.EntityContacts] = []apptype.SourceRecord{{
		SourceID:       "ct-1",
		Fields:         map[string]any{"firstname": "Ada", "hubspot_owner_id": "own-1"},
		LastModifiedAt: time.Now(),
	}}
	_, err := orch.TriggerSync(ctx, apptype.EntityContacts)
	require.NoError(t, err)

	// Owner arrives later; triggering its sync sweeps the contact's
	// deferred reference without touching the contact again.
	fetcher.records[apptype.EntityOwners] = []apptype.SourceRecord{ownerRecord("own-1", time.Now())}
	_, err = orch.TriggerSync(ctx, apptype.EntityOwners)
	require.NoError(t, err)

	id, found, err := store.LookupInternalID(ctx, apptype.EntityOwners, "own-1")
	require.NoError(t, err)
	require.True(t, found)

	contacts, _ := mapping.ForType(apptype.EntityContacts)
	rows, err := store.ChangedSince(ctx, contacts, time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, id, rows[0].Columns["owner_id"])
}

func TestTriggerReprojection(t *testing.T) {
	store, _, s := newTestSyncer(t)
	proj := &fakeProjector{}
	orch := NewOrchestrator(store, s, proj, time.Hour, zerolog.Nop())

	_, err := orch.TriggerReprojection(context.Background(), apptype.EntityDeals)
	require.NoError(t, err)
	assert.Equal(t, []apptype.EntityType{apptype.EntityDeals}, proj.reprojected)
}
