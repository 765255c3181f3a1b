package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/syncforge/crmsync/internal/apptype"
	"github.com/syncforge/crmsync/internal/database"
	"github.com/syncforge/crmsync/internal/mapping"
)

// Projector is the downstream vector projection the orchestrator triggers
// after each relational sync pass. *vector.Projector satisfies it.
type Projector interface {
	// Project pushes rows changed since the last projection watermark.
	Project(ctx context.Context, entityType apptype.EntityType) (int, error)
	// Reproject clears the watermark first, forcing a full re-projection.
	Reproject(ctx context.Context, entityType apptype.EntityType) (int, error)
}

// Orchestrator is the single process-wide driver: it sequences entity
// syncers in dependency order, sweeps deferred references, and then runs
// the vector projection, on a fixed interval plus once at startup. Sync
// failures are recorded state, not process crashes; the next cycle retries
// from the last successful watermark.
type Orchestrator struct {
	store     *database.Store
	syncer    *Syncer
	projector Projector
	interval  time.Duration
	log       zerolog.Logger

	mu      sync.Mutex
	inCycle bool
}

// NewOrchestrator wires the driver. interval zero defaults to 24h.
func NewOrchestrator(store *database.Store, s *Syncer, p Projector, interval time.Duration, log zerolog.Logger) *Orchestrator {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Orchestrator{
		store:     store,
		syncer:    s,
		projector: p,
		interval:  interval,
		log:       log,
	}
}

// Run blocks until ctx is cancelled, triggering one cycle immediately and
// then one per interval. Cycles run on their own goroutine so a slow cycle
// never blocks the timer; an overlapping tick is skipped, not queued.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.startCycle(ctx)

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			o.startCycle(ctx)
		}
	}
}

func (o *Orchestrator) startCycle(ctx context.Context) {
	o.mu.Lock()
	if o.inCycle {
		o.mu.Unlock()
		o.log.Warn().Msg("previous sync cycle still running, skipping tick")
		return
	}
	o.inCycle = true
	o.mu.Unlock()

	go func() {
		defer func() {
			o.mu.Lock()
			o.inCycle = false
			o.mu.Unlock()
		}()
		o.RunCycle(ctx)
	}()
}

// RunCycle executes one full pass: every entity type in dependency order,
// the deferred-reference sweep, then projection. Projection runs after the
// relational pass, not concurrently with it, bounding the staleness window
// between the two stores to one cycle.
func (o *Orchestrator) RunCycle(ctx context.Context) {
	runID := uuid.NewString()
	log := o.log.With().Str("run_id", runID).Logger()
	log.Info().Msg("sync cycle starting")
	start := time.Now()

	for _, entityType := range apptype.SyncOrder {
		if ctx.Err() != nil {
			log.Warn().Msg("sync cycle cancelled")
			return
		}
		if _, err := o.syncer.Sync(ctx, entityType); err != nil {
			if errors.Is(err, database.ErrSyncRunning) {
				continue
			}
			// Recorded in sync_status; keep going so one entity's source
			// trouble does not starve the rest.
			log.Error().Err(err).Str("entity_type", string(entityType)).Msg("entity sync failed")
		}
	}

	o.reconcile(ctx, log)
	o.project(ctx, log)

	log.Info().Dur("elapsed", time.Since(start)).Msg("sync cycle finished")
}

// reconcile fills in deferred reference markers that became resolvable
// during this pass, without reprocessing any source record.
func (o *Orchestrator) reconcile(ctx context.Context, log zerolog.Logger) {
	for _, m := range mapping.All() {
		if ctx.Err() != nil {
			return
		}
		n, err := o.store.ReconcileDeferred(ctx, m)
		if err != nil {
			log.Error().Err(err).Str("entity_type", string(m.Type)).Msg("deferred reconciliation failed")
			continue
		}
		if n > 0 {
			log.Info().Str("entity_type", string(m.Type)).Int64("resolved", n).Msg("reconciled deferred references")
		}
	}
}

func (o *Orchestrator) project(ctx context.Context, log zerolog.Logger) {
	for _, entityType := range apptype.SyncOrder {
		if ctx.Err() != nil {
			return
		}
		docs, err := o.projector.Project(ctx, entityType)
		if err != nil {
			log.Error().Err(err).Str("entity_type", string(entityType)).Msg("vector projection failed")
			continue
		}
		if docs > 0 {
			log.Info().Str("entity_type", string(entityType)).Int("documents", docs).Msg("vector projection complete")
		}
	}
}

// TriggerSync runs one entity type's sync immediately, re-entering the
// same state machine as the scheduled path. The deferred sweep runs
// afterwards so references to the freshly synced rows resolve.
func (o *Orchestrator) TriggerSync(ctx context.Context, entityType apptype.EntityType) (*apptype.SyncOutcome, error) {
	outcome, err := o.syncer.Sync(ctx, entityType)
	if err != nil {
		return nil, err
	}
	o.reconcile(ctx, o.log)
	return outcome, nil
}

// TriggerReprojection forces a full re-projection of one entity type.
func (o *Orchestrator) TriggerReprojection(ctx context.Context, entityType apptype.EntityType) (int, error) {
	return o.projector.Reproject(ctx, entityType)
}
