package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/syncforge/crmsync/internal/apptype"
	"github.com/syncforge/crmsync/internal/database"
	"github.com/syncforge/crmsync/internal/mapping"
	"github.com/syncforge/crmsync/internal/metrics"
	"github.com/syncforge/crmsync/internal/source"
)

// Fetcher is the record stream the syncer consumes. *source.Fetcher
// satisfies it; tests substitute fakes.
type Fetcher interface {
	Fetch(ctx context.Context, entityType apptype.EntityType, since time.Time, fn func(apptype.SourceRecord) error) error
}

// Syncer runs one entity type's sync cycle: read watermark, stream changed
// records, upsert each, advance watermark, record the outcome. It holds no
// state between runs; retries are an orchestrator-level policy.
type Syncer struct {
	store   *database.Store
	fetcher Fetcher
	writer  *Writer
	log     zerolog.Logger
}

// NewSyncer wires a syncer over the watermark store, the fetcher and the
// upsert writer.
func NewSyncer(store *database.Store, fetcher Fetcher, writer *Writer, log zerolog.Logger) *Syncer {
	return &Syncer{store: store, fetcher: fetcher, writer: writer, log: log}
}

// Sync executes one run for entityType. A run already in flight returns
// database.ErrSyncRunning without touching anything. Record-level failures
// are skipped and logged; source- and storage-level failures end the run in
// the error state with the prior watermark intact.
func (s *Syncer) Sync(ctx context.Context, entityType apptype.EntityType) (*apptype.SyncOutcome, error) {
	m, ok := mapping.ForType(entityType)
	if !ok {
		return nil, fmt.Errorf("no mapping for entity type %q", entityType)
	}

	state, err := s.store.GetSyncState(ctx, entityType)
	if err != nil {
		return nil, err
	}
	var since time.Time
	if state.LastSuccessfulSyncAt != nil {
		since = *state.LastSuccessfulSyncAt
	}

	if err := s.store.BeginSync(ctx, entityType); err != nil {
		if errors.Is(err, database.ErrSyncRunning) {
			s.log.Warn().Str("entity_type", string(entityType)).Msg("sync already running, skipping")
		}
		return nil, err
	}

	done := metrics.TimeSync(string(entityType))
	outcome, err := s.run(ctx, m, since)
	if err != nil {
		done(false)
		failErr := err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			failErr = fmt.Errorf("cancelled: %w", err)
		}
		if ferr := s.store.FailSync(ctx, entityType, failErr); ferr != nil {
			s.log.Error().Err(ferr).Str("entity_type", string(entityType)).Msg("failed to record sync failure")
		}
		s.log.Error().Err(err).Str("entity_type", string(entityType)).Msg("sync failed")
		return nil, err
	}

	if err := s.store.CommitSync(ctx, entityType, outcome.Watermark, outcome.Records); err != nil {
		done(false)
		return nil, err
	}
	done(true)
	metrics.Default().AddRecordsSynced(string(entityType), outcome.Records)
	metrics.Default().AddRecordsSkipped(string(entityType), outcome.Skipped)

	s.log.Info().
		Str("entity_type", string(entityType)).
		Int("records", outcome.Records).
		Int("skipped", outcome.Skipped).
		Time("watermark", outcome.Watermark).
		Msg("sync complete")
	return outcome, nil
}

// run streams and upserts records. The committed watermark is the maximum
// last_modified_at observed, not "now": a slow run must not advance the
// watermark past records it never saw.
func (s *Syncer) run(ctx context.Context, m mapping.Entity, since time.Time) (*apptype.SyncOutcome, error) {
	outcome := &apptype.SyncOutcome{EntityType: m.Type}

	err := s.fetcher.Fetch(ctx, m.Type, since, func(rec apptype.SourceRecord) error {
		// Cancellation happens between records, never mid-upsert.
		if err := ctx.Err(); err != nil {
			return err
		}

		if _, err := s.writer.Upsert(ctx, m, rec); err != nil {
			var recErr *RecordError
			if errors.As(err, &recErr) {
				// A single bad record must not abort the whole batch.
				outcome.Skipped++
				s.log.Warn().
					Str("entity_type", string(m.Type)).
					Str("source_id", rec.SourceID).
					Err(err).
					Msg("skipping malformed record")
				return nil
			}
			return err
		}

		outcome.Records++
		if rec.LastModifiedAt.After(outcome.Watermark) {
			outcome.Watermark = rec.LastModifiedAt
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

var _ Fetcher = (*source.Fetcher)(nil)
