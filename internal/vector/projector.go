package vector

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/syncforge/crmsync/internal/apptype"
	"github.com/syncforge/crmsync/internal/database"
	"github.com/syncforge/crmsync/internal/embeddings"
	"github.com/syncforge/crmsync/internal/mapping"
	"github.com/syncforge/crmsync/internal/metrics"
)

// Projector pushes changed relational rows into the vector index in
// batches. Each batch is rendered, embedded and upserted as one unit, and
// the projection watermark only advances after the batch is durable in the
// index. A crash mid-run re-projects at most one batch; document ids are
// stable, so the replay overwrites rather than duplicates.
type Projector struct {
	store     *database.Store
	renderer  *Renderer
	provider  embeddings.Provider
	index     Index
	batchSize int
	log       zerolog.Logger
}

// NewProjector wires a projector. batchSize zero defaults to 50.
func NewProjector(store *database.Store, provider embeddings.Provider, index Index, batchSize int, log zerolog.Logger) *Projector {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Projector{
		store:     store,
		renderer:  NewRenderer(store),
		provider:  provider,
		index:     index,
		batchSize: batchSize,
		log:       log,
	}
}

// Project pushes every row of entityType updated since the last projection
// watermark, oldest first, committing after each batch. Returns the number
// of documents written.
func (p *Projector) Project(ctx context.Context, entityType apptype.EntityType) (int, error) {
	m, ok := mapping.ForType(entityType)
	if !ok {
		return 0, fmt.Errorf("no mapping for entity type %q", entityType)
	}

	state, err := p.store.GetProjectionState(ctx, entityType)
	if err != nil {
		return 0, err
	}
	var since time.Time
	if state.LastProjectedAt != nil {
		since = *state.LastProjectedAt
	}

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		rows, err := p.nextBatch(ctx, m, since)
		if err != nil {
			return total, err
		}
		if len(rows) == 0 {
			break
		}

		if err := p.projectBatch(ctx, m, rows); err != nil {
			return total, fmt.Errorf("failed to project %s batch: %w", entityType, err)
		}

		watermark := rows[len(rows)-1].UpdatedAt
		if err := p.store.CommitProjection(ctx, entityType, watermark, len(rows)); err != nil {
			return total, err
		}
		metrics.Default().IncBatchesProjected(string(entityType))
		metrics.Default().AddDocsProjected(string(entityType), len(rows))
		total += len(rows)
		since = watermark
	}

	return total, nil
}

// Reproject clears the watermark and runs a full projection.
func (p *Projector) Reproject(ctx context.Context, entityType apptype.EntityType) (int, error) {
	if err := p.store.ResetProjection(ctx, entityType); err != nil {
		return 0, err
	}
	p.log.Info().Str("entity_type", string(entityType)).Msg("projection watermark reset, re-projecting")
	return p.Project(ctx, entityType)
}

// nextBatch reads the next batch of changed rows. Reads page on a strict
// "updated_at > watermark", so a batch must never end inside a group of
// rows sharing one updated_at: the trailing tie group is either trimmed
// off (it comes back in the next batch) or, when it fills the whole batch,
// the fetch widens until the group is complete.
func (p *Projector) nextBatch(ctx context.Context, m mapping.Entity, since time.Time) ([]apptype.StoredRow, error) {
	limit := p.batchSize
	for {
		// One row of lookahead detects a tie group straddling the boundary.
		rows, err := p.store.ChangedSince(ctx, m, since, limit+1)
		if err != nil {
			return nil, err
		}
		if len(rows) <= limit {
			return rows, nil
		}

		boundary := rows[limit].UpdatedAt
		if !rows[limit-1].UpdatedAt.Equal(boundary) {
			return rows[:limit], nil
		}
		cut := limit
		for cut > 0 && rows[cut-1].UpdatedAt.Equal(boundary) {
			cut--
		}
		if cut > 0 {
			return rows[:cut], nil
		}
		// Every row in the batch shares the boundary timestamp. Widen so
		// the whole group lands in a single batch and the watermark stays
		// honest.
		limit *= 2
	}
}

func (p *Projector) projectBatch(ctx context.Context, m mapping.Entity, rows []apptype.StoredRow) error {
	docs := make([]apptype.VectorDocument, 0, len(rows))
	texts := make([]string, 0, len(rows))
	for _, row := range rows {
		body, err := p.renderer.Render(ctx, m, row)
		if err != nil {
			return err
		}
		docs = append(docs, apptype.VectorDocument{
			ID:       DocumentID(m.Type, row.SourceID),
			Text:     body,
			Metadata: Metadata(m, row),
		})
		texts = append(texts, body)
	}

	vectors, err := p.provider.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed batch: %w", err)
	}
	if len(vectors) != len(docs) {
		return fmt.Errorf("embedder returned %d vectors for %d documents", len(vectors), len(docs))
	}

	return p.index.UpsertBatch(ctx, docs, vectors)
}

// DocumentID derives the stable vector document id for one stored row.
func DocumentID(entityType apptype.EntityType, sourceID string) string {
	return fmt.Sprintf("%s_%s", entityType, sourceID)
}
