package vector

import (
	"context"

	"github.com/syncforge/crmsync/internal/apptype"
)

// SearchResult is one similarity hit. Distance is cosine distance, smaller
// is closer.
type SearchResult struct {
	Document apptype.VectorDocument `json:"document"`
	Distance float64                `json:"distance"`
}

// Index is the vector store the projector writes into. Upserts are keyed
// by document id, so re-projecting a row overwrites its document instead
// of duplicating it.
type Index interface {
	// UpsertBatch writes one batch of documents with their embeddings. The
	// batch is durable when UpsertBatch returns nil; the projector commits
	// its watermark only then.
	UpsertBatch(ctx context.Context, docs []apptype.VectorDocument, vectors [][]float32) error
	// Search returns the closest documents to query, optionally restricted
	// to one entity type (empty means all).
	Search(ctx context.Context, query []float32, entityType apptype.EntityType, limit int) ([]SearchResult, error)
	Close() error
}
