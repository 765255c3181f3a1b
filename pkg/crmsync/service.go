// Package crmsync provides a library-first API over the sync engine: one
// Service owns the relational store, the source fetcher, the vector index
// and the orchestrator, assembled from a single Config.
package crmsync

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/syncforge/crmsync/internal/apptype"
	"github.com/syncforge/crmsync/internal/config"
	"github.com/syncforge/crmsync/internal/database"
	"github.com/syncforge/crmsync/internal/embeddings"
	"github.com/syncforge/crmsync/internal/source"
	"github.com/syncforge/crmsync/internal/syncer"
	"github.com/syncforge/crmsync/internal/vector"
)

// Service wires the full pipeline. Construct with NewService, run the
// scheduler with Run, or drive individual syncs with SyncEntity.
type Service struct {
	cfg      *config.Config
	store    *database.Store
	index    vector.Index
	provider embeddings.Provider
	orch     *syncer.Orchestrator
	log      zerolog.Logger
}

// NewService assembles the pipeline from cfg. The returned Service owns
// both database handles; call Close when done.
func NewService(cfg *config.Config, log zerolog.Logger) (*Service, error) {
	store, err := database.NewStore(database.Config{
		URL:          cfg.Database.URL,
		AuthToken:    cfg.DatabaseAuthToken(),
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open relational store: %w", err)
	}

	provider, err := embeddings.New(cfg.Vector.Embedder)
	if err != nil {
		store.Close()
		return nil, err
	}

	index, err := newIndex(cfg, provider.Dimensions(), log)
	if err != nil {
		store.Close()
		return nil, err
	}

	client := source.NewHTTPClient(
		cfg.Source.BaseURL,
		cfg.SourceAPIKey(),
		cfg.Source.PageSize,
		time.Duration(cfg.Source.TimeoutSecs)*time.Second,
	)
	fetcher := source.NewFetcher(client, cfg.Source.RequestsPerSec, cfg.Source.MaxRetries, log)

	resolver := syncer.NewResolver(store, log)
	writer := syncer.NewWriter(store, resolver, log)
	entitySyncer := syncer.NewSyncer(store, fetcher, writer, log)
	projector := vector.NewProjector(store, provider, index, cfg.Vector.BatchSize, log)
	orch := syncer.NewOrchestrator(store, entitySyncer, projector, cfg.Interval(), log)

	return &Service{
		cfg:      cfg,
		store:    store,
		index:    index,
		provider: provider,
		orch:     orch,
		log:      log,
	}, nil
}

func newIndex(cfg *config.Config, dims int, log zerolog.Logger) (vector.Index, error) {
	switch strings.ToLower(cfg.Vector.Backend) {
	case "", "libsql":
		return vector.NewLibsqlIndex(vector.LibsqlConfig{
			URL:       cfg.Vector.URL,
			AuthToken: os.Getenv(cfg.Vector.APIKeyEnv),
			Dims:      dims,
		}, log)
	case "qdrant":
		return vector.NewQdrantIndex(context.Background(), vector.QdrantConfig{
			URL:        cfg.Vector.URL,
			APIKey:     os.Getenv(cfg.Vector.APIKeyEnv),
			Collection: cfg.Vector.Collection,
			Dims:       dims,
		})
	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.Vector.Backend)
	}
}

// Run blocks running the scheduler until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	return s.orch.Run(ctx)
}

// RunOnce executes a single full cycle and returns.
func (s *Service) RunOnce(ctx context.Context) {
	s.orch.RunCycle(ctx)
}

// SyncEntity triggers one entity type's sync immediately.
func (s *Service) SyncEntity(ctx context.Context, entityType apptype.EntityType) (*apptype.SyncOutcome, error) {
	return s.orch.TriggerSync(ctx, entityType)
}

// Reproject forces a full re-projection of one entity type.
func (s *Service) Reproject(ctx context.Context, entityType apptype.EntityType) (int, error) {
	return s.orch.TriggerReprojection(ctx, entityType)
}

// Store exposes the relational store for status queries.
func (s *Service) Store() *database.Store { return s.store }

// Index exposes the vector index for search.
func (s *Service) Index() vector.Index { return s.index }

// Embedder exposes the embedding provider.
func (s *Service) Embedder() embeddings.Provider { return s.provider }

// Orchestrator exposes the trigger surface for the admin API.
func (s *Service) Orchestrator() *syncer.Orchestrator { return s.orch }

// Close releases both database handles.
func (s *Service) Close() error {
	ierr := s.index.Close()
	serr := s.store.Close()
	if serr != nil {
		return serr
	}
	return ierr
}
