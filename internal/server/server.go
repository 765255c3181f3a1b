package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/syncforge/crmsync/internal/apptype"
	"github.com/syncforge/crmsync/internal/database"
	"github.com/syncforge/crmsync/internal/embeddings"
	"github.com/syncforge/crmsync/internal/vector"
)

// Triggerer is the orchestrator surface the admin API drives.
type Triggerer interface {
	TriggerSync(ctx context.Context, entityType apptype.EntityType) (*apptype.SyncOutcome, error)
	TriggerReprojection(ctx context.Context, entityType apptype.EntityType) (int, error)
}

// Server is the admin HTTP surface: sync status, manual triggers, and a
// similarity search endpoint over the vector index.
type Server struct {
	store    *database.Store
	trigger  Triggerer
	provider embeddings.Provider
	index    vector.Index
	log      zerolog.Logger
	http     *http.Server
}

// New builds the server on addr.
func New(addr string, store *database.Store, trigger Triggerer, provider embeddings.Provider, index vector.Index, log zerolog.Logger) *Server {
	s := &Server{
		store:    store,
		trigger:  trigger,
		provider: provider,
		index:    index,
		log:      log,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/sync/{entityType}", s.handleSync)
		r.Post("/reproject/{entityType}", s.handleReproject)
		r.Post("/search", s.handleSearch)
	})

	s.http = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// ListenAndServe blocks serving the admin API until Shutdown.
func (s *Server) ListenAndServe() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("admin API listening")
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStatus reports per-entity sync and projection watermarks.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	syncStates, err := s.store.ListSyncStates(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	projStates, err := s.store.ListProjectionStates(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sync":       syncStates,
		"projection": projStates,
	})
}

// handleSync triggers one entity sync immediately. A run already in flight
// answers 409 rather than queueing a second one.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	entityType := apptype.EntityType(chi.URLParam(r, "entityType"))
	if !entityType.Valid() {
		s.writeError(w, http.StatusBadRequest, errors.New("unknown entity type"))
		return
	}
	outcome, err := s.trigger.TriggerSync(r.Context(), entityType)
	if err != nil {
		if errors.Is(err, database.ErrSyncRunning) {
			s.writeError(w, http.StatusConflict, err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entity_type": outcome.EntityType,
		"records":     outcome.Records,
		"skipped":     outcome.Skipped,
	})
}

func (s *Server) handleReproject(w http.ResponseWriter, r *http.Request) {
	entityType := apptype.EntityType(chi.URLParam(r, "entityType"))
	if !entityType.Valid() {
		s.writeError(w, http.StatusBadRequest, errors.New("unknown entity type"))
		return
	}
	docs, err := s.trigger.TriggerReprojection(r.Context(), entityType)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entity_type": entityType,
		"documents":   docs,
	})
}

type searchRequest struct {
	Query      string `json:"query"`
	EntityType string `json:"entity_type,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

// handleSearch embeds the query text and returns the closest documents.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Query == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("query must not be empty"))
		return
	}
	entityType := apptype.EntityType(req.EntityType)
	if req.EntityType != "" && !entityType.Valid() {
		s.writeError(w, http.StatusBadRequest, errors.New("unknown entity type"))
		return
	}

	vectors, err := s.provider.Embed(r.Context(), []string{req.Query})
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	results, err := s.index.Search(r.Context(), vectors[0], entityType, req.Limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
