package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rs/zerolog"
)

// Config holds the relational store configuration.
type Config struct {
	URL          string
	AuthToken    string
	MaxOpenConns int
	MaxIdleConns int
}

// Store wraps the libSQL database holding the synced entities, the sync and
// projection watermarks, and the options table.
type Store struct {
	db  *sql.DB
	log zerolog.Logger

	stmtMu    sync.RWMutex
	stmtCache map[string]*sql.Stmt
}

// NewStore opens (or creates) the store at config.URL and initializes the
// schema.
func NewStore(config Config, log zerolog.Logger) (*Store, error) {
	dbURL := config.URL
	if !strings.HasPrefix(dbURL, "file:") && config.AuthToken != "" {
		if u, err := url.Parse(dbURL); err == nil {
			q := u.Query()
			q.Set("authToken", config.AuthToken)
			u.RawQuery = q.Encode()
			dbURL = u.String()
		}
	}

	db, err := sql.Open("libsql", dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, log: log, stmtCache: make(map[string]*sql.Stmt)}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}

	return s, nil
}

// initialize creates tables and indexes if they don't exist.
func (s *Store) initialize() error {
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for initialization: %w", err)
	}
	defer tx.Rollback()

	for _, statement := range schema() {
		if _, err := tx.Exec(statement); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return tx.Commit()
}

// getPreparedStmt returns or prepares and caches a statement. Upserts run
// the same statement per entity type for every record in a batch, so
// caching pays off.
func (s *Store) getPreparedStmt(ctx context.Context, sqlText string) (*sql.Stmt, error) {
	s.stmtMu.RLock()
	stmt, ok := s.stmtCache[sqlText]
	s.stmtMu.RUnlock()
	if ok {
		return stmt, nil
	}

	stmt, err := s.db.PrepareContext(ctx, sqlText)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}
	s.stmtMu.Lock()
	s.stmtCache[sqlText] = stmt
	s.stmtMu.Unlock()
	return stmt, nil
}

// Close closes the underlying connection and cached statements.
func (s *Store) Close() error {
	s.stmtMu.Lock()
	for _, stmt := range s.stmtCache {
		_ = stmt.Close()
	}
	s.stmtCache = make(map[string]*sql.Stmt)
	s.stmtMu.Unlock()
	return s.db.Close()
}

// Timestamps are stored as fixed-width UTC text. The width matters:
// watermark guards (last_successful_sync_at < ?, updated_at > ?) compare
// TEXT lexicographically, and a layout that trims trailing fractional
// zeros would order "…05Z" after "…05.5Z". Nine forced fractional digits
// keep string order identical to time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse stored timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullableTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
