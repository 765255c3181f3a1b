package vector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rs/zerolog"

	"github.com/syncforge/crmsync/internal/apptype"
)

// LibsqlConfig configures the libSQL-backed index.
type LibsqlConfig struct {
	URL       string
	AuthToken string
	Dims      int
}

// LibsqlIndex stores documents and embeddings in a libSQL database, using
// the native F32_BLOB column type and vector functions where the server
// supports them and a full-scan cosine fallback where it does not.
type LibsqlIndex struct {
	db     *sql.DB
	dims   int
	log    zerolog.Logger
	hasANN bool
}

// NewLibsqlIndex opens (or creates) the index at config.URL.
func NewLibsqlIndex(config LibsqlConfig, log zerolog.Logger) (*LibsqlIndex, error) {
	if config.Dims <= 0 {
		return nil, fmt.Errorf("embedding dimensions must be positive, got %d", config.Dims)
	}

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
		return nil, fmt.Errorf("failed to open vector database: %w", err)
	}

	idx := &LibsqlIndex{db: db, dims: config.Dims, log: log}
	if err := idx.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize vector database: %w", err)
	}
	return idx, nil
}

func (x *LibsqlIndex) initialize() error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS documents (
        id TEXT PRIMARY KEY,
        entity_type TEXT NOT NULL,
        body TEXT NOT NULL,
        metadata TEXT,
        embedding F32_BLOB(%d),
        updated_at TEXT NOT NULL
    )`, x.dims)
	if _, err := x.db.Exec(ddl); err != nil {
		return err
	}
	if _, err := x.db.Exec(
		`CREATE INDEX IF NOT EXISTS idx_documents_entity_type ON documents(entity_type)`); err != nil {
		return err
	}

	// ANN index needs server-side vector support; older builds fall back to
	// the full-scan search path.
	_, err := x.db.Exec(
		`CREATE INDEX IF NOT EXISTS idx_documents_embedding ON documents(libsql_vector_idx(embedding))`)
	if err == nil {
		x.hasANN = true
	} else {
		x.log.Debug().Err(err).Msg("vector ANN index unavailable, using full-scan search")
	}
	return nil
}

// UpsertBatch writes docs and vectors in one transaction, so a crashed
// batch leaves no partial documents behind and the projector's watermark
// stays honest.
func (x *LibsqlIndex) UpsertBatch(ctx context.Context, docs []apptype.VectorDocument, vectors [][]float32) error {
	if len(docs) != len(vectors) {
		return fmt.Errorf("got %d documents but %d vectors", len(docs), len(vectors))
	}
	if len(docs) == 0 {
		return nil
	}

	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin vector upsert: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for i, doc := range docs {
		vecStr, err := x.vectorToString(vectors[i])
		if err != nil {
			return fmt.Errorf("document %q: %w", doc.ID, err)
		}
		meta, err := json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("document %q: %w", doc.ID, err)
		}
		entityType, _ := doc.Metadata["entity_type"].(string)

		_, err = tx.ExecContext(ctx,
			`INSERT INTO documents (id, entity_type, body, metadata, embedding, updated_at)
             VALUES (?, ?, ?, ?, vector32(?), ?)
             ON CONFLICT (id) DO UPDATE SET
                 entity_type = excluded.entity_type,
                 body = excluded.body,
                 metadata = excluded.metadata,
                 embedding = excluded.embedding,
                 updated_at = excluded.updated_at`,
			doc.ID, entityType, doc.Text, string(meta), vecStr, now)
		if err != nil {
			return fmt.Errorf("failed to upsert document %q: %w", doc.ID, err)
		}
	}
	return tx.Commit()
}

// Search returns the limit closest documents by cosine distance.
func (x *LibsqlIndex) Search(ctx context.Context, query []float32, entityType apptype.EntityType, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	vecStr, err := x.vectorToString(query)
	if err != nil {
		return nil, err
	}

	where := "d.embedding IS NOT NULL"
	args := []any{vecStr}
	if entityType != "" {
		where += " AND d.entity_type = ?"
		args = append(args, string(entityType))
	}
	args = append(args, limit)

	q := fmt.Sprintf(`
        SELECT d.id, d.body, d.metadata,
               vector_distance_cos(d.embedding, vector32(?)) AS distance
        FROM documents d
        WHERE %s
        ORDER BY distance
        LIMIT ?`, where)

	rows, err := x.db.QueryContext(ctx, q, args...)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "no such function") {
			return nil, fmt.Errorf("vector search requires libSQL vector support: %w", err)
		}
		return nil, fmt.Errorf("failed to search documents: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var (
			doc      apptype.VectorDocument
			metaJSON sql.NullString
			distance float64
		)
		if err := rows.Scan(&doc.ID, &doc.Text, &metaJSON, &distance); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		if metaJSON.Valid && metaJSON.String != "" {
			if err := json.Unmarshal([]byte(metaJSON.String), &doc.Metadata); err != nil {
				return nil, fmt.Errorf("document %q has invalid metadata: %w", doc.ID, err)
			}
		}
		out = append(out, SearchResult{Document: doc, Distance: distance})
	}
	return out, rows.Err()
}

// Count returns the number of stored documents, optionally per entity type.
func (x *LibsqlIndex) Count(ctx context.Context, entityType apptype.EntityType) (int64, error) {
	q := `SELECT COUNT(*) FROM documents`
	var args []any
	if entityType != "" {
		q += ` WHERE entity_type = ?`
		args = append(args, string(entityType))
	}
	var n int64
	if err := x.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return n, nil
}

func (x *LibsqlIndex) Close() error {
	return x.db.Close()
}

// vectorToString renders a float32 slice in the textual form vector32()
// accepts, rejecting dimension mismatches and non-finite values.
func (x *LibsqlIndex) vectorToString(vec []float32) (string, error) {
	if len(vec) != x.dims {
		return "", fmt.Errorf("vector must have exactly %d dimensions, got %d", x.dims, len(vec))
	}
	parts := make([]string, len(vec))
	for i, n := range vec {
		if math.IsNaN(float64(n)) || math.IsInf(float64(n), 0) {
			return "", fmt.Errorf("vector element %d is not finite", i)
		}
		parts[i] = fmt.Sprintf("%f", n)
	}
	return "[" + strings.Join(parts, ", ") + "]", nil
}

var _ Index = (*LibsqlIndex)(nil)
