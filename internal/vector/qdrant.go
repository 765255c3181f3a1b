package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/syncforge/crmsync/internal/apptype"
)

// QdrantConfig configures the Qdrant-backed index.
type QdrantConfig struct {
	URL        string
	APIKey     string
	Collection string
	Dims       int
}

// QdrantIndex talks to a Qdrant server over its REST API. Document ids are
// mapped to deterministic UUIDs since Qdrant only accepts UUID or integer
// point ids; the original id travels in the payload.
type QdrantIndex struct {
	baseURL    string
	apiKey     string
	collection string
	dims       int
	http       *http.Client
}

// NewQdrantIndex builds the client and ensures the collection exists.
func NewQdrantIndex(ctx context.Context, config QdrantConfig) (*QdrantIndex, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("qdrant index requires a URL")
	}
	if config.Collection == "" {
		return nil, fmt.Errorf("qdrant index requires a collection name")
	}
	if config.Dims <= 0 {
		return nil, fmt.Errorf("embedding dimensions must be positive, got %d", config.Dims)
	}
	x := &QdrantIndex{
		baseURL:    strings.TrimRight(config.URL, "/"),
		apiKey:     config.APIKey,
		collection: config.Collection,
		dims:       config.Dims,
		http:       &http.Client{Timeout: 30 * time.Second},
	}
	if err := x.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return x, nil
}

func (x *QdrantIndex) ensureCollection(ctx context.Context) error {
	body := map[string]any{
		"vectors": map[string]any{
			"size":     x.dims,
			"distance": "Cosine",
		},
	}
	status, err := x.do(ctx, http.MethodPut, "/collections/"+x.collection, body, nil)
	if err != nil {
		return fmt.Errorf("failed to ensure qdrant collection %q: %w", x.collection, err)
	}
	// 409 means the collection already exists.
	if status != http.StatusOK && status != http.StatusConflict {
		return fmt.Errorf("failed to ensure qdrant collection %q: status %d", x.collection, status)
	}
	return nil
}

// UpsertBatch writes one batch of points. Qdrant upserts are atomic per
// request with wait=true, satisfying the projector's durability contract.
func (x *QdrantIndex) UpsertBatch(ctx context.Context, docs []apptype.VectorDocument, vectors [][]float32) error {
	if len(docs) != len(vectors) {
		return fmt.Errorf("got %d documents but %d vectors", len(docs), len(vectors))
	}
	if len(docs) == 0 {
		return nil
	}

	points := make([]map[string]any, 0, len(docs))
	for i, doc := range docs {
		payload := map[string]any{
			"doc_id": doc.ID,
			"body":   doc.Text,
		}
		for k, v := range doc.Metadata {
			payload[k] = v
		}
		points = append(points, map[string]any{
			"id":      pointID(doc.ID),
			"vector":  vectors[i],
			"payload": payload,
		})
	}

	status, err := x.do(ctx, http.MethodPut,
		"/collections/"+x.collection+"/points?wait=true",
		map[string]any{"points": points}, nil)
	if err != nil {
		return fmt.Errorf("failed to upsert qdrant points: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("failed to upsert qdrant points: status %d", status)
	}
	return nil
}

// Search queries the collection, filtered on entity_type when given.
func (x *QdrantIndex) Search(ctx context.Context, query []float32, entityType apptype.EntityType, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	body := map[string]any{
		"vector":       query,
		"limit":        limit,
		"with_payload": true,
	}
	if entityType != "" {
		body["filter"] = map[string]any{
			"must": []map[string]any{
				{"key": "entity_type", "match": map[string]any{"value": string(entityType)}},
			},
		}
	}

	var out struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	status, err := x.do(ctx, http.MethodPost,
		"/collections/"+x.collection+"/points/search", body, &out)
	if err != nil {
		return nil, fmt.Errorf("failed to search qdrant: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("failed to search qdrant: status %d", status)
	}

	results := make([]SearchResult, 0, len(out.Result))
	for _, hit := range out.Result {
		doc := apptype.VectorDocument{Metadata: map[string]any{}}
		for k, v := range hit.Payload {
			switch k {
			case "doc_id":
				doc.ID, _ = v.(string)
			case "body":
				doc.Text, _ = v.(string)
			default:
				doc.Metadata[k] = v
			}
		}
		// Qdrant scores cosine as similarity; convert to distance so both
		// backends agree on "smaller is closer".
		results = append(results, SearchResult{Document: doc, Distance: 1 - hit.Score})
	}
	return results, nil
}

func (x *QdrantIndex) Close() error { return nil }

func (x *QdrantIndex) do(ctx context.Context, method, path string, body any, out any) (int, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, method, x.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if x.apiKey != "" {
		req.Header.Set("api-key", x.apiKey)
	}
	resp, err := x.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

// pointID derives a stable UUID from the document id, so re-projection
// overwrites the same point.
func pointID(docID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(docID)).String()
}

var _ Index = (*QdrantIndex)(nil)
