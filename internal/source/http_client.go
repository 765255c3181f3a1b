package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/syncforge/crmsync/internal/apptype"
	"github.com/syncforge/crmsync/internal/mapping"
)

// endpointFor maps entity types to their CRM collection paths.
var endpointFor = map[apptype.EntityType]string{
	apptype.EntityOwners:     "/crm/v3/owners",
	apptype.EntityCompanies:  "/crm/v3/objects/companies",
	apptype.EntityContacts:   "/crm/v3/objects/contacts",
	apptype.EntityDeals:      "/crm/v3/objects/deals",
	apptype.EntityActivities: "/crm/v3/objects/activities",
}

// HTTPClient is a minimal REST client for a HubSpot-style CRM API. It speaks
// the paged list endpoints and translates HTTP failures into the source
// error taxonomy.
type HTTPClient struct {
	baseURL  string
	apiKey   string
	pageSize int
	http     *http.Client
}

// NewHTTPClient builds a client against baseURL authenticating with a bearer
// token.
func NewHTTPClient(baseURL, apiKey string, pageSize int, timeout time.Duration) *HTTPClient {
	if pageSize <= 0 {
		pageSize = 100
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL:  baseURL,
		apiKey:   apiKey,
		pageSize: pageSize,
		http:     &http.Client{Timeout: timeout},
	}
}

type listResponse struct {
	Results []struct {
		ID         string         `json:"id"`
		Properties map[string]any `json:"properties"`
		UpdatedAt  time.Time      `json:"updatedAt"`
	} `json:"results"`
	Paging struct {
		Next struct {
			After string `json:"after"`
		} `json:"next"`
	} `json:"paging"`
}

// ListChanged implements Client.
func (c *HTTPClient) ListChanged(ctx context.Context, entityType apptype.EntityType, since time.Time, pageToken string) (*Page, error) {
	endpoint, ok := endpointFor[entityType]
	if !ok {
		return nil, &PermanentError{Err: fmt.Errorf("unknown entity type %q", entityType)}
	}

	params := url.Values{}
	params.Set("limit", strconv.Itoa(c.pageSize))
	params.Set("sort", "id")
	if props := sourceProperties(entityType); props != "" {
		params.Set("properties", props)
	}
	if !since.IsZero() {
		params.Set("updatedAfter", strconv.FormatInt(since.UnixMilli(), 10))
	}
	if pageToken != "" {
		params.Set("after", pageToken)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, &PermanentError{Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &RateLimitError{RetryAfter: retryAfterHint(resp)}
	case resp.StatusCode >= 500:
		return nil, &TransientError{Err: fmt.Errorf("source returned %s", resp.Status)}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &PermanentError{Err: fmt.Errorf("source returned %s", resp.Status)}
	}

	var body listResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &TransientError{Err: fmt.Errorf("failed to decode source response: %w", err)}
	}

	page := &Page{NextPageToken: body.Paging.Next.After}
	for _, r := range body.Results {
		page.Records = append(page.Records, apptype.SourceRecord{
			SourceID:       r.ID,
			Fields:         r.Properties,
			LastModifiedAt: r.UpdatedAt,
		})
	}
	return page, nil
}

// sourceProperties lists the source fields the mapping consumes, comma
// joined. Without an explicit properties parameter the API returns only
// its default property set and every mapped custom field would land NULL.
func sourceProperties(entityType apptype.EntityType) string {
	m, ok := mapping.ForType(entityType)
	if !ok {
		return ""
	}
	names := make([]string, 0, len(m.Field))
	for _, f := range m.Field {
		names = append(names, f.Source)
	}
	return strings.Join(names, ",")
}

func retryAfterHint(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
