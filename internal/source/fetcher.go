package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/syncforge/crmsync/internal/apptype"
	"github.com/syncforge/crmsync/internal/metrics"
)

// Fetcher streams changed records from the source client, page by page, in
// the source's stable order. It enforces an inter-request rate limit and
// retries rate-limited or transient page failures with exponential backoff.
// A page that exhausts its retries fails the whole fetch; the fetcher never
// advances past a failed page.
type Fetcher struct {
	client     Client
	limiter    *rate.Limiter
	maxRetries int
	log        zerolog.Logger
}

// NewFetcher wraps client with rate limiting (requestsPerSec) and bounded
// page retries.
func NewFetcher(client Client, requestsPerSec float64, maxRetries int, log zerolog.Logger) *Fetcher {
	if requestsPerSec <= 0 {
		requestsPerSec = 5
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Fetcher{
		client:     client,
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSec), 1),
		maxRetries: maxRetries,
		log:        log,
	}
}

// Fetch calls fn for every record modified at or after since, in fetch
// order. It stops and returns fn's error as-is, so callers can abort the
// stream. Restartable from any watermark.
func (f *Fetcher) Fetch(ctx context.Context, entityType apptype.EntityType, since time.Time, fn func(apptype.SourceRecord) error) error {
	pageToken := ""
	pages := 0
	for {
		page, err := f.fetchPage(ctx, entityType, since, pageToken)
		if err != nil {
			return err
		}
		pages++
		for _, rec := range page.Records {
			if err := fn(rec); err != nil {
				return err
			}
		}
		if page.NextPageToken == "" {
			f.log.Debug().Str("entity_type", string(entityType)).Int("pages", pages).Msg("fetch complete")
			return nil
		}
		pageToken = page.NextPageToken
	}
}

// fetchPage retrieves a single page, retrying retryable failures. A
// rate-limit hint from the source extends the backoff wait; it never
// shortens it.
func (f *Fetcher) fetchPage(ctx context.Context, entityType apptype.EntityType, since time.Time, pageToken string) (*Page, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = time.Minute

	attempts := 0
	for {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		page, err := f.client.ListChanged(ctx, entityType, since, pageToken)
		if err == nil {
			return page, nil
		}
		if !IsRetryable(err) {
			return nil, err
		}

		attempts++
		if attempts > f.maxRetries {
			return nil, fmt.Errorf("page fetch for %s failed after %d retries: %w", entityType, f.maxRetries, err)
		}
		metrics.Default().IncFetchRetries(string(entityType))

		wait := bo.NextBackOff()
		var rl *RateLimitError
		if errors.As(err, &rl) && rl.RetryAfter > wait {
			wait = rl.RetryAfter
		}
		f.log.Warn().
			Str("entity_type", string(entityType)).
			Int("attempt", attempts).
			Dur("wait", wait).
			Err(err).
			Msg("retrying page fetch")

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
