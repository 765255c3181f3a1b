package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/syncforge/crmsync/internal/apptype"
)

// Page is one page of changed records from the source, ordered by source id
// ascending so a crash mid-sequence can resume deterministically.
type Page struct {
	Records       []apptype.SourceRecord
	NextPageToken string
}

// Client is the boundary to the external CRM API. Implementations must
// surface rate-limit and transient failures distinguishably from permanent
// ones, via RateLimitError and TransientError.
type Client interface {
	// ListChanged returns records of the given type modified at or after
	// since, starting at pageToken ("" for the first page).
	ListChanged(ctx context.Context, entityType apptype.EntityType, since time.Time, pageToken string) (*Page, error)
}

// RateLimitError signals that the source throttled the request. RetryAfter
// is the source's hint, zero when none was given.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("source rate limited, retry after %s", e.RetryAfter)
	}
	return "source rate limited"
}

// TransientError wraps a failure worth retrying: timeouts, 5xx responses,
// connection resets.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient source error: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError wraps a failure that retrying cannot fix, such as a 4xx
// response or an unknown entity type.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return fmt.Sprintf("permanent source error: %v", e.Err) }
func (e *PermanentError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is worth retrying at the fetcher level.
func IsRetryable(err error) bool {
	var rl *RateLimitError
	var tr *TransientError
	return errors.As(err, &rl) || errors.As(err, &tr)
}
