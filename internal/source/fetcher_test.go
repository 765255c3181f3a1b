package source

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncforge/crmsync/internal/apptype"
)

// scriptedClient returns one canned response per call, in order.
type scriptedClient struct {
	responses []func() (*Page, error)
	calls     int
}

func (c *scriptedClient) ListChanged(_ context.Context, _ apptype.EntityType, _ time.Time, _ string) (*Page, error) {
	if c.calls >= len(c.responses) {
		return nil, &PermanentError{Err: errors.New("no more scripted responses")}
	}
	resp := c.responses[c.calls]
	c.calls++
	return resp()
}

func page(token string, ids ...string) func() (*Page, error) {
	return func() (*Page, error) {
		p := &Page{NextPageToken: token}
		for _, id := range ids {
			p.Records = append(p.Records, apptype.SourceRecord{
				SourceID:       id,
				Fields:         map[string]any{},
				LastModifiedAt: time.Now(),
			})
		}
		return p, nil
	}
}

func fail(err error) func() (*Page, error) {
	return func() (*Page, error) { return nil, err }
}

func collect(t *testing.T, f *Fetcher) []string {
	t.Helper()
	var ids []string
	err := f.Fetch(context.Background(), apptype.EntityContacts, time.Time{}, func(rec apptype.SourceRecord) error {
		ids = append(ids, rec.SourceID)
		return nil
	})
	require.NoError(t, err)
	return ids
}

func TestFetchStitchesPages(t *testing.T) {
	client := &scriptedClient{responses: []func() (*Page, error){
		page("t2", "a", "b"),
		page("t3", "c"),
		page("", "d"),
	}}
	f := NewFetcher(client, 1000, 3, zerolog.Nop())

	assert.Equal(t, []string{"a", "b", "c", "d"}, collect(t, f))
	assert.Equal(t, 3, client.calls)
}

func TestFetchRetriesTransientPageFailure(t *testing.T) {
	client := &scriptedClient{responses: []func() (*Page, error){
		page("t2", "a"),
		fail(&TransientError{Err: errors.New("connection reset")}),
		page("", "b"),
	}}
	f := NewFetcher(client, 1000, 3, zerolog.Nop())

	assert.Equal(t, []string{"a", "b"}, collect(t, f))
	assert.Equal(t, 3, client.calls)
}

func TestFetchGivesUpAfterMaxRetries(t *testing.T) {
	transient := &TransientError{Err: errors.New("still down")}
	client := &scriptedClient{responses: []func() (*Page, error){
		fail(transient), fail(transient), fail(transient),
	}}
	f := NewFetcher(client, 1000, 2, zerolog.Nop())

	err := f.Fetch(context.Background(), apptype.EntityContacts, time.Time{}, func(apptype.SourceRecord) error {
		return nil
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, transient))
	assert.Equal(t, 3, client.calls)
}

func TestFetchDoesNotRetryPermanentFailure(t *testing.T) {
	client := &scriptedClient{responses: []func() (*Page, error){
		fail(&PermanentError{Err: errors.New("bad credentials")}),
	}}
	f := NewFetcher(client, 1000, 3, zerolog.Nop())

	err := f.Fetch(context.Background(), apptype.EntityContacts, time.Time{}, func(apptype.SourceRecord) error {
		return nil
	})
	require.Error(t, err)
	var pe *PermanentError
	assert.True(t, errors.As(err, &pe))
	assert.Equal(t, 1, client.calls)
}

func TestFetchStopsOnCallbackError(t *testing.T) {
	client := &scriptedClient{responses: []func() (*Page, error){
		page("t2", "a", "b"),
		page("", "c"),
	}}
	f := NewFetcher(client, 1000, 3, zerolog.Nop())

	abort := errors.New("abort stream")
	err := f.Fetch(context.Background(), apptype.EntityContacts, time.Time{}, func(rec apptype.SourceRecord) error {
		if rec.SourceID == "b" {
			return abort
		}
		return nil
	})
	assert.True(t, errors.Is(err, abort))
	assert.Equal(t, 1, client.calls)
}
