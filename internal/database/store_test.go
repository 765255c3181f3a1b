package database

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore opens a per-test in-memory database. The `cache=shared`
// is crucial for sharing the connection across different calls to
// `sql.Open` within the same process; the test name keeps databases from
// leaking state between tests.
func setupTestStore(t *testing.T) *Store {
	t.Helper()
	url := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	store, err := NewStore(Config{URL: url}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, store.Close())
	})
	return store
}

// Watermark guards compare stored timestamps as TEXT, so the format must
// order lexicographically exactly as the times order. A layout that trims
// trailing fractional zeros breaks this: "…05Z" sorts after "…05.5Z".
func TestTimeFormatKeepsLexicalOrder(t *testing.T) {
	whole := time.Date(2026, 6, 1, 10, 0, 5, 0, time.UTC)
	frac := whole.Add(500 * time.Millisecond)

	a, b := fmtTime(whole), fmtTime(frac)
	assert.Len(t, b, len(a))
	assert.True(t, a < b, "%q must sort before %q", a, b)

	back, err := parseTime(a)
	require.NoError(t, err)
	assert.True(t, back.Equal(whole))
	back, err = parseTime(b)
	require.NoError(t, err)
	assert.True(t, back.Equal(frac))
}
