package ratelimit_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiox-platform/quotaguard/internal/ratelimit"
	"github.com/aiox-platform/quotaguard/internal/testutil"
)

func TestSQLiteLimiter_WindowCounts(t *testing.T) {
	store := testutil.NewSQLiteStore(t)
	now := time.Date(2024, 6, 1, 12, 0, 10, 0, time.UTC)
	l := ratelimit.New(store, ratelimit.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		d, err := l.CheckAndIncrement(ctx, "1.2.3.4", 5)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, i, d.Count)
	}

	d, err := l.CheckAndIncrement(ctx, "1.2.3.4", 5)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 5, d.Count)

	var count int
	require.NoError(t, store.DB().QueryRowContext(ctx,
		`SELECT count FROM ip_rate_limit WHERE ip = ?`, "1.2.3.4").Scan(&count))
	assert.Equal(t, 5, count, "denied attempts are rolled back")
}

func TestSQLiteLimiter_PrunesOldWindows(t *testing.T) {
	store := testutil.NewSQLiteStore(t)
	ctx := context.Background()
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	_, err := ratelimit.New(store, ratelimit.WithClock(func() time.Time { return start })).
		CheckAndIncrement(ctx, "1.2.3.4", 5)
	require.NoError(t, err)

	later := start.Add(25 * time.Hour)
	_, err = ratelimit.New(store, ratelimit.WithClock(func() time.Time { return later })).
		CheckAndIncrement(ctx, "5.6.7.8", 5)
	require.NoError(t, err)

	var rows int
	require.NoError(t, store.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM ip_rate_limit`).Scan(&rows))
	assert.Equal(t, 1, rows)
}

func TestSQLiteLimiter_ConcurrentRequestsRespectLimit(t *testing.T) {
	store := testutil.NewSQLiteStore(t)
	now := time.Date(2024, 6, 1, 12, 0, 10, 0, time.UTC)
	l := ratelimit.New(store, ratelimit.WithClock(func() time.Time { return now }))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.CheckAndIncrement(context.Background(), "9.9.9.9", 7)
			if assert.NoError(t, err) && d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 7, allowed)
}
