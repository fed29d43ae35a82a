package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	s := miniredis.RunT(t)
	return s, redis.NewClient(&redis.Options{Addr: s.Addr()})
}

func TestRedisStore_WindowIsolation(t *testing.T) {
	_, rdb := setupMiniredis(t)
	now := time.Date(2024, 6, 1, 12, 0, 10, 0, time.UTC)
	l := New(NewRedisStore(rdb), WithClock(fixedClock(now)))
	ctx := context.Background()

	d, err := l.CheckAndIncrement(ctx, "1.2.3.4", 5)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Count)

	d, err = l.CheckAndIncrement(ctx, "1.2.3.4", 5)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, d.Count)
}

func TestRedisStore_OverLimitDoesNotCount(t *testing.T) {
	_, rdb := setupMiniredis(t)
	now := time.Date(2024, 6, 1, 12, 0, 10, 0, time.UTC)
	store := NewRedisStore(rdb)
	l := New(store, WithClock(fixedClock(now)))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d, err := l.CheckAndIncrement(ctx, "1.2.3.4", 5)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d should be allowed", i+1)
	}

	for i := 0; i < 3; i++ {
		d, err := l.CheckAndIncrement(ctx, "1.2.3.4", 5)
		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.Equal(t, 5, d.Count)
	}

	count, err := store.WindowCount(ctx, "1.2.3.4", now)
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}

func TestRedisStore_NewWindowStartsFresh(t *testing.T) {
	_, rdb := setupMiniredis(t)
	store := NewRedisStore(rdb)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 59, 0, time.UTC)

	d, err := New(store, WithClock(fixedClock(now))).CheckAndIncrement(ctx, "1.2.3.4", 1)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = New(store, WithClock(fixedClock(now.Add(2*time.Second)))).CheckAndIncrement(ctx, "1.2.3.4", 1)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Count)
}

func TestRedisStore_DifferentIPs(t *testing.T) {
	_, rdb := setupMiniredis(t)
	l := New(NewRedisStore(rdb))
	ctx := context.Background()

	d, err := l.CheckAndIncrement(ctx, "10.0.0.1", 1)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = l.CheckAndIncrement(ctx, "10.0.0.2", 1)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestRedisStore_KeysExpire(t *testing.T) {
	mr, rdb := setupMiniredis(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store := NewRedisStore(rdb)
	ctx := context.Background()

	_, err := New(store, WithClock(fixedClock(now))).CheckAndIncrement(ctx, "1.2.3.4", 5)
	require.NoError(t, err)

	key := windowKey("1.2.3.4", now)
	assert.True(t, mr.Exists(key))
	assert.Equal(t, redisKeyTTL, mr.TTL(key))

	mr.FastForward(redisKeyTTL + time.Second)
	assert.False(t, mr.Exists(key))
}

func TestRedisStore_UnavailableFailsClosed(t *testing.T) {
	mr, rdb := setupMiniredis(t)
	l := New(NewRedisStore(rdb))
	mr.Close()

	d, err := l.CheckAndIncrement(context.Background(), "1.2.3.4", 5)
	require.ErrorIs(t, err, ErrUnavailable)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Count)
}

func TestRedisStore_ConcurrentDeniedCountStaysAtLimit(t *testing.T) {
	_, rdb := setupMiniredis(t)
	now := time.Date(2024, 6, 1, 12, 0, 10, 0, time.UTC)
	store := NewRedisStore(rdb)
	l := New(store, WithClock(fixedClock(now)))
	ctx := context.Background()

	const workers = 100
	decisions := make([]Decision, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			decisions[i], errs[i] = l.CheckAndIncrement(ctx, "1.1.1.1", 5)
		}(i)
	}
	wg.Wait()

	allowed := 0
	for i, d := range decisions {
		require.NoError(t, errs[i])
		if d.Allowed {
			allowed++
			continue
		}
		assert.Equal(t, 5, d.Count)
	}
	assert.Equal(t, 5, allowed)

	count, err := store.WindowCount(ctx, "1.1.1.1", now)
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}
