package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func TestEntry_Windows(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e := Entry[int]{Value: 1, FetchedAt: t0, TTLFresh: time.Minute, TTLStale: 5 * time.Minute}

	assert.True(t, e.IsFresh(t0))
	assert.True(t, e.IsFresh(t0.Add(59*time.Second)))
	assert.False(t, e.IsStale(t0.Add(59*time.Second)))

	assert.False(t, e.IsFresh(t0.Add(time.Minute)))
	assert.True(t, e.IsStale(t0.Add(time.Minute)))
	assert.True(t, e.IsStale(t0.Add(5*time.Minute)))
	assert.False(t, e.IsExpired(t0.Add(5*time.Minute)))

	assert.True(t, e.IsExpired(t0.Add(6*time.Minute)))
	assert.False(t, e.IsStale(t0.Add(6*time.Minute)))
}

func newTestCache(t *testing.T, load Loader[string]) (*Cache[string], *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return New(load, time.Minute, 5*time.Minute, WithClock[string](clock.Now)), clock
}

func TestCache_FreshHitDoesNotReload(t *testing.T) {
	var calls atomic.Int32
	c, clock := newTestCache(t, func(_ context.Context, key string) (string, error) {
		calls.Add(1)
		return "v-" + key, nil
	})
	ctx := context.Background()

	v, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "v-a", v)

	clock.Advance(30 * time.Second)
	_, err = c.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCache_StaleServesAndRefreshes(t *testing.T) {
	var calls atomic.Int32
	c, clock := newTestCache(t, func(_ context.Context, _ string) (string, error) {
		n := calls.Add(1)
		if n == 1 {
			return "old", nil
		}
		return "new", nil
	})
	ctx := context.Background()

	_, err := c.Get(ctx, "k")
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	v, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "old", v, "stale value is served immediately")

	c.Wait()
	e, ok := c.Peek("k")
	require.True(t, ok)
	assert.Equal(t, "new", e.Value)
	assert.True(t, e.IsFresh(clock.Now()))
	assert.Equal(t, int32(2), calls.Load())
}

func TestCache_ExpiredReloadsSynchronously(t *testing.T) {
	var calls atomic.Int32
	c, clock := newTestCache(t, func(_ context.Context, _ string) (string, error) {
		calls.Add(1)
		return "v", nil
	})
	ctx := context.Background()

	_, _ = c.Get(ctx, "k")
	clock.Advance(10 * time.Minute)
	_, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCache_LoadError(t *testing.T) {
	boom := errors.New("boom")
	c, _ := newTestCache(t, func(_ context.Context, _ string) (string, error) {
		return "", boom
	})

	_, err := c.Get(context.Background(), "k")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	_, ok := c.Peek("k")
	assert.False(t, ok)
}

func TestCache_FailedRefreshKeepsStaleValue(t *testing.T) {
	var calls atomic.Int32
	c, clock := newTestCache(t, func(_ context.Context, _ string) (string, error) {
		if calls.Add(1) > 1 {
			return "", errors.New("unavailable")
		}
		return "v1", nil
	})
	ctx := context.Background()

	_, _ = c.Get(ctx, "k")
	clock.Advance(2 * time.Minute)
	v, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v1", v)
	c.Wait()

	e, ok := c.Peek("k")
	require.True(t, ok)
	assert.Equal(t, "v1", e.Value)
}

func TestCache_Subscribers(t *testing.T) {
	c, _ := newTestCache(t, func(_ context.Context, key string) (string, error) {
		return key + "!", nil
	})

	var got []string
	unsubscribe := c.Subscribe(func(key, value string) {
		got = append(got, key+"="+value)
	})

	_, _ = c.Get(context.Background(), "a")
	c.Set("b", "manual")
	unsubscribe()
	c.Set("c", "ignored")

	assert.Equal(t, []string{"a=a!", "b=manual"}, got)
}

func TestCache_Invalidate(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestCache(t, func(_ context.Context, _ string) (string, error) {
		calls.Add(1)
		return "v", nil
	})
	ctx := context.Background()

	_, _ = c.Get(ctx, "k")
	c.Invalidate("k")
	_, _ = c.Get(ctx, "k")
	assert.Equal(t, int32(2), calls.Load())
}

func TestCache_ConcurrentMissesShareOneLoad(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	c, _ := newTestCache(t, func(_ context.Context, _ string) (string, error) {
		calls.Add(1)
		<-release
		return "trail", nil
	})

	const callers = 8
	results := make(chan string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Get(context.Background(), "k")
			if err == nil {
				results <- v
			}
		}()
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	n := 0
	for v := range results {
		assert.Equal(t, "trail", v)
		n++
	}
	assert.Equal(t, callers, n)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCache_CancelledCallerDoesNotAbortLoad(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	c, _ := newTestCache(t, func(ctx context.Context, _ string) (string, error) {
		close(started)
		<-release
		return "v", ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := c.Get(ctx, "k")
		errs <- err
	}()

	<-started
	cancel()
	assert.ErrorIs(t, <-errs, context.Canceled)

	close(release)
	require.Eventually(t, func() bool {
		_, ok := c.Peek("k")
		return ok
	}, time.Second, time.Millisecond)
}
