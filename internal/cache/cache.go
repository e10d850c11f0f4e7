package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Loader fetches the authoritative value for key.
type Loader[T any] func(ctx context.Context, key string) (T, error)

// Subscriber is notified after every successful load or explicit Set.
type Subscriber[T any] func(key string, value T)

// Option configures a Cache.
type Option[T any] func(*Cache[T])

// WithClock overrides the time source.
func WithClock[T any](now func() time.Time) Option[T] {
	return func(c *Cache[T]) { c.now = now }
}

// WithLogger sets the logger used for background refresh failures.
func WithLogger[T any](l *slog.Logger) Option[T] {
	return func(c *Cache[T]) { c.logger = l }
}

// WithRefreshTimeout bounds background refreshes.
func WithRefreshTimeout[T any](d time.Duration) Option[T] {
	return func(c *Cache[T]) { c.refreshTimeout = d }
}

// Cache serves values from memory, refreshing stale entries in the background.
// At most one load per key is in flight, whether it serves a miss or a refresh.
type Cache[T any] struct {
	mu             sync.Mutex
	flight         singleflight.Group
	entries        map[string]Entry[T]
	refreshing     map[string]bool
	subs           map[int]Subscriber[T]
	nextSub        int
	load           Loader[T]
	fresh, stale   time.Duration
	now            func() time.Time
	logger         *slog.Logger
	refreshTimeout time.Duration
	wg             sync.WaitGroup
}

// New creates a cache over load with the given windows.
func New[T any](load Loader[T], fresh, stale time.Duration, opts ...Option[T]) *Cache[T] {
	c := &Cache[T]{
		entries:        make(map[string]Entry[T]),
		refreshing:     make(map[string]bool),
		subs:           make(map[int]Subscriber[T]),
		load:           load,
		fresh:          fresh,
		stale:          stale,
		now:            time.Now,
		logger:         slog.Default(),
		refreshTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the value for key. Fresh entries are returned directly; stale entries
// are returned and refreshed asynchronously; missing or expired entries are loaded
// synchronously.
func (c *Cache[T]) Get(ctx context.Context, key string) (T, error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	now := c.now()
	switch {
	case ok && e.IsFresh(now):
		c.mu.Unlock()
		return e.Value, nil
	case ok && e.IsStale(now):
		if !c.refreshing[key] {
			c.refreshing[key] = true
			c.wg.Add(1)
			go c.refresh(context.WithoutCancel(ctx), key)
		}
		c.mu.Unlock()
		return e.Value, nil
	}
	c.mu.Unlock()

	ch := c.flight.DoChan(key, c.fetch(ctx, key))
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			var zero T
			return zero, fmt.Errorf("cache load %s: %w", key, res.Err)
		}
		return res.Val.(T), nil
	}
}

// fetch loads key detached from the caller's cancellation, since other callers may
// be waiting on the same load. A value stored while the call was queued is reused.
func (c *Cache[T]) fetch(ctx context.Context, key string) func() (any, error) {
	return func() (any, error) {
		c.mu.Lock()
		e, ok := c.entries[key]
		fresh := ok && e.IsFresh(c.now())
		c.mu.Unlock()
		if fresh {
			return e.Value, nil
		}

		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.refreshTimeout)
		defer cancel()
		v, err := c.load(loadCtx, key)
		if err != nil {
			return nil, err
		}
		c.Set(key, v)
		return v, nil
	}
}

// Peek returns the entry for key without loading or refreshing.
func (c *Cache[T]) Peek(key string) (Entry[T], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return e, ok
}

// Set stores v as a freshly fetched value and notifies subscribers.
func (c *Cache[T]) Set(key string, v T) {
	c.mu.Lock()
	c.entries[key] = Entry[T]{Value: v, FetchedAt: c.now(), TTLFresh: c.fresh, TTLStale: c.stale}
	subs := make([]Subscriber[T], 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	for _, s := range subs {
		s(key, v)
	}
}

// Invalidate drops key so the next Get reloads it.
func (c *Cache[T]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Subscribe registers fn and returns a function that removes it.
func (c *Cache[T]) Subscribe(fn Subscriber[T]) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}
}

// Wait blocks until in-flight background refreshes finish.
func (c *Cache[T]) Wait() {
	c.wg.Wait()
}

func (c *Cache[T]) refresh(ctx context.Context, key string) {
	defer c.wg.Done()
	defer func() {
		c.mu.Lock()
		delete(c.refreshing, key)
		c.mu.Unlock()
	}()

	if _, err, _ := c.flight.Do(key, c.fetch(ctx, key)); err != nil {
		c.logger.Warn("cache refresh failed", "key", key, "error", err)
	}
}
