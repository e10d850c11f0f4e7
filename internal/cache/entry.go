// Package cache is a stale-while-revalidate cache with explicit freshness windows.
package cache

import "time"

// Entry is a cached value together with the windows it was fetched under.
//
//	[FetchedAt, +TTLFresh)          fresh: served as is
//	[+TTLFresh, +TTLFresh+TTLStale) stale: served, refreshed in the background
//	beyond                          expired: reloaded before serving
type Entry[T any] struct {
	Value     T
	FetchedAt time.Time
	TTLFresh  time.Duration
	TTLStale  time.Duration
}

// IsFresh reports whether the entry can be served without a refresh.
func (e Entry[T]) IsFresh(now time.Time) bool {
	return now.Before(e.FetchedAt.Add(e.TTLFresh))
}

// IsStale reports whether the entry is past its fresh window but still servable.
func (e Entry[T]) IsStale(now time.Time) bool {
	return !e.IsFresh(now) && now.Before(e.FetchedAt.Add(e.TTLFresh+e.TTLStale))
}

// IsExpired reports whether the entry must not be served.
func (e Entry[T]) IsExpired(now time.Time) bool {
	return !e.IsFresh(now) && !e.IsStale(now)
}
