// Package watchtest provides a manually driven clock for sampler tests.
package watchtest

import (
	"sync"
	"time"
)

type ticker struct {
	fn      func()
	stopped bool
}

// Clock is a deterministic watch.Clock. Time only moves on Advance and tickers only
// fire on Tick.
type Clock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*ticker
}

// NewClock returns a clock frozen at a fixed instant.
func NewClock() *Clock {
	return &Clock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Every(_ time.Duration, fn func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	tk := &ticker{fn: fn}
	c.tickers = append(c.tickers, tk)
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		tk.stopped = true
	}
}

// Advance moves time forward without firing tickers.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// AdvanceAndTick moves time forward and fires every live ticker once.
func (c *Clock) AdvanceAndTick(d time.Duration) {
	c.Advance(d)
	c.Tick()
}

// Tick fires every live ticker once.
func (c *Clock) Tick() {
	for _, tk := range c.snapshot(false) {
		tk.fn()
	}
}

// TickStopped fires tickers that were already stopped, as a timer racing its cancel would.
func (c *Clock) TickStopped() {
	for _, tk := range c.snapshot(true) {
		tk.fn()
	}
}

// Live returns the number of tickers not yet stopped.
func (c *Clock) Live() int {
	return len(c.snapshot(false))
}

func (c *Clock) snapshot(stopped bool) []*ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*ticker
	for _, tk := range c.tickers {
		if tk.stopped == stopped {
			out = append(out, tk)
		}
	}
	return out
}
