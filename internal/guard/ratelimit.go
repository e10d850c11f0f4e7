package guard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/trailpay/platform/internal/domain"
)

// RateLimiter keeps one token bucket per key. A key may burst up to limit calls and
// then regains limit tokens per window. Player events arrive in bursts around seeks,
// so a bucket fits them better than a fixed window.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	every    rate.Limit
	burst    int
	window   time.Duration
	checks   int
	now      func() time.Time
}

// sweepEvery bounds how often idle limiters are dropped.
const sweepEvery = 1024

// NewRateLimiter allows limit calls per window per key. A limit of zero or less
// disables limiting.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		burst:    limit,
		window:   window,
		now:      time.Now,
	}
	if limit > 0 && window > 0 {
		rl.every = rate.Every(window / time.Duration(limit))
	}
	return rl
}

// Check takes one token for key.
func (rl *RateLimiter) Check(_ context.Context, key string) domain.GuardResult {
	if rl.burst <= 0 || rl.every == 0 {
		return domain.GuardResult{Allowed: true}
	}
	now := rl.now()
	lim := rl.limiter(key, now)

	r := lim.ReserveN(now, 1)
	if wait := r.DelayFrom(now); wait > 0 {
		r.CancelAt(now)
		return domain.GuardResult{
			Allowed: false,
			Reason:  fmt.Sprintf("rate limit exceeded: %d per %s, retry in %s", rl.burst, rl.window, wait.Round(time.Millisecond)),
			Guard:   "rate_limiter",
		}
	}
	return domain.GuardResult{Allowed: true}
}

func (rl *RateLimiter) limiter(key string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.checks++
	if rl.checks%sweepEvery == 0 {
		rl.sweepLocked(now)
	}
	lim, ok := rl.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rl.every, rl.burst)
		rl.limiters[key] = lim
	}
	return lim
}

// sweepLocked drops limiters that have refilled completely; they behave like new ones.
func (rl *RateLimiter) sweepLocked(now time.Time) {
	for key, lim := range rl.limiters {
		if lim.TokensAt(now) >= float64(rl.burst) {
			delete(rl.limiters, key)
		}
	}
}
