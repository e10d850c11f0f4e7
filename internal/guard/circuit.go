package guard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/trailpay/platform/internal/domain"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// CircuitBreaker stops opening checkout sessions against a payment gate after
// threshold consecutive failures. Once cooldown has passed a single probe is let
// through, and its outcome closes or reopens the circuit. A probe that never
// reports back loses its lease after another cooldown.
type CircuitBreaker struct {
	mu        sync.Mutex
	gate      string
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	state      CircuitState
	failures   int
	openedAt   time.Time
	probeSince time.Time
	probing    bool
}

// NewCircuitBreaker creates a closed breaker for the named gate.
func NewCircuitBreaker(gate string, threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold < 1 {
		threshold = 1
	}
	return &CircuitBreaker{gate: gate, threshold: threshold, cooldown: cooldown, now: time.Now}
}

// Allow reports whether a checkout may be attempted now. An allowed caller must
// follow up with Record.
func (cb *CircuitBreaker) Allow() domain.GuardResult {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	switch cb.state {
	case CircuitOpen:
		if wait := cb.cooldown - now.Sub(cb.openedAt); wait > 0 {
			return cb.blocked(fmt.Sprintf("%s checkout paused after %d failures, retry in %s", cb.gate, cb.failures, wait.Round(time.Second)))
		}
		cb.state = CircuitHalfOpen
		cb.probing = true
		cb.probeSince = now
		return domain.GuardResult{Allowed: true}
	case CircuitHalfOpen:
		if cb.probing && now.Sub(cb.probeSince) < cb.cooldown {
			return cb.blocked(fmt.Sprintf("%s checkout is being probed", cb.gate))
		}
		cb.probing = true
		cb.probeSince = now
		return domain.GuardResult{Allowed: true}
	default:
		return domain.GuardResult{Allowed: true}
	}
}

// Record feeds the result of an allowed attempt back into the breaker. Cancelled
// requests say nothing about the gate and are ignored.
func (cb *CircuitBreaker) Record(err error) {
	if errors.Is(err, context.Canceled) {
		cb.Release()
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.probing = false
	if err == nil {
		cb.state = CircuitClosed
		cb.failures = 0
		return
	}
	cb.failures++
	if cb.state == CircuitHalfOpen || cb.failures >= cb.threshold {
		cb.state = CircuitOpen
		cb.openedAt = cb.now()
	}
}

// Release gives up an allowed attempt that never reached the gate.
func (cb *CircuitBreaker) Release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.probing = false
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) blocked(reason string) domain.GuardResult {
	return domain.GuardResult{Allowed: false, Reason: reason, Guard: "circuit_breaker"}
}
