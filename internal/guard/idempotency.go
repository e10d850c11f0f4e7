package guard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trailpay/platform/internal/domain"
)

// SeenStore remembers processed keys.
type SeenStore interface {
	// MarkSeen records key and reports whether it was already present.
	MarkSeen(ctx context.Context, key string, ttl time.Duration) (duplicate bool, err error)
	Forget(ctx context.Context, key string) error
}

// IdempotencyGuard deduplicates requests by idempotency key: webhook event ids,
// skip payment double-submits.
type IdempotencyGuard struct {
	store SeenStore
	ttl   time.Duration
}

// NewIdempotencyGuard creates a new in-memory idempotency guard.
func NewIdempotencyGuard() *IdempotencyGuard {
	return &IdempotencyGuard{store: newMemorySeenStore(), ttl: 24 * time.Hour}
}

// NewRedisIdempotencyGuard shares the seen set across API instances through Redis.
func NewRedisIdempotencyGuard(client *redis.Client, prefix string, ttl time.Duration) *IdempotencyGuard {
	return &IdempotencyGuard{store: &redisSeenStore{client: client, prefix: prefix}, ttl: ttl}
}

// Check returns whether the given key has already been processed. A store failure
// lets the request through; payment transitions are idempotent in the database as well.
func (ig *IdempotencyGuard) Check(ctx context.Context, key string) domain.GuardResult {
	if key == "" {
		return domain.GuardResult{Allowed: true}
	}

	dup, err := ig.store.MarkSeen(ctx, key, ig.ttl)
	if err != nil {
		return domain.GuardResult{Allowed: true, Reason: fmt.Sprintf("idempotency store unavailable: %v", err)}
	}
	if dup {
		return domain.GuardResult{
			Allowed: false,
			Reason:  "duplicate request: idempotency key already processed",
			Guard:   "idempotency",
		}
	}
	return domain.GuardResult{Allowed: true}
}

// Remove deletes a key from the seen set (for retry scenarios).
func (ig *IdempotencyGuard) Remove(ctx context.Context, key string) {
	_ = ig.store.Forget(ctx, key)
}

type memorySeenStore struct {
	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

func newMemorySeenStore() *memorySeenStore {
	return &memorySeenStore{seen: make(map[string]time.Time), now: time.Now}
}

func (s *memorySeenStore) MarkSeen(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if exp, ok := s.seen[key]; ok && (exp.IsZero() || now.Before(exp)) {
		return true, nil
	}
	var exp time.Time
	if ttl > 0 {
		exp = now.Add(ttl)
	}
	s.seen[key] = exp
	return false, nil
}

func (s *memorySeenStore) Forget(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seen, key)
	return nil
}

type redisSeenStore struct {
	client *redis.Client
	prefix string
}

func (s *redisSeenStore) MarkSeen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	set, err := s.client.SetNX(ctx, s.prefix+key, 1, ttl).Result()
	if err != nil {
		return false, err
	}
	// SetNX returns true when the key was written, i.e. not a duplicate.
	return !set, nil
}

func (s *redisSeenStore) Forget(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}
