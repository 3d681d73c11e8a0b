// Package ratelimit implements fixed-window request counters shared across
// server instances.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Scope names.
const (
	ScopeLogin            = "login"
	ScopeAPI              = "api"
	ScopeTransitionUpload = "ca-transition-upload"
)

const keyPrefix = "ratelimit"

// Rule is the limit for one scope: at most Limit hits per Window.
type Rule struct {
	Limit  int
	Window time.Duration
}

// DefaultRules returns the limits used when none are configured.
func DefaultRules() map[string]Rule {
	return map[string]Rule{
		ScopeLogin:            {Limit: 10, Window: time.Minute},
		ScopeAPI:              {Limit: 600, Window: time.Minute},
		ScopeTransitionUpload: {Limit: 5, Window: time.Hour},
	}
}

// Store counts hits under a key that expires after ttl. Incr returns the
// count including this hit.
type Store interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Result is the outcome of one Allow call.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is how long the caller should wait before the window resets.
func (r Result) RetryAfter(now time.Time) time.Duration {
	if d := r.ResetAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

type Limiter struct {
	store Store
	rules map[string]Rule
	now   func() time.Time
}

func NewLimiter(store Store, rules map[string]Rule) *Limiter {
	return &Limiter{store: store, rules: rules, now: time.Now}
}

// Allow records a hit for key in scope. Unknown scopes are not limited. The
// store error is returned with an allowed result so callers can fail open.
func (l *Limiter) Allow(ctx context.Context, scope, key string) (Result, error) {
	rule, ok := l.rules[scope]
	if !ok || rule.Limit <= 0 {
		return Result{Allowed: true}, nil
	}
	start := l.now().Truncate(rule.Window)
	res := Result{Allowed: true, Limit: rule.Limit, Remaining: rule.Limit, ResetAt: start.Add(rule.Window)}

	n, err := l.store.Incr(ctx, fmt.Sprintf("%s:%s:%s:%d", keyPrefix, scope, key, start.Unix()), rule.Window)
	if err != nil {
		return res, fmt.Errorf("rate limit %s: %w", scope, err)
	}
	res.Allowed = n <= int64(rule.Limit)
	res.Remaining = max(rule.Limit-int(n), 0)
	return res, nil
}

// =========== Redis Store ===========

// incrScript starts the expiry on the first hit only, so later hits do not
// push the window out.
var incrScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

type RedisStore struct {
	client redis.Scripter
}

func NewRedisStore(client redis.Scripter) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return incrScript.Run(ctx, s.client, []string{key}, ttl.Milliseconds()).Int64()
}

// =========== Memory Store ===========

// sweepThreshold is the counter count past which Incr drops expired entries.
const sweepThreshold = 1024

// MemoryStore keeps counters in process. It is for development and tests.
type MemoryStore struct {
	mu        sync.Mutex
	counters  map[string]*counter
	now       func() time.Time
	nextSweep int
}

type counter struct {
	n         int64
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: make(map[string]*counter), now: time.Now, nextSweep: sweepThreshold}
}

func (s *MemoryStore) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if len(s.counters) >= s.nextSweep {
		s.sweep(now)
	}
	c, ok := s.counters[key]
	if !ok || !now.Before(c.expiresAt) {
		c = &counter{expiresAt: now.Add(ttl)}
		s.counters[key] = c
	}
	c.n++
	return c.n, nil
}

// sweep drops expired counters. The next sweep waits until the map has
// doubled past what survived.
func (s *MemoryStore) sweep(now time.Time) {
	for k, c := range s.counters {
		if !now.Before(c.expiresAt) {
			delete(s.counters, k)
		}
	}
	s.nextSweep = max(2*len(s.counters), sweepThreshold)
}
