// Package ratelimit provides per-connection flood control for inbound
// messages.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter decides whether the next message for key is allowed.
type Limiter interface {
	// Allow reports whether a message identified by key is allowed.
	Allow(ctx context.Context, key string) (bool, error)
	// Forget drops any state kept for key.
	Forget(ctx context.Context, key string) error
}

// Config holds rate limiting configuration.
type Config struct {
	// Limit is the number of messages allowed per window.
	Limit int
	// Window is the period the limit applies to.
	Window time.Duration
}

// DefaultConfig allows 20 messages per second.
func DefaultConfig() Config {
	return Config{Limit: 20, Window: time.Second}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.Limit <= 0 {
		c.Limit = d.Limit
	}
	if c.Window <= 0 {
		c.Window = d.Window
	}
	return c
}

// bucket is a token bucket refilled continuously at limit/window.
type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// Local implements a token bucket per key in process memory.
type Local struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	burst   float64
	perNano float64
	now     func() time.Time
}

// NewLocal creates an in-memory limiter.
func NewLocal(cfg Config) *Local {
	cfg = cfg.normalized()
	return &Local{
		buckets: make(map[string]*bucket),
		burst:   float64(cfg.Limit),
		perNano: float64(cfg.Limit) / float64(cfg.Window),
		now:     time.Now,
	}
}

// Allow takes one token from key's bucket.
func (l *Local) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.burst, lastRefill: now}
		l.buckets[key] = b
	}

	if elapsed := now.Sub(b.lastRefill); elapsed > 0 {
		b.tokens += float64(elapsed) * l.perNano
		if b.tokens > l.burst {
			b.tokens = l.burst
		}
		b.lastRefill = now
	}

	if b.tokens >= 1 {
		b.tokens--
		return true, nil
	}
	return false, nil
}

// Forget drops key's bucket.
func (l *Local) Forget(_ context.Context, key string) error {
	l.mu.Lock()
	delete(l.buckets, key)
	l.mu.Unlock()
	return nil
}

// Len returns the number of tracked keys.
func (l *Local) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
