package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter keeps buckets in process. State is not shared between
// replicas; idle buckets are dropped on the next sweep.
type MemoryLimiter struct {
	mu        sync.Mutex
	buckets   map[string]state
	now       func() time.Time
	lastSweep time.Time
}

func NewMemoryLimiter(now func() time.Time) *MemoryLimiter {
	if now == nil {
		now = time.Now
	}
	return &MemoryLimiter{buckets: map[string]state{}, now: now}
}

func (l *MemoryLimiter) Allow(ctx context.Context, scope string, subject string, bucket Bucket) (Decision, error) {
	if l == nil || !bucket.Enabled() {
		return Decision{Allowed: true}, nil
	}
	key := subjectKey(scope, subject)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweep(now, bucket.idleTTL())

	s, ok := l.buckets[key]
	if !ok {
		s = bucket.full(now)
	}
	s, dec := bucket.take(s, now)
	l.buckets[key] = s
	return dec, nil
}

func (l *MemoryLimiter) sweep(now time.Time, ttl time.Duration) {
	if now.Sub(l.lastSweep) < ttl {
		return
	}
	for k, s := range l.buckets {
		if now.Sub(s.ts) > ttl {
			delete(l.buckets, k)
		}
	}
	l.lastSweep = now
}

func (l *MemoryLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
