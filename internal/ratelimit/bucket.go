// Package ratelimit implements the token buckets guarding POST /solve_mps.
package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strings"
	"time"

	"github.com/osvaldoandrade/mpsflow/pkg/config"
)

// ScopeSolve keys the buckets of solve requests.
const ScopeSolve = "solve"

type Bucket struct {
	RequestsPerMinute int
	BurstSize         int
}

func BucketFromConfig(c config.RateLimitBucketConfig) Bucket {
	return Bucket{RequestsPerMinute: c.RequestsPerMinute, BurstSize: c.BurstSize}
}

func (b Bucket) Enabled() bool {
	return b.RequestsPerMinute > 0 && b.BurstSize > 0
}

func (b Bucket) ratePerSec() float64 { return float64(b.RequestsPerMinute) / 60.0 }

type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, scope string, subject string, bucket Bucket) (Decision, error)
}

// state is one subject's bucket. Both backends run it through take, so
// they agree on refill and retry arithmetic.
type state struct {
	tokens float64
	ts     time.Time
}

func (b Bucket) full(now time.Time) state {
	return state{tokens: float64(b.BurstSize), ts: now}
}

// take refills s up to now and spends one token if a whole one is left.
func (b Bucket) take(s state, now time.Time) (state, Decision) {
	rate := b.ratePerSec()
	if now.After(s.ts) {
		s.tokens = math.Min(float64(b.BurstSize), s.tokens+now.Sub(s.ts).Seconds()*rate)
	}
	s.ts = now

	if s.tokens >= 1 {
		s.tokens--
		return s, Decision{Allowed: true}
	}
	retry := int64(math.Ceil((1 - s.tokens) / rate))
	if retry < 1 {
		retry = 1
	}
	return s, Decision{RetryAfter: time.Duration(retry) * time.Second}
}

// idleTTL is how long an untouched bucket is kept: two empty-to-full refill
// cycles, clamped to [30s, 1h].
func (b Bucket) idleTTL() time.Duration {
	const minTTL, maxTTL = 30 * time.Second, time.Hour
	fill := float64(b.BurstSize) / b.ratePerSec()
	ttl := time.Duration(math.Ceil(fill*2))*time.Second + 5*time.Second
	return min(max(ttl, minTTL), maxTTL)
}

// subjectKey hashes the subject so bearer tokens never reach storage.
func subjectKey(scope, subject string) string {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		scope = ScopeSolve
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "unknown"
	}
	sum := sha256.Sum256([]byte(subject))
	return scope + ":" + hex.EncodeToString(sum[:])
}

// NewLimiter returns the backend selected by rateLimit.backend. rdb is only
// used by the redis backend.
func NewLimiter(cfg config.RateLimitConfig, rdb RedisClient, now func() time.Time) Limiter {
	if cfg.Backend == "redis" {
		return NewRedisLimiter(rdb, now)
	}
	return NewMemoryLimiter(now)
}
