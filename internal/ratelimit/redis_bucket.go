package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisClient is the subset of *redis.Client the limiter needs.
type RedisClient interface {
	Watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error
}

const redisKeyPrefix = "mpsflow:rl:"

// watchRetries bounds optimistic retries when replicas race on one bucket.
const watchRetries = 5

// RedisLimiter shares buckets across replicas. Each bucket is a hash
// {tokens, ts(ms)} updated under WATCH, so concurrent solves against one
// subject never spend the same token twice.
type RedisLimiter struct {
	rdb RedisClient
	now func() time.Time
}

func NewRedisLimiter(rdb RedisClient, now func() time.Time) *RedisLimiter {
	if now == nil {
		now = time.Now
	}
	return &RedisLimiter{rdb: rdb, now: now}
}

func (l *RedisLimiter) Allow(ctx context.Context, scope string, subject string, bucket Bucket) (Decision, error) {
	if l == nil || l.rdb == nil || !bucket.Enabled() {
		return Decision{Allowed: true}, nil
	}
	key := redisKeyPrefix + subjectKey(scope, subject)

	var dec Decision
	txf := func(tx *redis.Tx) error {
		now := l.now().UTC()
		s, err := loadState(ctx, tx, key, bucket, now)
		if err != nil {
			return err
		}
		s, dec = bucket.take(s, now)
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, key,
				"tokens", strconv.FormatFloat(s.tokens, 'f', -1, 64),
				"ts", strconv.FormatInt(s.ts.UnixMilli(), 10))
			p.PExpire(ctx, key, bucket.idleTTL())
			return nil
		})
		return err
	}

	for i := 0; i < watchRetries; i++ {
		err := l.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return Decision{}, fmt.Errorf("redis ratelimit: %w", err)
		}
		return dec, nil
	}
	return Decision{}, fmt.Errorf("redis ratelimit: bucket %s contended", key)
}

func loadState(ctx context.Context, tx *redis.Tx, key string, bucket Bucket, now time.Time) (state, error) {
	vals, err := tx.HMGet(ctx, key, "tokens", "ts").Result()
	if err != nil {
		return state{}, err
	}
	tokS, ok1 := vals[0].(string)
	tsS, ok2 := vals[1].(string)
	if !ok1 || !ok2 {
		return bucket.full(now), nil
	}
	tokens, err := strconv.ParseFloat(tokS, 64)
	if err != nil {
		return bucket.full(now), nil
	}
	ms, err := strconv.ParseInt(tsS, 10, 64)
	if err != nil {
		return bucket.full(now), nil
	}
	return state{tokens: tokens, ts: time.UnixMilli(ms).UTC()}, nil
}
