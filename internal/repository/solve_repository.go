package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/osvaldoandrade/mpsflow/pkg/domain"

	"github.com/go-redis/redis/v8"
)

var ErrSolveNotFound = errors.New("solve not found")

type SolveRepository interface {
	Save(ctx context.Context, rec domain.SolveRecord) error
	Get(ctx context.Context, id string) (*domain.SolveRecord, error)
}

type solveRedisRepo struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSolveRepository stores one key per solve. ttl <= 0 keeps records
// forever.
func NewSolveRepository(rdb *redis.Client, ttl time.Duration) SolveRepository {
	return &solveRedisRepo{rdb: rdb, ttl: ttl}
}

func (r *solveRedisRepo) keySolve(id string) string { return fmt.Sprintf("mpsflow:solve:%s", id) }

func (r *solveRedisRepo) Save(ctx context.Context, rec domain.SolveRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal solve: %w", err)
	}
	ttl := r.ttl
	if ttl < 0 {
		ttl = 0
	}
	if err := r.rdb.Set(ctx, r.keySolve(rec.ID), string(b), ttl).Err(); err != nil {
		return fmt.Errorf("redis SET solve: %w", err)
	}
	return nil
}

func (r *solveRedisRepo) Get(ctx context.Context, id string) (*domain.SolveRecord, error) {
	js, err := r.rdb.Get(ctx, r.keySolve(id)).Result()
	if err == redis.Nil || (err == nil && js == "") {
		return nil, ErrSolveNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET solve: %w", err)
	}
	var rec domain.SolveRecord
	if err := json.Unmarshal([]byte(js), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal solve: %w", err)
	}
	return &rec, nil
}

type solveMemoryRepo struct {
	mu      sync.RWMutex
	records map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

type memoryEntry struct {
	rec       domain.SolveRecord
	expiresAt time.Time
}

// NewMemorySolveRepository keeps records in process. Expired records are
// dropped lazily on read.
func NewMemorySolveRepository(ttl time.Duration, now func() time.Time) SolveRepository {
	if now == nil {
		now = time.Now
	}
	return &solveMemoryRepo{records: map[string]memoryEntry{}, ttl: ttl, now: now}
}

func (r *solveMemoryRepo) Save(ctx context.Context, rec domain.SolveRecord) error {
	e := memoryEntry{rec: rec}
	if r.ttl > 0 {
		e.expiresAt = r.now().Add(r.ttl)
	}
	r.mu.Lock()
	r.records[rec.ID] = e
	r.mu.Unlock()
	return nil
}

func (r *solveMemoryRepo) Get(ctx context.Context, id string) (*domain.SolveRecord, error) {
	r.mu.RLock()
	e, ok := r.records[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrSolveNotFound
	}
	if !e.expiresAt.IsZero() && !r.now().Before(e.expiresAt) {
		r.mu.Lock()
		delete(r.records, id)
		r.mu.Unlock()
		return nil, ErrSolveNotFound
	}
	rec := e.rec
	return &rec, nil
}
