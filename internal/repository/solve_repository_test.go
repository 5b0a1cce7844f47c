package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/osvaldoandrade/mpsflow/pkg/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func setupSolveRepo(t *testing.T, ttl time.Duration) (context.Context, *miniredis.Miniredis, SolveRepository) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return context.Background(), mr, NewSolveRepository(rdb, ttl)
}

func sampleRecord(id string) domain.SolveRecord {
	obj := 42.5
	return domain.SolveRecord{
		ID:             id,
		FileName:       "afiro.mps",
		BatchSize:      2,
		TimeLimit:      1,
		Status:         "Optimal",
		ObjectiveValue: &obj,
		SolveSeconds:   0.25,
		CreatedAt:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestSolveRepository_SaveGet(t *testing.T) {
	ctx, _, repo := setupSolveRepo(t, time.Hour)

	if err := repo.Save(ctx, sampleRecord("s1")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := repo.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.FileName != "afiro.mps" || got.ObjectiveValue == nil || *got.ObjectiveValue != 42.5 {
		t.Fatalf("unexpected record: %+v", got)
	}
	if !got.CreatedAt.Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Fatalf("createdAt = %v", got.CreatedAt)
	}
}

func TestSolveRepository_NotFoundAndTTL(t *testing.T) {
	ctx, mr, repo := setupSolveRepo(t, time.Minute)

	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, ErrSolveNotFound) {
		t.Fatalf("expected ErrSolveNotFound, got %v", err)
	}
	if err := repo.Save(ctx, sampleRecord("s2")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if ttl := mr.TTL("mpsflow:solve:s2"); ttl != time.Minute {
		t.Fatalf("ttl = %v", ttl)
	}
	mr.FastForward(2 * time.Minute)
	if _, err := repo.Get(ctx, "s2"); !errors.Is(err, ErrSolveNotFound) {
		t.Fatalf("expected expiry, got %v", err)
	}
}

func TestMemorySolveRepository(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := NewMemorySolveRepository(time.Minute, func() time.Time { return now })
	ctx := context.Background()

	if err := repo.Save(ctx, sampleRecord("m1")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if got, err := repo.Get(ctx, "m1"); err != nil || got.ID != "m1" {
		t.Fatalf("Get = %+v, %v", got, err)
	}
	now = now.Add(time.Minute)
	if _, err := repo.Get(ctx, "m1"); !errors.Is(err, ErrSolveNotFound) {
		t.Fatalf("expected expiry, got %v", err)
	}
}
