package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/RubachokBoss/proctoring-pipeline/internal/models"
)

func TestMemoryBiometricRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryBiometricRepository()

	if _, err := repo.Get(ctx, "ana"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	emb := []float64{0.1, 0.2, 0.3}
	if err := repo.Upsert(ctx, "ana", emb); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	emb[0] = 9 // caller mutation must not leak into the store

	rec, err := repo.Get(ctx, "ana")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Embedding[0] != 0.1 || rec.UserID != "ana" || rec.UpdatedAt.IsZero() {
		t.Fatalf("unexpected record %+v", rec)
	}

	if err := repo.Upsert(ctx, "ana", []float64{1, 1, 1}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	rec, _ = repo.Get(ctx, "ana")
	if rec.Embedding[0] != 1 {
		t.Fatalf("re-registration must overwrite, got %v", rec.Embedding)
	}
}

func TestMemoryBiometricRepository_ConcurrentUsers(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryBiometricRepository()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = repo.Upsert(ctx, fmt.Sprintf("user-%d", i), []float64{float64(i)})
		}(i)
	}
	wg.Wait()

	for i := 0; i < 50; i++ {
		rec, err := repo.Get(ctx, fmt.Sprintf("user-%d", i))
		if err != nil {
			t.Fatalf("user-%d lost: %v", i, err)
		}
		if rec.Embedding[0] != float64(i) {
			t.Fatalf("user-%d has %v", i, rec.Embedding)
		}
	}
}
