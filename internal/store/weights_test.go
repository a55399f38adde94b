package store

import (
	"errors"
	"testing"

	"github.com/rand/mnemosyne-sub002/internal/models"
)

func TestWeightStoreGetEmpty(t *testing.T) {
	db := setupTestDB(t)
	ws := NewWeightStore(db)

	sw, err := ws.Get("session:fresh")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sw.Version != 0 || sw.SampleCount != 0 {
		t.Fatalf("fresh scope should be version 0, got %+v", sw)
	}
	if len(sw.Weights) != 0 {
		t.Fatalf("fresh scope should have no weights, got %v", sw.Weights)
	}
}

func TestWeightStoreCompareAndSwap(t *testing.T) {
	db := setupTestDB(t)
	ws := NewWeightStore(db)

	weights := map[string]float64{
		"keyword_overlap":  0.3,
		"recency":          0.3,
		"access_frequency": 0.2,
		"success_rate":     0.2,
	}

	t.Run("create on version zero", func(t *testing.T) {
		if err := ws.CompareAndSwap("global", 0, weights); err != nil {
			t.Fatalf("initial cas: %v", err)
		}
		sw, err := ws.Get("global")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if sw.Version != 1 || sw.SampleCount != 1 {
			t.Fatalf("expected version 1 sample 1, got %+v", sw)
		}
		if sw.Weights["recency"] != 0.3 {
			t.Fatalf("weights not persisted: %v", sw.Weights)
		}
	})

	t.Run("update with current version", func(t *testing.T) {
		next := map[string]float64{"recency": 0.5}
		if err := ws.CompareAndSwap("global", 1, next); err != nil {
			t.Fatalf("cas: %v", err)
		}
		sw, _ := ws.Get("global")
		if sw.Version != 2 || sw.SampleCount != 2 {
			t.Fatalf("expected version 2 sample 2, got %+v", sw)
		}
		if sw.Weights["recency"] != 0.5 {
			t.Fatalf("weight not updated: %v", sw.Weights)
		}
		// Untouched features keep their committed value.
		if sw.Weights["keyword_overlap"] != 0.3 {
			t.Fatalf("unrelated weight changed: %v", sw.Weights)
		}
	})

	t.Run("stale version conflicts", func(t *testing.T) {
		err := ws.CompareAndSwap("global", 1, weights)
		if !errors.Is(err, models.ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
	})

	t.Run("concurrent create conflicts", func(t *testing.T) {
		err := ws.CompareAndSwap("global", 0, weights)
		if !errors.Is(err, models.ErrConflict) {
			t.Fatalf("expected ErrConflict for duplicate create, got %v", err)
		}
	})

	t.Run("storage failure is not a conflict", func(t *testing.T) {
		broken := setupTestDB(t)
		bws := NewWeightStore(broken)
		broken.Close()
		err := bws.CompareAndSwap("session:s", 0, weights)
		if err == nil {
			t.Fatal("expected error on closed database")
		}
		if errors.Is(err, models.ErrConflict) {
			t.Fatalf("storage error reported as retryable conflict: %v", err)
		}
	})
}

func TestWeightStoreScopesIndependent(t *testing.T) {
	db := setupTestDB(t)
	ws := NewWeightStore(db)

	if err := ws.CompareAndSwap("session:a", 0, map[string]float64{"recency": 0.9}); err != nil {
		t.Fatalf("cas a: %v", err)
	}
	if err := ws.CompareAndSwap("session:b", 0, map[string]float64{"recency": 0.1}); err != nil {
		t.Fatalf("cas b: %v", err)
	}

	a, _ := ws.Get("session:a")
	b, _ := ws.Get("session:b")
	if a.Weights["recency"] != 0.9 || b.Weights["recency"] != 0.1 {
		t.Fatalf("scopes bled into each other: a=%v b=%v", a.Weights, b.Weights)
	}

	n, err := ws.ScopeCount()
	if err != nil {
		t.Fatalf("scope count: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 scopes, got %d", n)
	}

	t.Run("delete scope", func(t *testing.T) {
		if err := ws.DeleteScope("session:a"); err != nil {
			t.Fatalf("delete: %v", err)
		}
		sw, err := ws.Get("session:a")
		if err != nil {
			t.Fatalf("get after delete: %v", err)
		}
		if sw.Version != 0 || len(sw.Weights) != 0 {
			t.Fatalf("scope survived deletion: %+v", sw)
		}
	})
}
