package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rand/mnemosyne-sub002/internal/models"
	"github.com/rand/mnemosyne-sub002/internal/privacy"
)

func testEvaluation(id, sessionID, contextID string) *models.Evaluation {
	return &models.Evaluation{
		ID:          id,
		SessionID:   sessionID,
		ContextType: "memory",
		ContextID:   contextID,
		TaskHash:    string(privacy.HashTask("some task")),
		ProvidedAt:  time.Now().Unix(),
		Keywords:    []string{"auth", "session"},
	}
}

func TestEvaluationLifecycle(t *testing.T) {
	db := setupTestDB(t)
	es := NewEvaluationStore(db)

	ev := testEvaluation("ev-1", "sess-1", "mem-1")
	if err := es.Insert(ev); err != nil {
		t.Fatalf("insert: %v", err)
	}

	t.Run("latest open id", func(t *testing.T) {
		id, err := es.LatestOpenID("sess-1", "mem-1")
		if err != nil {
			t.Fatalf("latest open: %v", err)
		}
		if id != "ev-1" {
			t.Fatalf("expected ev-1, got %s", id)
		}
	})

	t.Run("mark accessed", func(t *testing.T) {
		tta := int64(4200)
		if err := es.MarkAccessed("ev-1", &tta); err != nil {
			t.Fatalf("mark accessed: %v", err)
		}
		got, err := es.Get("ev-1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.AccessedAt == nil {
			t.Fatal("accessed_at not set")
		}
		if got.TimeToAccessMs == nil || *got.TimeToAccessMs != 4200 {
			t.Fatalf("time_to_access_ms = %v, want 4200", got.TimeToAccessMs)
		}
	})

	t.Run("mark edited and committed", func(t *testing.T) {
		if err := es.MarkEdited("ev-1"); err != nil {
			t.Fatalf("mark edited: %v", err)
		}
		if err := es.MarkCommitted("ev-1"); err != nil {
			t.Fatalf("mark committed: %v", err)
		}
		got, _ := es.Get("ev-1")
		if !got.Edited || !got.Committed {
			t.Fatalf("flags not set: %+v", got)
		}
	})

	t.Run("complete", func(t *testing.T) {
		if err := es.Complete("ev-1", 0.8); err != nil {
			t.Fatalf("complete: %v", err)
		}
		got, _ := es.Get("ev-1")
		if !got.Completed || got.SuccessScore == nil || *got.SuccessScore != 0.8 {
			t.Fatalf("completion not persisted: %+v", got)
		}
	})

	t.Run("complete twice rejected", func(t *testing.T) {
		err := es.Complete("ev-1", 0.2)
		if !models.IsValidation(err) {
			t.Fatalf("expected validation error, got %v", err)
		}
		// The first score must survive.
		got, _ := es.Get("ev-1")
		if *got.SuccessScore != 0.8 {
			t.Fatalf("score overwritten to %v", *got.SuccessScore)
		}
	})

	t.Run("completed is no longer open", func(t *testing.T) {
		_, err := es.LatestOpenID("sess-1", "mem-1")
		if !errors.Is(err, models.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("signals on missing evaluation", func(t *testing.T) {
		if err := es.MarkEdited("ghost"); !errors.Is(err, models.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if err := es.Complete("ghost", 0.5); !errors.Is(err, models.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestOpenForSession(t *testing.T) {
	db := setupTestDB(t)
	es := NewEvaluationStore(db)

	older := testEvaluation("ev-old", "sess-2", "mem-a")
	older.ProvidedAt = time.Now().Unix() - 100
	newer := testEvaluation("ev-new", "sess-2", "mem-b")
	other := testEvaluation("ev-other", "sess-3", "mem-a")
	for _, ev := range []*models.Evaluation{older, newer, other} {
		if err := es.Insert(ev); err != nil {
			t.Fatalf("insert %s: %v", ev.ID, err)
		}
	}

	open, err := es.OpenForSession("sess-2")
	if err != nil {
		t.Fatalf("open for session: %v", err)
	}
	if len(open) != 2 {
		t.Fatalf("expected 2 open evaluations, got %d", len(open))
	}
	if open[0].ID != "ev-old" || open[1].ID != "ev-new" {
		t.Fatalf("expected oldest first, got %s, %s", open[0].ID, open[1].ID)
	}

	if err := es.Complete("ev-old", 1.0); err != nil {
		t.Fatalf("complete: %v", err)
	}
	open, _ = es.OpenForSession("sess-2")
	if len(open) != 1 || open[0].ID != "ev-new" {
		t.Fatalf("completed evaluation still listed: %+v", open)
	}
}

func TestDeleteStale(t *testing.T) {
	db := setupTestDB(t)
	es := NewEvaluationStore(db)

	cutoff := time.Now().Unix() - 3600

	stale := testEvaluation("stale", "s", "m1")
	stale.ProvidedAt = cutoff - 10
	fresh := testEvaluation("fresh", "s", "m2")
	doneButOld := testEvaluation("done", "s", "m3")
	doneButOld.ProvidedAt = cutoff - 10
	for _, ev := range []*models.Evaluation{stale, fresh, doneButOld} {
		if err := es.Insert(ev); err != nil {
			t.Fatalf("insert %s: %v", ev.ID, err)
		}
	}
	if err := es.Complete("done", 0.7); err != nil {
		t.Fatalf("complete: %v", err)
	}

	n, err := es.DeleteStale(cutoff)
	if err != nil {
		t.Fatalf("delete stale: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 deletion, got %d", n)
	}
	if _, err := es.Get("stale"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("stale record survived: %v", err)
	}
	// Completed records keep their history regardless of age.
	if _, err := es.Get("done"); err != nil {
		t.Fatalf("completed record deleted: %v", err)
	}
	if _, err := es.Get("fresh"); err != nil {
		t.Fatalf("fresh record deleted: %v", err)
	}
}

func TestStatsForContexts(t *testing.T) {
	db := setupTestDB(t)
	es := NewEvaluationStore(db)

	// mem-1: provided twice, accessed once. mem-2: provided once, edited.
	// mem-3: provided once, never touched.
	evs := []*models.Evaluation{
		testEvaluation("e1", "s1", "mem-1"),
		testEvaluation("e2", "s2", "mem-1"),
		testEvaluation("e3", "s1", "mem-2"),
		testEvaluation("e4", "s1", "mem-3"),
	}
	for _, ev := range evs {
		if err := es.Insert(ev); err != nil {
			t.Fatalf("insert %s: %v", ev.ID, err)
		}
	}
	if err := es.MarkAccessed("e1", nil); err != nil {
		t.Fatalf("mark accessed: %v", err)
	}
	if err := es.MarkEdited("e3"); err != nil {
		t.Fatalf("mark edited: %v", err)
	}

	stats, err := es.StatsForContexts(context.Background(), []string{"mem-1", "mem-2", "mem-3", "mem-ghost"})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}

	if s := stats["mem-1"]; s == nil || s.Provided != 2 || s.Useful != 1 || s.Accesses != 1 {
		t.Fatalf("mem-1 stats wrong: %+v", s)
	}
	if s := stats["mem-2"]; s == nil || s.Provided != 1 || s.Useful != 1 || s.Accesses != 0 {
		t.Fatalf("mem-2 stats wrong: %+v", s)
	}
	if s := stats["mem-3"]; s == nil || s.Provided != 1 || s.Useful != 0 {
		t.Fatalf("mem-3 stats wrong: %+v", s)
	}
	if _, ok := stats["mem-ghost"]; ok {
		t.Fatal("stats invented for context with no evaluations")
	}

	if _, err := es.StatsForContexts(context.Background(), nil); err != nil {
		t.Fatalf("empty input: %v", err)
	}
}
