package recalibrate

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/rand/mnemosyne-sub002/internal/models"
	"github.com/rand/mnemosyne-sub002/internal/namespace"
	"github.com/rand/mnemosyne-sub002/internal/store"
)

func TestTarget(t *testing.T) {
	cfg := DefaultConfig

	tests := []struct {
		name string
		s    Signals
		want int
	}{
		{"no signals", Signals{BaseImportance: 5}, 5},
		{"superseded drops by delta", Signals{BaseImportance: 10, Superseded: true}, 7},
		{"superseded clamps at floor", Signals{BaseImportance: 2, Superseded: true}, 1},
		{"link boost", Signals{BaseImportance: 5, LinkCount: 3, AccessCount: 1}, 6},
		{"access boost", Signals{BaseImportance: 5, AccessCount: 5}, 6},
		{"both boosts clamp at ceiling", Signals{BaseImportance: 10, LinkCount: 9, AccessCount: 9}, 10},
		{"stale decay", Signals{BaseImportance: 5, AgeDays: 120}, 4},
		{"accessed memories never stale", Signals{BaseImportance: 5, AccessCount: 1, AgeDays: 400}, 5},
		{"young unaccessed not stale", Signals{BaseImportance: 5, AgeDays: 30}, 5},
		{"superseded but well linked", Signals{BaseImportance: 8, Superseded: true, LinkCount: 4, AccessCount: 1}, 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Target(tt.s, cfg, cfg.LinkBoostMin, cfg.AccessBoostMin)
			if got != tt.want {
				t.Fatalf("Target(%+v) = %d, want %d", tt.s, got, tt.want)
			}
		})
	}
}

func setupRecalibrator(t *testing.T) (*Recalibrator, *store.MemoryStore, *store.LinkStore) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	ms := store.NewMemoryStore(db)
	ls := store.NewLinkStore(db)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(ms, ls, DefaultConfig, logger), ms, ls
}

func insertAged(t *testing.T, ms *store.MemoryStore, id string, base int, ageDays int, accesses int) {
	t.Helper()
	created := time.Now().Add(-time.Duration(ageDays) * 24 * time.Hour).Unix()
	m := &models.Memory{
		ID:             id,
		Namespace:      "project:myapp",
		Content:        "content " + id,
		Type:           models.MemoryTypeInsight,
		Importance:     base,
		BaseImportance: base,
		AccessCount:    accesses,
		CreatedAt:      created,
		UpdatedAt:      created,
	}
	if err := ms.Insert(m); err != nil {
		t.Fatalf("insert %s: %v", id, err)
	}
}

func TestRunAdjustsFromSignals(t *testing.T) {
	r, ms, _ := setupRecalibrator(t)
	scope := namespace.MustParse("project:myapp")

	insertAged(t, ms, "fresh", 5, 1, 0)
	insertAged(t, ms, "stale", 6, 120, 0)
	insertAged(t, ms, "replaced", 9, 10, 1)
	insertAged(t, ms, "successor", 9, 1, 1)
	if err := ms.Supersede("replaced", "successor"); err != nil {
		t.Fatalf("supersede: %v", err)
	}

	resp, err := r.Run(context.Background(), scope)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if resp.Examined != 4 {
		t.Fatalf("examined = %d, want 4 (superseded included)", resp.Examined)
	}
	if resp.Adjusted != 2 {
		t.Fatalf("adjusted = %d, want 2", resp.Adjusted)
	}

	checks := map[string]int{
		"fresh":     5, // nothing changed
		"stale":     5, // decayed by one
		"replaced":  6, // base 9 minus supersede delta
		"successor": 9,
	}
	for id, want := range checks {
		m, err := ms.GetByID(id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if m.Importance != want {
			t.Fatalf("%s importance = %d, want %d", id, m.Importance, want)
		}
		if m.BaseImportance == 0 {
			t.Fatalf("%s base importance lost", id)
		}
	}

	t.Run("idempotent", func(t *testing.T) {
		again, err := r.Run(context.Background(), scope)
		if err != nil {
			t.Fatalf("rerun: %v", err)
		}
		if again.Adjusted != 0 {
			t.Fatalf("second pass adjusted %d memories", again.Adjusted)
		}
		for id, want := range checks {
			m, _ := ms.GetByID(id)
			if m.Importance != want {
				t.Fatalf("rerun moved %s to %d, want %d", id, m.Importance, want)
			}
		}
	})
}

func TestRunBoostsHotMemories(t *testing.T) {
	r, ms, ls := setupRecalibrator(t)
	scope := namespace.MustParse("project:myapp")

	// Hub has far more links than the scope average; spokes keep the mean low.
	insertAged(t, ms, "hub", 5, 10, 1)
	for _, id := range []string{"s1", "s2", "s3", "s4", "s5", "s6"} {
		insertAged(t, ms, id, 5, 10, 1)
		if err := ls.Create(context.Background(), "hub", id, models.LinkRelatesTo, 1.0); err != nil {
			t.Fatalf("link: %v", err)
		}
	}

	resp, err := r.Run(context.Background(), scope)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if resp.Adjusted != 1 {
		t.Fatalf("adjusted = %d, want only the hub", resp.Adjusted)
	}
	hub, _ := ms.GetByID("hub")
	if hub.Importance != 6 {
		t.Fatalf("hub importance = %d, want 6", hub.Importance)
	}
}

func TestRunEmptyScope(t *testing.T) {
	r, _, _ := setupRecalibrator(t)
	resp, err := r.Run(context.Background(), namespace.MustParse("project:empty"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if resp.Examined != 0 || resp.Adjusted != 0 {
		t.Fatalf("empty scope reported work: %+v", resp)
	}
}
