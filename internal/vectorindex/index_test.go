package vectorindex

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/rand/mnemosyne-sub002/internal/models"
	"github.com/rand/mnemosyne-sub002/internal/namespace"
	"github.com/rand/mnemosyne-sub002/internal/vectormath"
)

func setupIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new index: %v", err)
	}
	return idx
}

func embeddedMemory(id, ns string, vec []float32) *models.Memory {
	now := time.Now().Unix()
	return &models.Memory{
		ID:             id,
		Namespace:      ns,
		Content:        "content " + id,
		Type:           models.MemoryTypeInsight,
		Importance:     5,
		BaseImportance: 5,
		Embedding:      vectormath.Float32ToBytes(vec),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestIndexQueryScoping(t *testing.T) {
	idx := setupIndex(t)
	ctx := context.Background()

	seed := []*models.Memory{
		embeddedMemory("in-scope", "project:myapp", []float32{1, 0, 0}),
		embeddedMemory("child", "project:myapp:frontend", []float32{0.9, 0.1, 0}),
		embeddedMemory("sibling", "project:myapp2", []float32{1, 0, 0}),
		embeddedMemory("global", "global", []float32{1, 0, 0}),
	}
	for _, m := range seed {
		if err := idx.Add(ctx, m); err != nil {
			t.Fatalf("add %s: %v", m.ID, err)
		}
	}
	if idx.Count() != 4 {
		t.Fatalf("count = %d, want 4", idx.Count())
	}

	matches, err := idx.Query(ctx, []float32{1, 0, 0}, namespace.MustParse("project:myapp"), 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 in-scope matches, got %d: %+v", len(matches), matches)
	}
	for _, m := range matches {
		if m.ID == "sibling" || m.ID == "global" {
			t.Fatalf("out-of-scope memory %s matched", m.ID)
		}
	}
	if matches[0].ID != "in-scope" {
		t.Fatalf("best match = %s, want in-scope", matches[0].ID)
	}
	if matches[0].Similarity < matches[1].Similarity {
		t.Fatal("matches not ordered best first")
	}
}

func TestIndexRemove(t *testing.T) {
	idx := setupIndex(t)
	ctx := context.Background()

	if err := idx.Add(ctx, embeddedMemory("m1", "global", []float32{1, 0, 0})); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := idx.Remove(ctx, "m1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if idx.Count() != 0 {
		t.Fatalf("count = %d after remove", idx.Count())
	}

	matches, err := idx.Query(ctx, []float32{1, 0, 0}, namespace.MustParse("global"), 5)
	if err != nil {
		t.Fatalf("query empty index: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("removed document still matches: %+v", matches)
	}
}

func TestIndexRebuild(t *testing.T) {
	idx := setupIndex(t)
	ctx := context.Background()

	if err := idx.Add(ctx, embeddedMemory("leftover", "global", []float32{1, 0, 0})); err != nil {
		t.Fatalf("add: %v", err)
	}

	superseded := embeddedMemory("dead", "global", []float32{1, 0, 0})
	by := "live"
	superseded.SupersededBy = &by
	noEmbedding := embeddedMemory("bare", "global", nil)
	noEmbedding.Embedding = nil

	err := idx.Rebuild(ctx, []*models.Memory{
		embeddedMemory("live", "global", []float32{0, 1, 0}),
		superseded,
		noEmbedding,
	})
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if idx.Count() != 1 {
		t.Fatalf("count = %d, want only the live embedded memory", idx.Count())
	}

	matches, err := idx.Query(ctx, []float32{0, 1, 0}, namespace.MustParse("global"), 5)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != "live" {
		t.Fatalf("rebuild kept wrong documents: %+v", matches)
	}
}
