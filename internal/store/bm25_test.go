package store

import (
	"context"
	"testing"

	"github.com/rand/mnemosyne-sub002/internal/models"
)

func TestBM25Search(t *testing.T) {
	db := setupTestDB(t)
	ms := NewMemoryStore(db)
	bs := NewBM25Store(db)

	seed := []struct {
		id, ns, content string
	}{
		{"m1", "project:myapp", "postgres connection pooling exhausts under load"},
		{"m2", "project:myapp:backend", "the index on users.email speeds up login queries"},
		{"m3", "project:other", "postgres replication lag alerting thresholds"},
		{"m4", "global", "prefer table driven tests for parsers"},
	}
	for _, s := range seed {
		m := testMemory(s.id, s.ns)
		m.Content = s.content
		if err := ms.Insert(m); err != nil {
			t.Fatalf("insert %s: %v", s.id, err)
		}
	}

	t.Run("namespace scoping", func(t *testing.T) {
		got, err := bs.Search(context.Background(), "postgres", "project:myapp", 10)
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if len(got) != 1 || got[0].ID != "m1" {
			t.Fatalf("expected only m1 in project:myapp, got %+v", got)
		}
	})

	t.Run("child namespaces included", func(t *testing.T) {
		got, err := bs.Search(context.Background(), "index login", "project:myapp", 10)
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if len(got) != 1 || got[0].ID != "m2" {
			t.Fatalf("expected m2 from child namespace, got %+v", got)
		}
	})

	t.Run("rank is positive", func(t *testing.T) {
		got, err := bs.Search(context.Background(), "postgres", "project:other", 10)
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("expected 1 result, got %d", len(got))
		}
		if got[0].Rank <= 0 {
			t.Fatalf("negated bm25 rank should be positive, got %f", got[0].Rank)
		}
	})

	t.Run("superseded excluded", func(t *testing.T) {
		replacement := testMemory("m5", "global")
		replacement.Content = "prefer table driven tests and subtests for parsers"
		if err := ms.Insert(replacement); err != nil {
			t.Fatalf("insert: %v", err)
		}
		if err := ms.Supersede("m4", "m5"); err != nil {
			t.Fatalf("supersede: %v", err)
		}
		got, err := bs.Search(context.Background(), "parsers", "global", 10)
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		for _, r := range got {
			if r.ID == "m4" {
				t.Fatal("superseded memory matched")
			}
		}
	})

	t.Run("scope metacharacters match literally", func(t *testing.T) {
		near := testMemory("m6", "project:myxapp:docs")
		near.Content = "caching strategy for session tokens"
		if err := ms.Insert(near); err != nil {
			t.Fatalf("insert: %v", err)
		}
		got, err := bs.Search(context.Background(), "caching strategy", "project:my_app", 10)
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if len(got) != 0 {
			t.Fatalf("scope project:my_app matched foreign namespace: %+v", got)
		}
	})

	t.Run("query syntax cannot be injected", func(t *testing.T) {
		// Raw FTS5 would reject or misread these; quoted terms must not error.
		for _, q := range []string{`postgres OR`, `NEAR(a b)`, `content:"x"`, `"`} {
			if _, err := bs.Search(context.Background(), q, "global", 10); err != nil {
				t.Fatalf("query %q errored: %v", q, err)
			}
		}
	})

	t.Run("empty query", func(t *testing.T) {
		got, err := bs.Search(context.Background(), "", "global", 10)
		if err != nil || got != nil {
			t.Fatalf("empty query should be a no-op, got %v, %v", got, err)
		}
	})
}

func TestLinkStrengthening(t *testing.T) {
	db := setupTestDB(t)
	ms := NewMemoryStore(db)
	ls := NewLinkStore(db)

	for _, id := range []string{"a", "b"} {
		if err := ms.Insert(testMemory(id, "global")); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}

	for i := 0; i < 3; i++ {
		if err := ls.Create(context.Background(), "a", "b", models.LinkCoAccessed, 0.5); err != nil {
			t.Fatalf("create link: %v", err)
		}
	}

	links, err := ls.ForMemory(context.Background(), "a", 10)
	if err != nil {
		t.Fatalf("for memory: %v", err)
	}
	if len(links) != 1 {
		t.Fatalf("repeated creates should collapse to one edge, got %d", len(links))
	}
	if links[0].Strength != 1.0 {
		t.Fatalf("strength = %f, want reinforcement capped at 1.0", links[0].Strength)
	}

	counts, err := ls.CountForMemories(context.Background(), []string{"a", "b", "ghost"})
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts["a"] != 1 || counts["b"] != 1 {
		t.Fatalf("counts wrong: %v", counts)
	}
	if _, ok := counts["ghost"]; ok {
		t.Fatal("count invented for unlinked id")
	}
}
