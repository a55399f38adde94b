package search

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/rand/mnemosyne-sub002/internal/learner"
	"github.com/rand/mnemosyne-sub002/internal/models"
	"github.com/rand/mnemosyne-sub002/internal/store"
	"github.com/rand/mnemosyne-sub002/internal/vectorindex"
	"github.com/rand/mnemosyne-sub002/internal/vectormath"
)

// stubEmbedder returns a fixed vector, or an error when broken.
type stubEmbedder struct {
	vec    []float32
	broken bool
}

func (e *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.broken {
		return nil, errors.New("embedding service down")
	}
	return e.vec, nil
}

type scorerFixture struct {
	scorer   *Scorer
	memories *store.MemoryStore
	links    *store.LinkStore
	index    *vectorindex.Index
	learner  *learner.Learner
}

func setupScorer(t *testing.T, embedder Embedder, cfg Config, withLearner bool) *scorerFixture {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ms := store.NewMemoryStore(db)
	ls := store.NewLinkStore(db)
	es := store.NewEvaluationStore(db)
	ws := store.NewWeightStore(db)

	idx, err := vectorindex.New(logger)
	if err != nil {
		t.Fatalf("new index: %v", err)
	}

	var l *learner.Learner
	if withLearner {
		l = learner.New(ws, learner.DefaultRates, 0.3, false, logger)
	}

	return &scorerFixture{
		scorer:   NewScorer(ms, store.NewBM25Store(db), ls, es, idx, embedder, l, cfg, logger),
		memories: ms,
		links:    ls,
		index:    idx,
		learner:  l,
	}
}

func (f *scorerFixture) insert(t *testing.T, id, ns, content string, importance int, emb []float32) {
	t.Helper()
	now := time.Now().Unix()
	m := &models.Memory{
		ID:             id,
		Namespace:      ns,
		Content:        content,
		Type:           models.MemoryTypeInsight,
		Importance:     importance,
		BaseImportance: importance,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if emb != nil {
		m.Embedding = vectormath.Float32ToBytes(emb)
	}
	if err := f.memories.Insert(m); err != nil {
		t.Fatalf("insert %s: %v", id, err)
	}
	if emb != nil {
		if err := f.index.Add(context.Background(), m); err != nil {
			t.Fatalf("index %s: %v", id, err)
		}
	}
}

func TestSearchKeywordOnly(t *testing.T) {
	f := setupScorer(t, &stubEmbedder{broken: true}, DefaultConfig, false)

	f.insert(t, "m1", "project:myapp", "connection pool exhaustion under load", 5, nil)
	f.insert(t, "m2", "project:myapp", "css grid layout for the dashboard", 5, nil)

	resp, err := f.scorer.Search(context.Background(), &models.SearchRequest{
		Query:     "connection pool",
		Namespace: "project:myapp",
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0].ID != "m1" {
		t.Fatalf("expected keyword match m1, got %+v", resp.Results)
	}
	if resp.Meta.LearnerUsed {
		t.Fatal("learner reported in use without a session")
	}
}

func TestSearchVectorMatch(t *testing.T) {
	query := []float32{1, 0, 0}
	f := setupScorer(t, &stubEmbedder{vec: query}, DefaultConfig, false)

	f.insert(t, "close", "project:myapp", "aligned meaning zzz", 5, []float32{0.9, 0.1, 0})
	f.insert(t, "far", "project:myapp", "different meaning yyy", 5, []float32{0, 0, 1})

	resp, err := f.scorer.Search(context.Background(), &models.SearchRequest{
		Query:     "aligned",
		Namespace: "project:myapp",
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(resp.Results) == 0 || resp.Results[0].ID != "close" {
		t.Fatalf("expected vector-near memory first, got %+v", resp.Results)
	}
}

func TestSearchValidation(t *testing.T) {
	f := setupScorer(t, &stubEmbedder{broken: true}, DefaultConfig, false)

	t.Run("missing query", func(t *testing.T) {
		_, err := f.scorer.Search(context.Background(), &models.SearchRequest{Namespace: "global"})
		if !models.IsValidation(err) {
			t.Fatalf("expected validation error, got %v", err)
		}
	})

	t.Run("bad namespace", func(t *testing.T) {
		_, err := f.scorer.Search(context.Background(), &models.SearchRequest{
			Query: "x", Namespace: "not:a:valid:kind",
		})
		if err == nil {
			t.Fatal("expected namespace error")
		}
	})
}

func TestSearchFilters(t *testing.T) {
	f := setupScorer(t, &stubEmbedder{broken: true}, DefaultConfig, false)

	f.insert(t, "low", "project:myapp", "shared term alpha", 2, nil)
	f.insert(t, "high", "project:myapp", "shared term alpha beta", 8, nil)
	f.insert(t, "old", "project:myapp", "shared term alpha gamma", 8, nil)
	f.insert(t, "next", "project:myapp", "replacement of old alpha", 8, nil)
	if err := f.memories.Supersede("old", "next"); err != nil {
		t.Fatalf("supersede: %v", err)
	}

	resp, err := f.scorer.Search(context.Background(), &models.SearchRequest{
		Query:         "alpha",
		Namespace:     "project:myapp",
		MinImportance: 5,
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for _, r := range resp.Results {
		if r.ID == "low" {
			t.Fatal("minImportance filter leaked a low-importance memory")
		}
		if r.ID == "old" {
			t.Fatal("superseded memory returned")
		}
	}
}

func TestSearchByteBudget(t *testing.T) {
	cfg := DefaultConfig
	cfg.ByteBudget = 400
	f := setupScorer(t, &stubEmbedder{broken: true}, cfg, false)

	long := make([]byte, 200)
	for i := range long {
		long[i] = 'x'
	}
	for _, id := range []string{"r1", "r2", "r3", "r4"} {
		f.insert(t, id, "project:myapp", "needle "+string(long), 5, nil)
	}

	resp, err := f.scorer.Search(context.Background(), &models.SearchRequest{
		Query:     "needle",
		Namespace: "project:myapp",
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(resp.Results) == 0 {
		t.Fatal("budget dropped everything")
	}
	if len(resp.Results) >= 4 {
		t.Fatalf("budget of %d bytes kept all %d records", cfg.ByteBudget, len(resp.Results))
	}
	if !resp.Meta.Truncated {
		t.Fatal("truncation not reported")
	}

	t.Run("records are whole", func(t *testing.T) {
		for _, r := range resp.Results {
			if len(r.Content) != len("needle ")+200 {
				t.Fatalf("record %s was cut mid-body: %d bytes", r.ID, len(r.Content))
			}
		}
	})
}

func TestSearchLearnerPath(t *testing.T) {
	f := setupScorer(t, &stubEmbedder{broken: true}, DefaultConfig, true)

	f.insert(t, "m1", "project:myapp", "token refresh rotation", 5, nil)

	t.Run("no session means degraded scoring", func(t *testing.T) {
		resp, err := f.scorer.Search(context.Background(), &models.SearchRequest{
			Query:     "token",
			Namespace: "project:myapp",
		})
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if resp.Meta.LearnerUsed {
			t.Fatal("learner used without a session id")
		}
	})

	t.Run("session id engages the learner", func(t *testing.T) {
		resp, err := f.scorer.Search(context.Background(), &models.SearchRequest{
			Query:     "token",
			Namespace: "project:myapp",
			SessionID: "sess-1",
		})
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if !resp.Meta.LearnerUsed {
			t.Fatal("learner not used despite session id")
		}
		if len(resp.Results) != 1 {
			t.Fatalf("expected 1 result, got %d", len(resp.Results))
		}
		if resp.Results[0].Score < 0 || resp.Results[0].Score > 1 {
			t.Fatalf("score %f outside [0,1]", resp.Results[0].Score)
		}
	})
}

func TestSearchRecordsAccess(t *testing.T) {
	f := setupScorer(t, &stubEmbedder{broken: true}, DefaultConfig, false)

	f.insert(t, "a", "global", "shared topic one", 5, nil)
	f.insert(t, "b", "global", "shared topic two", 5, nil)

	if _, err := f.scorer.Search(context.Background(), &models.SearchRequest{
		Query:     "shared topic",
		Namespace: "global",
	}); err != nil {
		t.Fatalf("search: %v", err)
	}

	a, err := f.memories.GetByID("a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if a.AccessCount != 1 {
		t.Fatalf("access count = %d, want 1", a.AccessCount)
	}
	if a.LastAccessedAt == nil {
		t.Fatal("last_accessed_at not set")
	}

	links, err := f.links.ForMemory(context.Background(), "a", 10)
	if err != nil {
		t.Fatalf("links: %v", err)
	}
	var coAccessed bool
	for _, l := range links {
		if l.LinkType == models.LinkCoAccessed {
			coAccessed = true
		}
	}
	if !coAccessed {
		t.Fatal("co-access link not recorded")
	}
}

func TestTokenizeQuery(t *testing.T) {
	got := tokenizeQuery("Fix the FLAKY auth-test, v2!")
	want := []string{"fix", "the", "flaky", "auth", "test", "v2"}
	if len(got) != len(want) {
		t.Fatalf("tokenizeQuery = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("tokenizeQuery = %v, want %v", got, want)
		}
	}
}
