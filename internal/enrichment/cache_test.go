package enrichment

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/rand/mnemosyne-sub002/internal/models"
	"github.com/rand/mnemosyne-sub002/internal/store"
	"github.com/rand/mnemosyne-sub002/internal/vectormath"
)

func TestContentHash(t *testing.T) {
	a := ContentHash("some content")
	b := ContentHash("some content")
	if a != b {
		t.Fatal("same content hashed differently")
	}
	if len(a) != 64 {
		t.Fatalf("hash length = %d, want 64 hex chars", len(a))
	}
	if ContentHash("other content") == a {
		t.Fatal("different content collided")
	}
}

func TestCachedEmbedderServesFromPersistentCache(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	cacheStore := store.NewEmbeddingCacheStore(db)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	// The client points nowhere; a cache hit must never reach it.
	client := NewOllamaClient("http://127.0.0.1:1", "nomic-embed-text", "qwen2.5:1.5b")
	embedder, err := NewCachedEmbedder(client, cacheStore, "nomic-embed-text", 3, logger)
	if err != nil {
		t.Fatalf("new cached embedder: %v", err)
	}

	text := "known content"
	want := []float32{0.1, 0.2, 0.3}
	if err := cacheStore.Put(&models.EmbeddingCacheEntry{
		ContentHash: ContentHash(text),
		Embedding:   vectormath.Float32ToBytes(want),
		Dimension:   3,
		Model:       "nomic-embed-text",
	}); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	got, err := embedder.Embed(context.Background(), text)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(got) != 3 || got[0] != 0.1 || got[2] != 0.3 {
		t.Fatalf("embedding = %v, want %v", got, want)
	}

	t.Run("unknown content needs the model", func(t *testing.T) {
		if _, err := embedder.Embed(context.Background(), "never seen"); err == nil {
			t.Fatal("cache miss with unreachable model should fail")
		}
	})

	t.Run("entry from another model is a miss", func(t *testing.T) {
		foreign := "cached under a different model"
		if err := cacheStore.Put(&models.EmbeddingCacheEntry{
			ContentHash: ContentHash(foreign),
			Embedding:   vectormath.Float32ToBytes([]float32{9, 9, 9}),
			Dimension:   3,
			Model:       "all-minilm",
		}); err != nil {
			t.Fatalf("seed cache: %v", err)
		}
		if _, err := embedder.Embed(context.Background(), foreign); err == nil {
			t.Fatal("foreign-model entry must not be served")
		}
	})
}
