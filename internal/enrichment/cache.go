package enrichment

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/ristretto"

	"github.com/rand/mnemosyne-sub002/internal/models"
	"github.com/rand/mnemosyne-sub002/internal/store"
	"github.com/rand/mnemosyne-sub002/internal/vectormath"
)

// CachedEmbedder layers a ristretto in-process cache over the SQLite
// embedding cache over the Ollama client. Identical content never hits the
// model twice, and hot content never hits the database.
type CachedEmbedder struct {
	client *OllamaClient
	hot    *ristretto.Cache
	cache  *store.EmbeddingCacheStore
	model  string
	dim    int
	logger *slog.Logger
}

func NewCachedEmbedder(client *OllamaClient, cache *store.EmbeddingCacheStore, model string, dim int, logger *slog.Logger) (*CachedEmbedder, error) {
	hot, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     32 << 20, // 32 MiB of embeddings
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding cache: %w", err)
	}
	return &CachedEmbedder{
		client: client,
		hot:    hot,
		cache:  cache,
		model:  model,
		dim:    dim,
		logger: logger,
	}, nil
}

// Embed returns the embedding for text, consulting the in-process cache,
// then the persistent cache, then the model.
func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	hash := ContentHash(text)

	if v, ok := e.hot.Get(hash); ok {
		return v.([]float32), nil
	}

	entry, err := e.cache.Lookup(hash, e.model)
	if err != nil {
		return nil, fmt.Errorf("cache lookup: %w", err)
	}
	if entry != nil {
		vec := vectormath.BytesToFloat32(entry.Embedding)
		e.hot.Set(hash, vec, int64(len(entry.Embedding)))
		return vec, nil
	}

	vec, err := e.client.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	raw := vectormath.Float32ToBytes(vec)
	cacheEntry := &models.EmbeddingCacheEntry{
		ContentHash: hash,
		Embedding:   raw,
		Dimension:   e.dim,
		Model:       e.model,
	}
	if err := e.cache.Put(cacheEntry); err != nil {
		e.logger.Warn("embedding cache write failed", "error", err)
	}
	e.hot.Set(hash, vec, int64(len(raw)))

	return vec, nil
}

// Annotate delegates to the underlying client. Annotations are cheap to
// recompute relative to their hit rate, so only embeddings are cached.
func (e *CachedEmbedder) Annotate(ctx context.Context, content string) (*models.Enrichment, error) {
	return e.client.Annotate(ctx, content)
}

// HealthCheck reports whether the backing model server is reachable.
func (e *CachedEmbedder) HealthCheck(ctx context.Context) error {
	return e.client.HealthCheck(ctx)
}

// ContentHash computes a SHA-256 hash of text content.
func ContentHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%x", h)
}
