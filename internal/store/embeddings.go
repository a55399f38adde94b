package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rand/mnemosyne-sub002/internal/models"
)

// EmbeddingCacheStore is the persistent tier of the embedding cache. Rows
// are keyed by content hash and carry the model that produced them, so a
// model swap invalidates the cache instead of serving vectors from a
// different embedding space.
type EmbeddingCacheStore struct {
	db *DB
}

func NewEmbeddingCacheStore(db *DB) *EmbeddingCacheStore {
	return &EmbeddingCacheStore{db: db}
}

// Lookup returns the cached embedding for a content hash, or nil on a miss.
// An entry computed by a different model is a miss.
func (s *EmbeddingCacheStore) Lookup(contentHash, model string) (*models.EmbeddingCacheEntry, error) {
	var e models.EmbeddingCacheEntry
	err := s.db.QueryRow(`
		SELECT content_hash, embedding, dimension, model, updated_at
		FROM embedding_cache WHERE content_hash = ? AND model = ?
	`, contentHash, model).Scan(&e.ContentHash, &e.Embedding, &e.Dimension, &e.Model, &e.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup embedding cache: %w", err)
	}
	return &e, nil
}

// Put stores an embedding, replacing any entry for the same content hash.
// One row per hash: switching models overwrites rather than accumulates.
func (s *EmbeddingCacheStore) Put(entry *models.EmbeddingCacheEntry) error {
	entry.UpdatedAt = time.Now().Unix()
	_, err := s.db.Exec(`
		INSERT INTO embedding_cache (content_hash, embedding, dimension, model, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(content_hash) DO UPDATE SET
			embedding = excluded.embedding,
			dimension = excluded.dimension,
			model = excluded.model,
			updated_at = excluded.updated_at
	`, entry.ContentHash, entry.Embedding, entry.Dimension, entry.Model, entry.UpdatedAt)
	if err != nil {
		return fmt.Errorf("put embedding cache: %w", err)
	}
	return nil
}
