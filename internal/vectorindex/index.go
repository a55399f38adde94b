// Package vectorindex maintains an embedded approximate-neighbor index over
// memory embeddings. The index is derived data: it is rebuilt from the
// SQLite store at startup and the store stays the source of truth.
package vectorindex

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/rand/mnemosyne-sub002/internal/models"
	"github.com/rand/mnemosyne-sub002/internal/namespace"
	"github.com/rand/mnemosyne-sub002/internal/vectormath"
)

const collectionName = "memories"

// Match is one nearest-neighbor hit.
type Match struct {
	ID         string
	Namespace  string
	Similarity float64
}

// Index wraps a single chromem collection holding every live embedded
// memory. Namespace containment is enforced by post-filtering so a query
// for project:myapp never surfaces project:myapp2.
type Index struct {
	db     *chromem.DB
	col    *chromem.Collection
	mu     sync.RWMutex
	logger *slog.Logger
}

func New(logger *slog.Logger) (*Index, error) {
	db := chromem.NewDB()
	col, err := db.CreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	return &Index{db: db, col: col, logger: logger}, nil
}

// Rebuild repopulates the index from scratch. Errors on individual
// documents are logged and skipped; the store remains authoritative.
func (idx *Index) Rebuild(ctx context.Context, memories []*models.Memory) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if err := idx.db.DeleteCollection(collectionName); err != nil {
		return fmt.Errorf("reset collection: %w", err)
	}
	col, err := idx.db.CreateCollection(collectionName, nil, nil)
	if err != nil {
		return fmt.Errorf("recreate collection: %w", err)
	}
	idx.col = col

	added := 0
	for _, m := range memories {
		if !m.HasEmbedding() || m.IsSuperseded() {
			continue
		}
		if err := idx.addLocked(ctx, m); err != nil {
			idx.logger.Warn("index rebuild: skipping memory", "id", m.ID, "error", err)
			continue
		}
		added++
	}
	idx.logger.Info("vector index rebuilt", "documents", added)
	return nil
}

// Add inserts or replaces a memory's embedding in the index.
func (idx *Index) Add(ctx context.Context, m *models.Memory) error {
	if !m.HasEmbedding() {
		return fmt.Errorf("memory %s has no embedding", m.ID)
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.addLocked(ctx, m)
}

func (idx *Index) addLocked(ctx context.Context, m *models.Memory) error {
	doc := chromem.Document{
		ID:        m.ID,
		Content:   m.Content,
		Embedding: vectormath.BytesToFloat32(m.Embedding),
		Metadata: map[string]string{
			"namespace": m.Namespace,
		},
	}
	if err := idx.col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

// Remove drops a memory from the index. Called when a memory is superseded
// so consolidated sources stop matching.
func (idx *Index) Remove(ctx context.Context, id string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := idx.col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// Query returns up to limit matches inside the scope's subtree, best first.
func (idx *Index) Query(ctx context.Context, embedding []float32, scope namespace.Scope, limit int) ([]Match, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	total := idx.col.Count()
	if total == 0 || limit <= 0 {
		return nil, nil
	}

	// Over-fetch so that namespace post-filtering still fills the limit.
	n := limit * 4
	if n > total {
		n = total
	}

	results, err := idx.col.QueryEmbedding(ctx, embedding, n, nil, nil)
	if err != nil {
		if isInsufficientDocsError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("query embedding: %w", err)
	}

	matches := make([]Match, 0, limit)
	for _, r := range results {
		ns, err := namespace.Parse(r.Metadata["namespace"])
		if err != nil || !scope.Contains(ns) {
			continue
		}
		matches = append(matches, Match{
			ID:         r.ID,
			Namespace:  r.Metadata["namespace"],
			Similarity: float64(r.Similarity),
		})
		if len(matches) >= limit {
			break
		}
	}
	return matches, nil
}

// Count returns the number of indexed documents.
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.col.Count()
}

func isInsufficientDocsError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "nResults must be") || strings.Contains(msg, "number of documents")
}
