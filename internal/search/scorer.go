// Package search ranks memories for a query: a base relevance signal from
// vector and keyword match, the memory's importance, and the learner's
// weighted feature contributions. Retrieval never blocks on the learning
// subsystem; when weights cannot be resolved the scorer degrades to base
// relevance plus importance.
package search

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/rand/mnemosyne-sub002/internal/feedback"
	"github.com/rand/mnemosyne-sub002/internal/learner"
	"github.com/rand/mnemosyne-sub002/internal/models"
	"github.com/rand/mnemosyne-sub002/internal/namespace"
	"github.com/rand/mnemosyne-sub002/internal/store"
	"github.com/rand/mnemosyne-sub002/internal/vectorindex"
)

// Embedder produces a query embedding. Failures degrade the search to
// keyword-only scoring.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config holds scoring weights and output limits.
type Config struct {
	// VectorWeight and BM25Weight combine into the base relevance signal.
	VectorWeight float64
	BM25Weight   float64
	// MaxResults caps the candidate pool when the request does not.
	MaxResults int
	// ByteBudget bounds the serialized size of the result set. Lowest
	// ranked entries are dropped whole; records are never cut mid-body.
	ByteBudget int
	// Timeout bounds the whole scoring pass.
	Timeout time.Duration
}

var DefaultConfig = Config{
	VectorWeight: 0.7,
	BM25Weight:   0.3,
	MaxResults:   20,
	ByteBudget:   64 * 1024,
	Timeout:      2 * time.Second,
}

// Final score composition. Base relevance dominates; importance and the
// learned contribution share the remainder. When no learned weights are
// available their share is folded back into base and importance.
const (
	baseShare       = 0.6
	importanceShare = 0.2
	learnedShare    = 0.2
)

// Scorer executes ranked retrieval over a namespace scope.
type Scorer struct {
	memories *store.MemoryStore
	bm25     *store.BM25Store
	links    *store.LinkStore
	evals    *store.EvaluationStore
	index    *vectorindex.Index
	embedder Embedder
	learner  *learner.Learner
	cfg      Config
	logger   *slog.Logger
}

func NewScorer(
	memories *store.MemoryStore,
	bm25 *store.BM25Store,
	links *store.LinkStore,
	evals *store.EvaluationStore,
	index *vectorindex.Index,
	embedder Embedder,
	l *learner.Learner,
	cfg Config,
	logger *slog.Logger,
) *Scorer {
	return &Scorer{
		memories: memories,
		bm25:     bm25,
		links:    links,
		evals:    evals,
		index:    index,
		embedder: embedder,
		learner:  l,
		cfg:      cfg,
		logger:   logger,
	}
}

type candidate struct {
	memory      *models.Memory
	vectorScore float64
	bm25Score   float64
	final       float64
}

// Search runs the full scoring pipeline for one query.
func (s *Scorer) Search(ctx context.Context, req *models.SearchRequest) (*models.SearchResponse, error) {
	start := time.Now()

	scope, err := namespace.Parse(req.Namespace)
	if err != nil {
		return nil, err
	}
	if req.Query == "" {
		return nil, &models.ValidationError{Field: "query", Reason: "required"}
	}
	limit := req.Limit
	if limit <= 0 || limit > s.cfg.MaxResults {
		limit = s.cfg.MaxResults
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	merged := s.gather(ctx, req.Query, scope, limit)

	candidates := s.load(merged, req.MinImportance)
	total := len(candidates)

	learnerUsed := s.score(ctx, candidates, req, scope)

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.final != b.final {
			return a.final > b.final
		}
		if a.memory.CreatedAt != b.memory.CreatedAt {
			return a.memory.CreatedAt > b.memory.CreatedAt
		}
		return a.memory.Importance > b.memory.Importance
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	results, truncated := s.fitBudget(candidates)

	s.recordAccess(ctx, results)

	return &models.SearchResponse{
		Results: results,
		Meta: models.SearchMeta{
			TotalCandidates: total,
			Truncated:       truncated || len(results) < total,
			LearnerUsed:     learnerUsed,
			SearchTimeMs:    int(time.Since(start).Milliseconds()),
		},
	}, nil
}

// gather collects vector and keyword matches into per-memory base scores.
// Either signal failing is non-fatal; the other carries the search.
func (s *Scorer) gather(ctx context.Context, query string, scope namespace.Scope, limit int) map[string]*candidate {
	merged := make(map[string]*candidate)

	if emb, err := s.embedder.Embed(ctx, query); err != nil {
		s.logger.Warn("query embedding unavailable, keyword-only search", "error", err)
	} else {
		matches, err := s.index.Query(ctx, emb, scope, limit*3)
		if err != nil {
			s.logger.Warn("vector index query failed", "error", err)
		}
		for _, m := range matches {
			merged[m.ID] = &candidate{vectorScore: m.Similarity}
		}
	}

	bm25Results, err := s.bm25.Search(ctx, query, scope.String(), limit*3)
	if err != nil {
		s.logger.Warn("bm25 search failed", "error", err)
	}
	maxRank := 0.0
	for _, r := range bm25Results {
		if r.Rank > maxRank {
			maxRank = r.Rank
		}
	}
	for _, r := range bm25Results {
		norm := 0.0
		if maxRank > 0 {
			norm = r.Rank / maxRank
		}
		if c, ok := merged[r.ID]; ok {
			c.bm25Score = norm
		} else {
			merged[r.ID] = &candidate{bm25Score: norm}
		}
	}
	return merged
}

func (s *Scorer) load(merged map[string]*candidate, minImportance int) []*candidate {
	ids := make([]string, 0, len(merged))
	for id := range merged {
		ids = append(ids, id)
	}
	memories, err := s.memories.GetByIDs(ids)
	if err != nil {
		s.logger.Warn("candidate load failed", "error", err)
		return nil
	}

	candidates := make([]*candidate, 0, len(memories))
	for _, m := range memories {
		if m.IsSuperseded() {
			continue
		}
		if minImportance > 0 && m.Importance < minImportance {
			continue
		}
		c := merged[m.ID]
		c.memory = m
		candidates = append(candidates, c)
	}
	return candidates
}

// score assigns final scores. It reports whether learned weights were
// applied; any failure in the learning path falls back to base relevance
// plus importance without failing the search.
func (s *Scorer) score(ctx context.Context, candidates []*candidate, req *models.SearchRequest, scope namespace.Scope) bool {
	resolved := s.resolveWeights(req.SessionID, scope)

	var stats map[string]*store.ContextStats
	if resolved != nil {
		ids := make([]string, len(candidates))
		for i, c := range candidates {
			ids[i] = c.memory.ID
		}
		var err error
		stats, err = s.evals.StatsForContexts(ctx, ids)
		if err != nil {
			s.logger.Warn("context stats unavailable", "error", err)
			resolved = nil
		}
	}

	queryKeywords := tokenizeQuery(req.Query)
	now := time.Now()

	for _, c := range candidates {
		base := s.cfg.VectorWeight*c.vectorScore + s.cfg.BM25Weight*c.bm25Score
		importanceScore := float64(c.memory.Importance) / float64(models.MaxImportance)

		if resolved == nil {
			weight := baseShare + learnedShare
			c.final = (weight*base + importanceShare*importanceScore) / (weight + importanceShare)
			continue
		}

		hist := feedback.ContextHistory{
			Accesses:  c.memory.AccessCount,
			CreatedAt: time.Unix(c.memory.CreatedAt, 0),
		}
		if st, ok := stats[c.memory.ID]; ok {
			hist.TimesProvided = st.Provided
			hist.TimesUseful = st.Useful
		}
		features := feedback.Extract(queryKeywords, c.memory.Keywords, hist, now)
		learned := clamp01(features.Dot(resolved.Weights))

		c.final = baseShare*base + importanceShare*importanceScore + learnedShare*learned
	}
	return resolved != nil
}

// resolveWeights returns nil when the learner cannot serve this request,
// which switches scoring to the degraded path.
func (s *Scorer) resolveWeights(sessionID string, scope namespace.Scope) *learner.Resolved {
	if s.learner == nil || sessionID == "" {
		return nil
	}
	projectScope := ""
	if scope.Kind == namespace.KindProject {
		projectScope = scope.String()
	}
	resolved, err := s.learner.Resolve(sessionID, projectScope)
	if err != nil {
		s.logger.Warn("weight resolution failed, degraded scoring", "error", err)
		return nil
	}
	return resolved
}

// fitBudget serializes results against the byte budget, dropping whole
// records from the bottom of the ranking until the set fits.
func (s *Scorer) fitBudget(candidates []*candidate) ([]models.MemorySummary, bool) {
	results := make([]models.MemorySummary, 0, len(candidates))
	used := 0
	truncated := false
	for _, c := range candidates {
		summary := models.MemorySummary{
			ID:         c.memory.ID,
			Namespace:  c.memory.Namespace,
			Type:       c.memory.Type,
			Importance: c.memory.Importance,
			Summary:    c.memory.Summary,
			Content:    c.memory.Content,
			Keywords:   c.memory.Keywords,
			Score:      c.final,
			CreatedAt:  c.memory.CreatedAt,
		}
		b, err := json.Marshal(summary)
		if err != nil {
			continue
		}
		if s.cfg.ByteBudget > 0 && used+len(b) > s.cfg.ByteBudget {
			truncated = true
			break
		}
		used += len(b)
		results = append(results, summary)
	}
	return results, truncated
}

// recordAccess bumps access counts for returned results and strengthens
// co-access links between them, feeding later recalibration passes.
func (s *Scorer) recordAccess(ctx context.Context, results []models.MemorySummary) {
	for _, r := range results {
		if err := s.memories.IncrementAccessCount(r.ID); err != nil {
			s.logger.Warn("access count update failed", "id", r.ID, "error", err)
		}
	}
	for i := 0; i < len(results); i++ {
		for j := i + 1; j < len(results); j++ {
			_ = s.links.Create(ctx, results[i].ID, results[j].ID, models.LinkCoAccessed, 0.1)
		}
	}
}

// tokenizeQuery lowercases and splits on non-alphanumerics, bounding the
// keyword count so overlap scoring stays cheap.
func tokenizeQuery(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(fields) > 16 {
		fields = fields[:16]
	}
	return fields
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
