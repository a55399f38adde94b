// Package consolidate detects near-duplicate memories within a namespace
// scope and merges each cluster into one consolidated record with full
// source attribution. Sources are superseded, never deleted.
package consolidate

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/rand/mnemosyne-sub002/internal/models"
	"github.com/rand/mnemosyne-sub002/internal/namespace"
	"github.com/rand/mnemosyne-sub002/internal/privacy"
	"github.com/rand/mnemosyne-sub002/internal/store"
	"github.com/rand/mnemosyne-sub002/internal/vectormath"
)

// Thresholds configure the two similarity signals. Cosine applies when
// both memories carry embeddings; Jaccard over keyword sets otherwise.
type Thresholds struct {
	Cosine  float64
	Jaccard float64
}

// DefaultThresholds: cosine band matches near-duplicate embedding distance,
// Jaccard requires a majority keyword overlap.
var DefaultThresholds = Thresholds{Cosine: 0.85, Jaccard: 0.60}

// Engine runs consolidation passes. A keyed mutex per scope guarantees at
// most one consolidation outcome per cluster even under concurrent runs.
type Engine struct {
	memories   *store.MemoryStore
	thresholds Thresholds
	logger     *slog.Logger

	mu        sync.Mutex
	scopeLock map[string]*sync.Mutex
}

func NewEngine(memories *store.MemoryStore, thresholds Thresholds, logger *slog.Logger) *Engine {
	return &Engine{
		memories:   memories,
		thresholds: thresholds,
		logger:     logger,
		scopeLock:  make(map[string]*sync.Mutex),
	}
}

func (e *Engine) lockScope(scope string) func() {
	e.mu.Lock()
	l, ok := e.scopeLock[scope]
	if !ok {
		l = &sync.Mutex{}
		e.scopeLock[scope] = l
	}
	e.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Run consolidates a scope. Superseded memories are excluded from candidate
// selection, which makes the pass idempotent: re-running over an
// already-consolidated scope finds nothing new to merge. In dry-run mode
// proposals are computed but nothing is written.
func (e *Engine) Run(ctx context.Context, scope namespace.Scope, dryRun bool) (*models.ConsolidateResponse, error) {
	unlock := e.lockScope(scope.String())
	defer unlock()

	candidates, err := e.memories.ByPrefix(scope, store.PrefixOptions{})
	if err != nil {
		return nil, fmt.Errorf("load candidates: %w", err)
	}

	clusters, skipped := e.cluster(candidates)

	resp := &models.ConsolidateResponse{DryRun: dryRun, Skipped: skipped}
	for _, cluster := range clusters {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		proposal := e.propose(cluster)
		if !dryRun {
			merged, err := e.merge(cluster, proposal)
			if err != nil {
				e.logger.Warn("cluster merge failed",
					"scope", scope.String(), "sources", proposal.SourceIDs, "error", err)
				resp.Skipped = append(resp.Skipped, models.AmbiguousCluster{
					MemberIDs: proposal.SourceIDs,
					Reason:    "merge aborted: " + err.Error(),
				})
				continue
			}
			proposal.ConsolidatedID = merged.ID
		}
		resp.Proposals = append(resp.Proposals, *proposal)
	}

	e.logger.Info("consolidation pass complete",
		"scope", scope.String(),
		"candidates", len(candidates),
		"merged", len(resp.Proposals),
		"skipped", len(resp.Skipped),
		"dryRun", dryRun)
	return resp, nil
}

// cluster groups candidates by pairwise similarity using union-find, and
// separates out clusters whose similarity signals conflict.
func (e *Engine) cluster(memories []*models.Memory) ([][]*models.Memory, []models.AmbiguousCluster) {
	n := len(memories)
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	union := func(a, b int) { parent[find(a)] = find(b) }

	ambiguous := make(map[int]string)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			similar, conflict := e.compare(memories[i], memories[j])
			if conflict != "" {
				union(i, j)
				ambiguous[find(i)] = conflict
				continue
			}
			if similar {
				union(i, j)
			}
		}
	}

	groups := make(map[int][]int)
	for i := 0; i < n; i++ {
		root := find(i)
		groups[root] = append(groups[root], i)
	}

	var clusters [][]*models.Memory
	var skipped []models.AmbiguousCluster
	for root, members := range groups {
		if len(members) < 2 {
			continue
		}
		ids := make([]string, len(members))
		cluster := make([]*models.Memory, len(members))
		for k, idx := range members {
			ids[k] = memories[idx].ID
			cluster[k] = memories[idx]
		}
		sort.Strings(ids)
		if reason, ok := ambiguous[root]; ok {
			skipped = append(skipped, models.AmbiguousCluster{MemberIDs: ids, Reason: reason})
			continue
		}
		sort.Slice(cluster, func(a, b int) bool { return cluster[a].CreatedAt < cluster[b].CreatedAt })
		clusters = append(clusters, cluster)
	}

	sort.Slice(clusters, func(a, b int) bool { return clusters[a][0].ID < clusters[b][0].ID })
	return clusters, skipped
}

// compare evaluates one pair. It reports whether the pair is a merge
// candidate, or a non-empty conflict reason when the two similarity signals
// disagree hard (one well above its threshold, the other well below).
func (e *Engine) compare(a, b *models.Memory) (similar bool, conflict string) {
	bothEmbedded := a.HasEmbedding() && b.HasEmbedding()
	bothKeyworded := len(a.Keywords) > 0 && len(b.Keywords) > 0

	var cosine, jaccard float64
	if bothEmbedded {
		cosine = vectormath.CosineFromBytes(a.Embedding, b.Embedding)
	}
	if bothKeyworded {
		jaccard = jaccardKeywords(a.Keywords, b.Keywords)
	}

	switch {
	case bothEmbedded && bothKeyworded:
		cosHigh := cosine >= e.thresholds.Cosine
		jacHigh := jaccard >= e.thresholds.Jaccard
		if cosHigh && jaccard < e.thresholds.Jaccard/2 {
			return false, fmt.Sprintf("embeddings match (%.2f) but keywords disagree (%.2f)", cosine, jaccard)
		}
		if jacHigh && cosine < e.thresholds.Cosine/2 {
			return false, fmt.Sprintf("keywords match (%.2f) but embeddings disagree (%.2f)", jaccard, cosine)
		}
		return cosHigh, ""
	case bothEmbedded:
		return cosine >= e.thresholds.Cosine, ""
	case bothKeyworded:
		return jaccard >= e.thresholds.Jaccard, ""
	default:
		return false, ""
	}
}

// propose builds the merge proposal for a cluster: synthesized content with
// the mandatory source list, max importance, capped keyword union.
func (e *Engine) propose(cluster []*models.Memory) *models.MergeProposal {
	ids := make([]string, len(cluster))
	importance := models.MinImportance
	var parts []string
	seen := make(map[string]struct{})
	for i, m := range cluster {
		ids[i] = m.ID
		if m.Importance > importance {
			importance = m.Importance
		}
		trimmed := strings.TrimSpace(m.Content)
		if _, dup := seen[trimmed]; !dup {
			seen[trimmed] = struct{}{}
			parts = append(parts, trimmed)
		}
	}

	var sb strings.Builder
	sb.WriteString(strings.Join(parts, "\n\n"))
	sb.WriteString("\n\nSources: ")
	sb.WriteString(strings.Join(ids, ", "))

	return &models.MergeProposal{
		SourceIDs:  ids,
		Importance: importance,
		Content:    sb.String(),
	}
}

func (e *Engine) merge(cluster []*models.Memory, proposal *models.MergeProposal) (*models.Memory, error) {
	now := time.Now().Unix()
	first := cluster[0]

	var keywords []string
	kwSeen := make(map[string]struct{})
	for _, m := range cluster {
		for _, kw := range m.Keywords {
			if _, ok := kwSeen[kw]; ok {
				continue
			}
			kwSeen[kw] = struct{}{}
			keywords = append(keywords, kw)
		}
	}
	keywords = privacy.FilterKeywords(keywords)

	merged := &models.Memory{
		ID:             ulid.Make().String(),
		Namespace:      first.Namespace,
		Content:        proposal.Content,
		Type:           first.Type,
		Importance:     proposal.Importance,
		BaseImportance: proposal.Importance,
		Keywords:       keywords,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := e.memories.InsertConsolidated(merged, proposal.SourceIDs); err != nil {
		return nil, err
	}
	return merged, nil
}

func jaccardKeywords(a, b []string) float64 {
	setA := make(map[string]struct{}, len(a))
	for _, k := range a {
		setA[strings.ToLower(k)] = struct{}{}
	}
	intersection, union := 0, len(setA)
	seenB := make(map[string]struct{}, len(b))
	for _, k := range b {
		k = strings.ToLower(k)
		if _, dup := seenB[k]; dup {
			continue
		}
		seenB[k] = struct{}{}
		if _, ok := setA[k]; ok {
			intersection++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
