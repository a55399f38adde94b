// Package memory is the facade over the substrate's subsystems: ingestion,
// retrieval, linking, supersession, consolidation, recalibration, and
// feedback. Handlers talk to this package only.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/rand/mnemosyne-sub002/internal/consolidate"
	"github.com/rand/mnemosyne-sub002/internal/enrichment"
	"github.com/rand/mnemosyne-sub002/internal/feedback"
	"github.com/rand/mnemosyne-sub002/internal/learner"
	"github.com/rand/mnemosyne-sub002/internal/models"
	"github.com/rand/mnemosyne-sub002/internal/namespace"
	"github.com/rand/mnemosyne-sub002/internal/privacy"
	"github.com/rand/mnemosyne-sub002/internal/recalibrate"
	"github.com/rand/mnemosyne-sub002/internal/search"
	"github.com/rand/mnemosyne-sub002/internal/store"
	"github.com/rand/mnemosyne-sub002/internal/vectorindex"
	"github.com/rand/mnemosyne-sub002/internal/vectormath"
)

// Service wires the subsystems together behind one API.
type Service struct {
	memories      *store.MemoryStore
	links         *store.LinkStore
	evals         *store.EvaluationStore
	weights       *store.WeightStore
	embedder      *enrichment.CachedEmbedder
	index         *vectorindex.Index
	scorer        *search.Scorer
	engine        *consolidate.Engine
	recalibrator  *recalibrate.Recalibrator
	collector     *feedback.Collector
	learner       *learner.Learner
	enrichTimeout time.Duration
	logger        *slog.Logger
}

func NewService(
	memories *store.MemoryStore,
	links *store.LinkStore,
	evals *store.EvaluationStore,
	weights *store.WeightStore,
	embedder *enrichment.CachedEmbedder,
	index *vectorindex.Index,
	scorer *search.Scorer,
	engine *consolidate.Engine,
	recalibrator *recalibrate.Recalibrator,
	collector *feedback.Collector,
	l *learner.Learner,
	enrichTimeout time.Duration,
	logger *slog.Logger,
) *Service {
	return &Service{
		memories:      memories,
		links:         links,
		evals:         evals,
		weights:       weights,
		embedder:      embedder,
		index:         index,
		scorer:        scorer,
		engine:        engine,
		recalibrator:  recalibrator,
		collector:     collector,
		learner:       l,
		enrichTimeout: enrichTimeout,
		logger:        logger,
	}
}

// Create validates and persists a memory. The record is durable before
// enrichment starts; enrichment failures never surface to the caller.
func (s *Service) Create(ctx context.Context, req *models.CreateRequest) (*models.CreateResponse, error) {
	content := privacy.StripPrivateTags(req.Content)
	if content == "" || privacy.HasOnlyPrivateContent(req.Content) {
		return nil, &models.ValidationError{Field: "content", Reason: "empty after privacy filtering"}
	}
	ns, err := namespace.Parse(req.Namespace)
	if err != nil {
		return nil, err
	}
	if req.Importance < models.MinImportance || req.Importance > models.MaxImportance {
		return nil, &models.ValidationError{
			Field:  "importance",
			Reason: fmt.Sprintf("must be between %d and %d", models.MinImportance, models.MaxImportance),
		}
	}
	if !req.Type.IsValid() {
		return nil, &models.ValidationError{Field: "type", Reason: "unknown memory type"}
	}

	now := time.Now().Unix()
	m := &models.Memory{
		ID:             ulid.Make().String(),
		Namespace:      ns.String(),
		Content:        content,
		Type:           req.Type,
		Importance:     req.Importance,
		BaseImportance: req.Importance,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.memories.Insert(m); err != nil {
		return nil, err
	}

	go s.enrich(m.ID, content)

	return &models.CreateResponse{ID: m.ID}, nil
}

// enrich runs the collaborator pass for one memory in the background.
func (s *Service) enrich(id, content string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.enrichTimeout)
	defer cancel()

	emb, err := s.embedder.Embed(ctx, content)
	if err != nil {
		s.logger.Warn("enrichment: embedding failed", "id", id, "error", err)
		return
	}

	ann, err := s.embedder.Annotate(ctx, content)
	if err != nil {
		s.logger.Warn("enrichment: annotation failed", "id", id, "error", err)
		ann = &models.Enrichment{}
	}

	raw := vectormath.Float32ToBytes(emb)
	if err := s.memories.SetEnrichment(id, ann.Summary, privacy.FilterKeywords(ann.Keywords), ann.Confidence, raw); err != nil {
		s.logger.Warn("enrichment: persist failed", "id", id, "error", err)
		return
	}

	m, err := s.memories.GetByID(id)
	if err != nil {
		return
	}
	if err := s.index.Add(ctx, m); err != nil {
		s.logger.Warn("enrichment: index add failed", "id", id, "error", err)
	}
}

// Get fetches a memory. When resolve is set and the memory is superseded,
// the head of its supersession chain is returned instead.
func (s *Service) Get(id string, resolve bool) (*models.Memory, error) {
	m, err := s.memories.GetByID(id)
	if err != nil {
		return nil, err
	}
	if resolve && m.IsSuperseded() {
		return s.memories.ResolveSupersessionChain(id)
	}
	return m, nil
}

// Search runs ranked retrieval.
func (s *Service) Search(ctx context.Context, req *models.SearchRequest) (*models.SearchResponse, error) {
	return s.scorer.Search(ctx, req)
}

// Link creates or strengthens a typed edge between two memories.
func (s *Service) Link(ctx context.Context, sourceID string, req *models.LinkRequest) error {
	if req.LinkType == "" {
		return &models.ValidationError{Field: "linkType", Reason: "required"}
	}
	if _, err := s.memories.GetByID(sourceID); err != nil {
		return err
	}
	if _, err := s.memories.GetByID(req.TargetID); err != nil {
		return err
	}
	strength := req.Strength
	if strength == 0 {
		strength = 1.0
	}
	return s.links.Create(ctx, sourceID, req.TargetID, req.LinkType, strength)
}

// Links lists the edges touching one memory.
func (s *Service) Links(ctx context.Context, id string, limit int) ([]models.Link, error) {
	if _, err := s.memories.GetByID(id); err != nil {
		return nil, err
	}
	return s.links.ForMemory(ctx, id, limit)
}

// Supersede marks oldID as replaced by newID and records the edge. The old
// memory stays durable but leaves the vector index and future retrieval.
func (s *Service) Supersede(ctx context.Context, oldID, newID string) (*models.SupersedeResponse, error) {
	if err := s.memories.Supersede(oldID, newID); err != nil {
		return nil, err
	}
	if err := s.links.Create(ctx, newID, oldID, models.LinkSupersedes, 1.0); err != nil {
		s.logger.Warn("supersede link failed", "old", oldID, "new", newID, "error", err)
	}
	if err := s.index.Remove(ctx, oldID); err != nil {
		s.logger.Warn("index removal failed", "id", oldID, "error", err)
	}
	return &models.SupersedeResponse{SupersededID: oldID, NewMemoryID: newID}, nil
}

// Consolidate merges near-duplicate clusters under a scope. Merged sources
// leave the vector index; the consolidated records are enriched in the
// background like any new memory.
func (s *Service) Consolidate(ctx context.Context, req *models.ConsolidateRequest) (*models.ConsolidateResponse, error) {
	scope, err := namespace.Parse(req.Namespace)
	if err != nil {
		return nil, err
	}
	resp, err := s.engine.Run(ctx, scope, req.DryRun)
	if err != nil {
		return nil, err
	}
	if req.DryRun {
		return resp, nil
	}

	for _, p := range resp.Proposals {
		for _, src := range p.SourceIDs {
			if err := s.index.Remove(ctx, src); err != nil {
				s.logger.Warn("index removal failed", "id", src, "error", err)
			}
		}
		if p.ConsolidatedID != "" {
			go s.enrich(p.ConsolidatedID, p.Content)
		}
	}
	return resp, nil
}

// Recalibrate recomputes importance across a scope.
func (s *Service) Recalibrate(ctx context.Context, req *models.RecalibrateRequest) (*models.RecalibrateResponse, error) {
	scope, err := namespace.Parse(req.Namespace)
	if err != nil {
		return nil, err
	}
	return s.recalibrator.Run(ctx, scope)
}

// Feedback records one interaction signal.
func (s *Service) Feedback(req *models.FeedbackRequest) (string, error) {
	return s.collector.Record(req)
}

// Outcome closes a session's open evaluations with a terminal success
// score and folds each one into the learner. Corrupt feature vectors are
// discarded before any weights change; the evaluation is still completed
// so it cannot be retried into the learner later.
func (s *Service) Outcome(ctx context.Context, sessionID string, req *models.OutcomeRequest) (int, error) {
	if req.SuccessScore < 0 || req.SuccessScore > 1 {
		return 0, &models.ValidationError{Field: "successScore", Reason: "must be in [0,1]"}
	}
	evals, err := s.collector.OpenForSession(sessionID)
	if err != nil {
		return 0, err
	}

	ids := make([]string, len(evals))
	for i, e := range evals {
		ids[i] = e.ContextID
	}
	stats, err := s.evals.StatsForContexts(ctx, ids)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	processed := 0
	for _, e := range evals {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		m, err := s.memories.GetByID(e.ContextID)
		if err != nil {
			s.logger.Warn("outcome: context missing", "contextId", e.ContextID, "error", err)
			_ = s.collector.Complete(e.ID, req.SuccessScore)
			continue
		}

		hist := feedback.ContextHistory{
			Accesses:  m.AccessCount,
			CreatedAt: time.Unix(m.CreatedAt, 0),
		}
		if st, ok := stats[e.ContextID]; ok {
			hist.TimesProvided = st.Provided
			hist.TimesUseful = st.Useful
		}
		features := feedback.Extract(e.Keywords, m.Keywords, hist, now)

		if err := s.learner.Observe(sessionID, projectScopeOf(m.Namespace), features, req.SuccessScore); err != nil {
			s.logger.Warn("outcome: learner update failed", "evaluation", e.ID, "error", err)
		}
		if err := s.collector.Complete(e.ID, req.SuccessScore); err != nil {
			s.logger.Warn("outcome: completion failed", "evaluation", e.ID, "error", err)
			continue
		}
		processed++
	}
	return processed, nil
}

// projectScopeOf maps a memory's namespace to its learner project scope,
// or empty when the memory lives outside a project.
func projectScopeOf(ns string) string {
	scope, err := namespace.Parse(ns)
	if err != nil || scope.Kind != namespace.KindProject {
		return ""
	}
	root := namespace.Scope{Kind: namespace.KindProject, Name: scope.Name}
	return root.String()
}

// SweepEvaluations expires stale uncompleted evaluations.
func (s *Service) SweepEvaluations(ttl time.Duration) (int64, error) {
	return s.collector.Sweep(ttl)
}

// Stats reports substrate-wide counts.
func (s *Service) Stats() (*models.StatsResponse, error) {
	total, superseded, byType, err := s.memories.CountByType()
	if err != nil {
		return nil, err
	}
	evalCount, err := s.evals.Count()
	if err != nil {
		return nil, err
	}
	scopes, err := s.weights.ScopeCount()
	if err != nil {
		return nil, err
	}
	return &models.StatsResponse{
		TotalMemories: total,
		Superseded:    superseded,
		ByType:        byType,
		Evaluations:   evalCount,
		WeightScopes:  scopes,
	}, nil
}

// Health checks the database and the enrichment collaborator. Enrichment
// being down degrades the response but never marks the service unhealthy;
// retrieval works without it.
func (s *Service) Health(ctx context.Context, db *store.DB) *models.HealthResponse {
	resp := &models.HealthResponse{Status: "ok"}

	count, err := db.MemoryCount()
	if err != nil {
		resp.Status = "unhealthy"
		resp.DB = models.ServiceCheck{Status: "down", Message: err.Error()}
	} else {
		resp.DB = models.ServiceCheck{Status: "ok"}
		resp.MemoryCount = count
	}

	if err := s.embedder.HealthCheck(ctx); err != nil {
		resp.Enrichment = models.ServiceCheck{Status: "down", Message: err.Error()}
		if resp.Status == "ok" {
			resp.Status = "degraded"
		}
	} else {
		resp.Enrichment = models.ServiceCheck{Status: "ok"}
	}
	return resp
}

// RebuildIndex repopulates the vector index from the store.
func (s *Service) RebuildIndex(ctx context.Context) error {
	memories, err := s.memories.AllEmbedded()
	if err != nil {
		return err
	}
	return s.index.Rebuild(ctx, memories)
}
