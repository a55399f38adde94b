// Package recalibrate adjusts memory importance from accumulated signals.
// The adjusted value is always recomputed from the memory's base importance,
// so running the pass twice with unchanged inputs yields identical results
// and boost/decay cycles cannot oscillate.
package recalibrate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rand/mnemosyne-sub002/internal/models"
	"github.com/rand/mnemosyne-sub002/internal/namespace"
	"github.com/rand/mnemosyne-sub002/internal/store"
)

// Config holds the recalibration policy knobs.
type Config struct {
	// SupersedeDelta is subtracted from superseded memories.
	SupersedeDelta int
	// LinkBoostMin and AccessBoostMin are floors for the scope-relative
	// boost thresholds.
	LinkBoostMin   int
	AccessBoostMin int
	// StaleDays marks never-accessed memories older than this for decay.
	StaleDays int
}

var DefaultConfig = Config{
	SupersedeDelta: 3,
	LinkBoostMin:   3,
	AccessBoostMin: 5,
	StaleDays:      90,
}

// Signals are the per-memory inputs to the importance target.
type Signals struct {
	BaseImportance int
	LinkCount      int
	AccessCount    int
	AgeDays        float64
	Superseded     bool
}

// Recalibrator runs recalibration passes over a namespace scope.
type Recalibrator struct {
	memories *store.MemoryStore
	links    *store.LinkStore
	cfg      Config
	logger   *slog.Logger
}

func New(memories *store.MemoryStore, links *store.LinkStore, cfg Config, logger *slog.Logger) *Recalibrator {
	return &Recalibrator{memories: memories, links: links, cfg: cfg, logger: logger}
}

// Target computes the recalibrated importance for one memory. It is a pure
// function of the signals and thresholds, clamped to the valid range.
func Target(s Signals, cfg Config, linkThreshold, accessThreshold int) int {
	importance := s.BaseImportance

	if s.Superseded {
		importance -= cfg.SupersedeDelta
	}
	if s.LinkCount >= linkThreshold {
		importance++
	}
	if s.AccessCount >= accessThreshold {
		importance++
	}
	if s.AccessCount == 0 && s.AgeDays > float64(cfg.StaleDays) {
		importance--
	}

	if importance < models.MinImportance {
		importance = models.MinImportance
	}
	if importance > models.MaxImportance {
		importance = models.MaxImportance
	}
	return importance
}

// Run recalibrates every memory in the scope, superseded ones included.
// Boost thresholds are scope-relative: twice the scope's mean link and
// access counts, floored at the configured minimums.
func (r *Recalibrator) Run(ctx context.Context, scope namespace.Scope) (*models.RecalibrateResponse, error) {
	memories, err := r.memories.ByPrefix(scope, store.PrefixOptions{IncludeSuperseded: true})
	if err != nil {
		return nil, fmt.Errorf("load scope: %w", err)
	}
	if len(memories) == 0 {
		return &models.RecalibrateResponse{}, nil
	}

	ids := make([]string, len(memories))
	for i, m := range memories {
		ids[i] = m.ID
	}
	linkCounts, err := r.links.CountForMemories(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("count links: %w", err)
	}

	linkThreshold, accessThreshold := r.thresholds(memories, linkCounts)

	now := time.Now()
	resp := &models.RecalibrateResponse{Examined: len(memories)}
	for _, m := range memories {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		target := Target(Signals{
			BaseImportance: m.BaseImportance,
			LinkCount:      linkCounts[m.ID],
			AccessCount:    m.AccessCount,
			AgeDays:        now.Sub(time.Unix(m.CreatedAt, 0)).Hours() / 24,
			Superseded:     m.IsSuperseded(),
		}, r.cfg, linkThreshold, accessThreshold)

		if target == m.Importance {
			continue
		}
		if err := r.memories.SetImportance(m.ID, target); err != nil {
			return nil, fmt.Errorf("set importance for %s: %w", m.ID, err)
		}
		resp.Adjusted++
	}

	r.logger.Info("recalibration pass complete",
		"scope", scope.String(),
		"examined", resp.Examined,
		"adjusted", resp.Adjusted,
		"linkThreshold", linkThreshold,
		"accessThreshold", accessThreshold)
	return resp, nil
}

// thresholds derives the scope-relative boost cutoffs from live memories
// only, so a heavily superseded scope does not drag the mean down.
func (r *Recalibrator) thresholds(memories []*models.Memory, linkCounts map[string]int) (linkT, accessT int) {
	live := 0
	totalLinks, totalAccesses := 0, 0
	for _, m := range memories {
		if m.IsSuperseded() {
			continue
		}
		live++
		totalLinks += linkCounts[m.ID]
		totalAccesses += m.AccessCount
	}

	linkT = r.cfg.LinkBoostMin
	accessT = r.cfg.AccessBoostMin
	if live > 0 {
		if t := 2 * totalLinks / live; t > linkT {
			linkT = t
		}
		if t := 2 * totalAccesses / live; t > accessT {
			accessT = t
		}
	}
	return linkT, accessT
}
