// Package learner maintains per-scope relevance weights, updated online
// from task outcomes. Weights live only in the local database; they are
// never transmitted anywhere.
package learner

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/rand/mnemosyne-sub002/internal/feedback"
	"github.com/rand/mnemosyne-sub002/internal/models"
	"github.com/rand/mnemosyne-sub002/internal/store"
)

// confidenceHalfSample is the sample count at which a scope reaches 0.5
// confidence. Confidence saturates toward 1 as samples grow.
const confidenceHalfSample = 10

const (
	maxUpdateRetries = 5
	retryBaseDelay   = 10 * time.Millisecond
)

// Rates sets the per-scope learning rates. Session learns fastest,
// global slowest: responsiveness for the current task, stability for
// long-lived knowledge.
type Rates struct {
	Session float64
	Project float64
	Global  float64
}

// DefaultRates mirror the scope hierarchy's stability trade-off.
var DefaultRates = Rates{Session: 0.2, Project: 0.05, Global: 0.01}

// SessionScope builds the weight-table key for a session scope.
func SessionScope(sessionID string) string { return "session:" + sessionID }

// GlobalScope is the weight-table key shared by all feedback.
const GlobalScope = "global"

// Learner applies gradient-step updates to scope weights and resolves the
// scope chain for live scoring.
type Learner struct {
	weights       *store.WeightStore
	rates         Rates
	minConfidence float64
	blend         bool
	logger        *slog.Logger
}

func New(weights *store.WeightStore, rates Rates, minConfidence float64, blend bool, logger *slog.Logger) *Learner {
	return &Learner{
		weights:       weights,
		rates:         rates,
		minConfidence: minConfidence,
		blend:         blend,
		logger:        logger,
	}
}

// Observe folds one outcome into every relevant scope. sessionID is
// required; projectScope may be empty when the context lives outside a
// project namespace. Corrupt feature vectors are rejected before any scope
// is touched; a per-scope update is all-or-nothing.
func (l *Learner) Observe(sessionID, projectScope string, features feedback.Vector, actual float64) error {
	if err := features.Validate(); err != nil {
		return err
	}
	if actual < 0 || actual > 1 {
		return &models.ValidationError{Field: "outcome", Reason: "must be in [0,1]"}
	}

	type target struct {
		scope string
		rate  float64
	}
	targets := []target{{SessionScope(sessionID), l.rates.Session}}
	if projectScope != "" {
		targets = append(targets, target{projectScope, l.rates.Project})
	}
	targets = append(targets, target{GlobalScope, l.rates.Global})

	for _, t := range targets {
		if err := l.updateScope(t.scope, t.rate, features, actual); err != nil {
			return fmt.Errorf("update scope %s: %w", t.scope, err)
		}
	}
	return nil
}

// updateScope performs one gradient step under optimistic concurrency,
// retrying with backoff on version conflicts.
func (l *Learner) updateScope(scope string, rate float64, features feedback.Vector, actual float64) error {
	var lastErr error
	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay * time.Duration(1<<(attempt-1))
			time.Sleep(delay + time.Duration(rand.Int63n(int64(delay))))
		}

		sw, err := l.weights.Get(scope)
		if err != nil {
			return err
		}

		predicted := features.Dot(sw.Weights)
		residual := actual - predicted

		updated := make(map[string]float64, len(feedback.FeatureNames))
		for _, name := range feedback.FeatureNames {
			updated[name] = sw.Weights[name] + rate*residual*features[name]
		}

		err = l.weights.CompareAndSwap(scope, sw.Version, updated)
		if err == nil {
			return nil
		}
		if !errors.Is(err, models.ErrConflict) {
			return err
		}
		lastErr = err
		l.logger.Debug("weight update conflict, retrying", "scope", scope, "attempt", attempt+1)
	}
	return fmt.Errorf("weight update exhausted retries: %w", lastErr)
}

// Confidence maps a scope's sample count to [0, 1). It is monotonically
// non-decreasing: near zero with no samples, 0.5 at the half-sample point,
// approaching one as samples grow.
func Confidence(sampleCount int64) float64 {
	if sampleCount <= 0 {
		return 0
	}
	return float64(sampleCount) / float64(sampleCount+confidenceHalfSample)
}

// Resolved is the weight snapshot a scoring request uses.
type Resolved struct {
	Scope      string
	Weights    map[string]float64
	Confidence float64
	// Fallback is set when no scope cleared the confidence threshold and
	// the uniform default applies.
	Fallback bool
}

// UniformWeights is the fixed default when no scope has earned confidence.
func UniformWeights() map[string]float64 {
	w := make(map[string]float64, len(feedback.FeatureNames))
	for _, name := range feedback.FeatureNames {
		w[name] = 1.0 / float64(len(feedback.FeatureNames))
	}
	return w
}

// Resolve walks session, project, then global and returns the first scope
// whose confidence clears the minimum, or the uniform default. In blend
// mode the cleared scope is mixed with the next tier by confidence, which
// smooths the handoff as a young scope accumulates samples.
func (l *Learner) Resolve(sessionID, projectScope string) (*Resolved, error) {
	chain := []string{SessionScope(sessionID)}
	if projectScope != "" {
		chain = append(chain, projectScope)
	}
	chain = append(chain, GlobalScope)

	snapshots := make([]*store.ScopeWeights, 0, len(chain))
	for _, scope := range chain {
		sw, err := l.weights.Get(scope)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, sw)
	}

	for i, sw := range snapshots {
		conf := Confidence(sw.SampleCount)
		if conf < l.minConfidence {
			continue
		}
		if !l.blend || i == len(snapshots)-1 {
			return &Resolved{Scope: sw.Scope, Weights: copyWeights(sw.Weights), Confidence: conf}, nil
		}
		return blendScopes(sw, conf, snapshots[i+1]), nil
	}

	return &Resolved{Scope: "uniform", Weights: UniformWeights(), Fallback: true}, nil
}

func blendScopes(primary *store.ScopeWeights, primaryConf float64, next *store.ScopeWeights) *Resolved {
	nextWeights := next.Weights
	if next.SampleCount == 0 {
		nextWeights = UniformWeights()
	}
	blended := make(map[string]float64, len(feedback.FeatureNames))
	for _, name := range feedback.FeatureNames {
		blended[name] = primaryConf*primary.Weights[name] + (1-primaryConf)*nextWeights[name]
	}
	return &Resolved{
		Scope:      primary.Scope + "+" + next.Scope,
		Weights:    blended,
		Confidence: primaryConf,
	}
}

func copyWeights(w map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}
