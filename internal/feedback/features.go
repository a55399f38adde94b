package feedback

import (
	"fmt"
	"math"
	"time"

	"github.com/rand/mnemosyne-sub002/internal/models"
)

// Feature names, in canonical order. The learner persists one weight per
// name per scope, so the set is part of the storage contract.
const (
	FeatureKeywordOverlap  = "keyword_overlap"
	FeatureRecency         = "recency"
	FeatureAccessFrequency = "access_frequency"
	FeatureSuccessRate     = "success_rate"
)

// FeatureNames lists all features in canonical order.
var FeatureNames = []string{
	FeatureKeywordOverlap,
	FeatureRecency,
	FeatureAccessFrequency,
	FeatureSuccessRate,
}

// Vector is a feature vector keyed by feature name. All values lie in
// [0, 1]; the extractor never emits anything outside that range.
type Vector map[string]float64

// Validate rejects vectors containing NaN, Inf, or out-of-range values so
// corrupt data can never reach a scope's persisted weights.
func (v Vector) Validate() error {
	for name, val := range v {
		if math.IsNaN(val) || math.IsInf(val, 0) || val < 0 || val > 1 {
			return fmt.Errorf("feature %s = %v: %w", name, val, models.ErrCorruptFeatures)
		}
	}
	return nil
}

// Dot computes the weighted sum of the vector under the given weights.
// Missing weights contribute zero.
func (v Vector) Dot(weights map[string]float64) float64 {
	var sum float64
	for name, val := range v {
		sum += weights[name] * val
	}
	return sum
}

// ContextHistory is the aggregate interaction record of one context,
// derived from filtered evaluations. It carries statistics only, never
// content.
type ContextHistory struct {
	TimesProvided int
	TimesUseful   int
	Accesses      int
	CreatedAt     time.Time
}

// Extract computes the feature vector for a context against a task. All
// inputs are already privacy-filtered; the extraction itself is a pure
// function of statistics.
func Extract(taskKeywords, contextKeywords []string, hist ContextHistory, now time.Time) Vector {
	return Vector{
		FeatureKeywordOverlap:  Jaccard(taskKeywords, contextKeywords),
		FeatureRecency:         recencyScore(hist.CreatedAt, now),
		FeatureAccessFrequency: frequencyScore(hist.Accesses, hist.CreatedAt, now),
		FeatureSuccessRate:     successRate(hist.TimesUseful, hist.TimesProvided),
	}
}

// Jaccard computes set overlap between two keyword lists. Empty lists
// produce zero, not NaN.
func Jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]struct{}, len(a))
	for _, k := range a {
		setA[k] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, k := range b {
		setB[k] = struct{}{}
	}
	intersection := 0
	for k := range setA {
		if _, ok := setB[k]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// recencyScore maps age in days to (0, 1]; a context created now scores 1
// and the score halves roughly every day of age.
func recencyScore(createdAt, now time.Time) float64 {
	days := now.Sub(createdAt).Hours() / 24
	if days < 0 {
		days = 0
	}
	return 1 / (1 + days)
}

// frequencyScore maps accesses-per-active-day to [0, 1) with diminishing
// returns, so a runaway hot record cannot saturate the whole score.
func frequencyScore(accesses int, createdAt, now time.Time) float64 {
	if accesses <= 0 {
		return 0
	}
	daysActive := now.Sub(createdAt).Hours() / 24
	if daysActive < 1 {
		daysActive = 1
	}
	perDay := float64(accesses) / daysActive
	return perDay / (1 + perDay)
}

func successRate(useful, provided int) float64 {
	if provided <= 0 {
		return 0
	}
	rate := float64(useful) / float64(provided)
	if rate > 1 {
		rate = 1
	}
	return rate
}
