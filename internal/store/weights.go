package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/rand/mnemosyne-sub002/internal/models"
)

// ScopeWeights is the committed weight state for one learner scope.
type ScopeWeights struct {
	Scope       string
	Version     int64
	SampleCount int64
	// Weights maps feature name to weight. FeatureSamples tracks how many
	// updates each feature has absorbed.
	Weights        map[string]float64
	FeatureSamples map[string]int64
}

// WeightStore persists per-scope relevance weights with optimistic
// concurrency. Each scope is an independently owned resource: its version
// counter serializes concurrent feedback, while scoring reads always see the
// last-committed rows without waiting.
type WeightStore struct {
	db *DB
}

func NewWeightStore(db *DB) *WeightStore {
	return &WeightStore{db: db}
}

// Get returns the committed weights for a scope. A scope with no feedback
// yet returns an empty ScopeWeights with Version 0, which CompareAndSwap
// treats as "create on first write".
func (s *WeightStore) Get(scope string) (*ScopeWeights, error) {
	sw := &ScopeWeights{
		Scope:          scope,
		Weights:        make(map[string]float64),
		FeatureSamples: make(map[string]int64),
	}

	err := s.db.QueryRow(
		`SELECT version, sample_count FROM weight_scopes WHERE scope = ?`, scope,
	).Scan(&sw.Version, &sw.SampleCount)
	if err == sql.ErrNoRows {
		return sw, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get weight scope: %w", err)
	}

	rows, err := s.db.Query(
		`SELECT feature, weight, sample_count FROM relevance_weights WHERE scope = ?`, scope)
	if err != nil {
		return nil, fmt.Errorf("get weights: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var feature string
		var weight float64
		var samples int64
		if err := rows.Scan(&feature, &weight, &samples); err != nil {
			return nil, fmt.Errorf("scan weight: %w", err)
		}
		sw.Weights[feature] = weight
		sw.FeatureSamples[feature] = samples
	}
	return sw, rows.Err()
}

// CompareAndSwap commits a full weight-vector update for a scope if and only
// if the scope's version still equals expectedVersion. The whole vector is
// written in one transaction: a weight update is all-or-nothing. A lost race
// returns models.ErrConflict so the caller can re-read and retry.
func (s *WeightStore) CompareAndSwap(scope string, expectedVersion int64, weights map[string]float64) error {
	now := time.Now().Unix()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin weight update: %w", err)
	}
	defer tx.Rollback()

	if expectedVersion == 0 {
		// Lazily create the scope on first feedback. A concurrent creator
		// loses the race on the primary key and surfaces as a conflict;
		// every other failure is a storage error and must not look
		// retryable to the caller.
		if _, err := tx.Exec(`
			INSERT INTO weight_scopes (scope, version, sample_count, updated_at)
			VALUES (?, 1, 1, ?)
		`, scope, now); err != nil {
			var sqliteErr sqlite3.Error
			if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
				return fmt.Errorf("%w: scope %s created concurrently", models.ErrConflict, scope)
			}
			return fmt.Errorf("create weight scope: %w", err)
		}
	} else {
		res, err := tx.Exec(`
			UPDATE weight_scopes
			SET version = version + 1, sample_count = sample_count + 1, updated_at = ?
			WHERE scope = ? AND version = ?
		`, now, scope, expectedVersion)
		if err != nil {
			return fmt.Errorf("bump weight version: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: scope %s version %d is stale", models.ErrConflict, scope, expectedVersion)
		}
	}

	for feature, weight := range weights {
		if _, err := tx.Exec(`
			INSERT INTO relevance_weights (scope, feature, weight, sample_count, updated_at)
			VALUES (?, ?, ?, 1, ?)
			ON CONFLICT(scope, feature) DO UPDATE SET
				weight = excluded.weight,
				sample_count = relevance_weights.sample_count + 1,
				updated_at = excluded.updated_at
		`, scope, feature, weight, now); err != nil {
			return fmt.Errorf("upsert weight %s/%s: %w", scope, feature, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit weight update: %w", err)
	}
	return nil
}

// ScopeCount returns the number of scopes with learned weights.
func (s *WeightStore) ScopeCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM weight_scopes`).Scan(&n)
	return n, err
}

// DeleteScope removes a scope and its weights, used when the owning scope
// itself is deleted. Weights are never deleted otherwise.
func (s *WeightStore) DeleteScope(scope string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin delete scope: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM relevance_weights WHERE scope = ?`, scope); err != nil {
		return fmt.Errorf("delete weights: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM weight_scopes WHERE scope = ?`, scope); err != nil {
		return fmt.Errorf("delete weight scope: %w", err)
	}
	return tx.Commit()
}
