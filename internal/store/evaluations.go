package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rand/mnemosyne-sub002/internal/models"
)

// EvaluationStore persists privacy-filtered feedback records. The store is
// purely local: it is never transmitted anywhere and is excluded from
// backup/sync paths by convention.
type EvaluationStore struct {
	db *DB
}

func NewEvaluationStore(db *DB) *EvaluationStore {
	return &EvaluationStore{db: db}
}

// Insert persists an evaluation. The caller (the feedback collector) has
// already run the privacy filter; the task_hash length CHECK is the last
// line of defense against raw task text reaching disk.
func (s *EvaluationStore) Insert(e *models.Evaluation) error {
	var keywordsJSON *string
	if len(e.Keywords) > 0 {
		b, _ := json.Marshal(e.Keywords)
		str := string(b)
		keywordsJSON = &str
	}
	_, err := s.db.Exec(`
		INSERT INTO evaluations (
			id, session_id, context_type, context_id, task_hash,
			provided_at, accessed_at, time_to_access_ms,
			edited, committed, completed, success_score, keywords
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.SessionID, e.ContextType, e.ContextID, e.TaskHash,
		e.ProvidedAt, e.AccessedAt, e.TimeToAccessMs,
		e.Edited, e.Committed, e.Completed, e.SuccessScore, keywordsJSON,
	)
	if err != nil {
		return fmt.Errorf("insert evaluation: %w", err)
	}
	return nil
}

// Get fetches a single evaluation by id.
func (s *EvaluationStore) Get(id string) (*models.Evaluation, error) {
	row := s.db.QueryRow(`
		SELECT id, session_id, context_type, context_id, task_hash,
			provided_at, accessed_at, time_to_access_ms,
			edited, committed, completed, success_score, keywords
		FROM evaluations WHERE id = ?
	`, id)

	var e models.Evaluation
	var accessedAt, tta sql.NullInt64
	var score sql.NullFloat64
	var keywordsJSON sql.NullString
	err := row.Scan(
		&e.ID, &e.SessionID, &e.ContextType, &e.ContextID, &e.TaskHash,
		&e.ProvidedAt, &accessedAt, &tta,
		&e.Edited, &e.Committed, &e.Completed, &score, &keywordsJSON,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("evaluation %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get evaluation: %w", err)
	}
	if accessedAt.Valid {
		e.AccessedAt = &accessedAt.Int64
	}
	if tta.Valid {
		e.TimeToAccessMs = &tta.Int64
	}
	if score.Valid {
		e.SuccessScore = &score.Float64
	}
	if keywordsJSON.Valid {
		json.Unmarshal([]byte(keywordsJSON.String), &e.Keywords)
	}
	return &e, nil
}

// LatestOpenID returns the most recent uncompleted evaluation for a
// (session, context) pair, so follow-up signals attach to the right record.
func (s *EvaluationStore) LatestOpenID(sessionID, contextID string) (string, error) {
	var id string
	err := s.db.QueryRow(`
		SELECT id FROM evaluations
		WHERE session_id = ? AND context_id = ? AND completed = 0
		ORDER BY provided_at DESC LIMIT 1
	`, sessionID, contextID).Scan(&id)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("no open evaluation for context %s: %w", contextID, models.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("latest open evaluation: %w", err)
	}
	return id, nil
}

// OpenForSession returns every uncompleted evaluation in a session, oldest
// first. Used when the session's task reaches a terminal outcome.
func (s *EvaluationStore) OpenForSession(sessionID string) ([]*models.Evaluation, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, context_type, context_id, task_hash,
			provided_at, accessed_at, time_to_access_ms,
			edited, committed, completed, success_score, keywords
		FROM evaluations
		WHERE session_id = ? AND completed = 0
		ORDER BY provided_at
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("open evaluations: %w", err)
	}
	defer rows.Close()

	var evals []*models.Evaluation
	for rows.Next() {
		var e models.Evaluation
		var accessedAt, tta sql.NullInt64
		var score sql.NullFloat64
		var keywordsJSON sql.NullString
		if err := rows.Scan(
			&e.ID, &e.SessionID, &e.ContextType, &e.ContextID, &e.TaskHash,
			&e.ProvidedAt, &accessedAt, &tta,
			&e.Edited, &e.Committed, &e.Completed, &score, &keywordsJSON,
		); err != nil {
			return nil, fmt.Errorf("scan evaluation: %w", err)
		}
		if accessedAt.Valid {
			e.AccessedAt = &accessedAt.Int64
		}
		if tta.Valid {
			e.TimeToAccessMs = &tta.Int64
		}
		if score.Valid {
			e.SuccessScore = &score.Float64
		}
		if keywordsJSON.Valid {
			json.Unmarshal([]byte(keywordsJSON.String), &e.Keywords)
		}
		evals = append(evals, &e)
	}
	return evals, rows.Err()
}

// MarkAccessed records the access signal with its time-to-access.
func (s *EvaluationStore) MarkAccessed(id string, timeToAccessMs *int64) error {
	res, err := s.db.Exec(`
		UPDATE evaluations SET accessed_at = ?, time_to_access_ms = ? WHERE id = ?
	`, time.Now().Unix(), timeToAccessMs, id)
	if err != nil {
		return fmt.Errorf("mark accessed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("evaluation %s: %w", id, models.ErrNotFound)
	}
	return nil
}

// MarkEdited records the edited signal.
func (s *EvaluationStore) MarkEdited(id string) error {
	return s.markFlag(id, "edited")
}

// MarkCommitted records the committed signal.
func (s *EvaluationStore) MarkCommitted(id string) error {
	return s.markFlag(id, "committed")
}

func (s *EvaluationStore) markFlag(id, column string) error {
	res, err := s.db.Exec(
		fmt.Sprintf(`UPDATE evaluations SET %s = 1 WHERE id = ?`, column), id)
	if err != nil {
		return fmt.Errorf("mark %s: %w", column, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("evaluation %s: %w", id, models.ErrNotFound)
	}
	return nil
}

// Complete records the terminal outcome. Completing twice is rejected so a
// single evaluation cannot feed the learner more than once.
func (s *EvaluationStore) Complete(id string, successScore float64) error {
	res, err := s.db.Exec(`
		UPDATE evaluations SET completed = 1, success_score = ?
		WHERE id = ? AND completed = 0
	`, successScore, id)
	if err != nil {
		return fmt.Errorf("complete evaluation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		if err := s.db.QueryRow(`SELECT 1 FROM evaluations WHERE id = ?`, id).Scan(&exists); err == sql.ErrNoRows {
			return fmt.Errorf("evaluation %s: %w", id, models.ErrNotFound)
		}
		return &models.ValidationError{Field: "id", Reason: "evaluation already completed"}
	}
	return nil
}

// DeleteStale removes evaluations whose parent task never produced a
// terminal outcome. Expired partial records must never fold into the
// learner's weights, and completion is the only path into the learner, so
// deleting them is safe.
func (s *EvaluationStore) DeleteStale(olderThan int64) (int64, error) {
	res, err := s.db.Exec(`
		DELETE FROM evaluations WHERE completed = 0 AND provided_at < ?
	`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("delete stale evaluations: %w", err)
	}
	return res.RowsAffected()
}

// ContextStats aggregates the outcome history of one context (memory).
type ContextStats struct {
	Provided        int
	Useful          int // accessed, edited, or committed at least once
	Accesses        int
	FirstProvidedAt int64
}

// StatsForContexts returns per-context aggregates for feature extraction.
// A context is counted useful when the agent accessed, edited, or committed
// after it was provided.
func (s *EvaluationStore) StatsForContexts(ctx context.Context, contextIDs []string) (map[string]*ContextStats, error) {
	stats := make(map[string]*ContextStats, len(contextIDs))
	if len(contextIDs) == 0 {
		return stats, nil
	}
	placeholders := make([]string, len(contextIDs))
	args := make([]any, len(contextIDs))
	for i, id := range contextIDs {
		placeholders[i] = "?"
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT context_id,
			COUNT(*),
			SUM(CASE WHEN accessed_at IS NOT NULL OR edited = 1 OR committed = 1 THEN 1 ELSE 0 END),
			SUM(CASE WHEN accessed_at IS NOT NULL THEN 1 ELSE 0 END),
			MIN(provided_at)
		FROM evaluations
		WHERE context_id IN (%s)
		GROUP BY context_id
	`, strings.Join(placeholders, ",")), args...)
	if err != nil {
		return nil, fmt.Errorf("context stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		cs := &ContextStats{}
		if err := rows.Scan(&id, &cs.Provided, &cs.Useful, &cs.Accesses, &cs.FirstProvidedAt); err != nil {
			return nil, fmt.Errorf("scan context stats: %w", err)
		}
		stats[id] = cs
	}
	return stats, rows.Err()
}

// Count returns the total number of evaluation records.
func (s *EvaluationStore) Count() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM evaluations`).Scan(&n)
	return n, err
}
