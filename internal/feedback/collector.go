// Package feedback captures interaction signals between an agent's task and
// the contexts it was given, filtered down to statistics the learner is
// allowed to see. Raw task text never reaches disk.
package feedback

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rand/mnemosyne-sub002/internal/models"
	"github.com/rand/mnemosyne-sub002/internal/privacy"
	"github.com/rand/mnemosyne-sub002/internal/store"
)

// Collector records signal events against evaluations. Every record passes
// through the privacy filter before persistence.
type Collector struct {
	evals  *store.EvaluationStore
	logger *slog.Logger
}

func NewCollector(evals *store.EvaluationStore, logger *slog.Logger) *Collector {
	return &Collector{evals: evals, logger: logger}
}

// Record processes one signal. A "provided" signal opens a new evaluation
// and returns its id; the other signals attach to the latest open
// evaluation for the (session, context) pair.
func (c *Collector) Record(req *models.FeedbackRequest) (string, error) {
	if req.SessionID == "" {
		return "", &models.ValidationError{Field: "sessionId", Reason: "required"}
	}
	if req.ContextID == "" {
		return "", &models.ValidationError{Field: "contextId", Reason: "required"}
	}

	switch req.Signal {
	case models.SignalProvided:
		return c.open(req)
	case models.SignalAccessed:
		id, err := c.evals.LatestOpenID(req.SessionID, req.ContextID)
		if err != nil {
			return "", err
		}
		return id, c.evals.MarkAccessed(id, req.TimeToAccessMs)
	case models.SignalEdited:
		id, err := c.evals.LatestOpenID(req.SessionID, req.ContextID)
		if err != nil {
			return "", err
		}
		return id, c.evals.MarkEdited(id)
	case models.SignalCommitted:
		id, err := c.evals.LatestOpenID(req.SessionID, req.ContextID)
		if err != nil {
			return "", err
		}
		return id, c.evals.MarkCommitted(id)
	default:
		return "", &models.ValidationError{Field: "signal", Reason: "unknown signal type"}
	}
}

func (c *Collector) open(req *models.FeedbackRequest) (string, error) {
	if req.Task == "" {
		return "", &models.ValidationError{Field: "task", Reason: "required for provided signal"}
	}

	eval := &models.Evaluation{
		ID:          uuid.New().String(),
		SessionID:   req.SessionID,
		ContextType: req.ContextType,
		ContextID:   req.ContextID,
		TaskHash:    string(privacy.HashTask(req.Task)),
		ProvidedAt:  time.Now().Unix(),
		Keywords:    privacy.FilterKeywords(req.Keywords),
	}
	if eval.ContextType == "" {
		eval.ContextType = "memory"
	}

	if err := c.evals.Insert(eval); err != nil {
		return "", err
	}
	return eval.ID, nil
}

// OpenForSession lists the session's uncompleted evaluations for terminal
// outcome processing.
func (c *Collector) OpenForSession(sessionID string) ([]*models.Evaluation, error) {
	return c.evals.OpenForSession(sessionID)
}

// Complete marks an evaluation's terminal outcome.
func (c *Collector) Complete(id string, successScore float64) error {
	if successScore < 0 || successScore > 1 {
		return &models.ValidationError{Field: "successScore", Reason: "must be in [0,1]"}
	}
	return c.evals.Complete(id, successScore)
}

// Sweep expires evaluations whose parent task never reported an outcome.
// Expired records are deleted, not completed, so they can never fold into
// the learner's weights.
func (c *Collector) Sweep(ttl time.Duration) (int64, error) {
	cutoff := time.Now().Add(-ttl).Unix()
	n, err := c.evals.DeleteStale(cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		c.logger.Info("expired stale evaluations", "count", n)
	}
	return n, nil
}
