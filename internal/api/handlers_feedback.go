package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rand/mnemosyne-sub002/internal/memory"
	"github.com/rand/mnemosyne-sub002/internal/models"
)

type FeedbackHandler struct {
	svc *memory.Service
}

func NewFeedbackHandler(svc *memory.Service) *FeedbackHandler {
	return &FeedbackHandler{svc: svc}
}

// Record handles POST /feedback
func (h *FeedbackHandler) Record(w http.ResponseWriter, r *http.Request) {
	var req models.FeedbackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	evalID, err := h.svc.Feedback(&req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"evaluationId": evalID})
}

// Outcome handles POST /sessions/{id}/outcome: the terminal completion
// signal that closes the session's open evaluations and feeds the learner.
func (h *FeedbackHandler) Outcome(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	var req models.OutcomeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	processed, err := h.svc.Outcome(r.Context(), sessionID, &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"processed": processed})
}
