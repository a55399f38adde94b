package api

import (
	"net/http"

	"github.com/rand/mnemosyne-sub002/internal/memory"
	"github.com/rand/mnemosyne-sub002/internal/models"
)

// AdminHandler exposes the maintenance passes and substrate stats.
type AdminHandler struct {
	svc *memory.Service
}

func NewAdminHandler(svc *memory.Service) *AdminHandler {
	return &AdminHandler{svc: svc}
}

// Consolidate handles POST /consolidate
func (h *AdminHandler) Consolidate(w http.ResponseWriter, r *http.Request) {
	var req models.ConsolidateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	resp, err := h.svc.Consolidate(r.Context(), &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Recalibrate handles POST /recalibrate
func (h *AdminHandler) Recalibrate(w http.ResponseWriter, r *http.Request) {
	var req models.RecalibrateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	resp, err := h.svc.Recalibrate(r.Context(), &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Stats handles GET /stats
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	resp, err := h.svc.Stats()
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
