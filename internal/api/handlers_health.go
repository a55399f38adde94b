package api

import (
	"net/http"

	"github.com/rand/mnemosyne-sub002/internal/memory"
	"github.com/rand/mnemosyne-sub002/internal/store"
)

type HealthHandler struct {
	db  *store.DB
	svc *memory.Service
}

func NewHealthHandler(db *store.DB, svc *memory.Service) *HealthHandler {
	return &HealthHandler{db: db, svc: svc}
}

// Health handles GET /health. Enrichment being down only degrades the
// report; the substrate serves retrieval without it.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := h.svc.Health(r.Context(), h.db)

	status := http.StatusOK
	if resp.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
