package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/rand/mnemosyne-sub002/internal/memory"
	"github.com/rand/mnemosyne-sub002/internal/models"
)

type MemoryHandler struct {
	svc *memory.Service
}

func NewMemoryHandler(svc *memory.Service) *MemoryHandler {
	return &MemoryHandler{svc: svc}
}

// Create handles POST /memories
func (h *MemoryHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.CreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	resp, err := h.svc.Create(r.Context(), &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, resp)
}

// Get handles GET /memories/{id}. With ?resolve=true a superseded memory
// resolves to the head of its supersession chain.
func (h *MemoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	resolve, _ := strconv.ParseBool(r.URL.Query().Get("resolve"))

	mem, err := h.svc.Get(id, resolve)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, mem)
}

// Search handles POST /memories/search
func (h *MemoryHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req models.SearchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	resp, err := h.svc.Search(r.Context(), &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Link handles POST /memories/{id}/links
func (h *MemoryHandler) Link(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req models.LinkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.TargetID == "" {
		writeError(w, http.StatusBadRequest, "targetId is required")
		return
	}

	if err := h.svc.Link(r.Context(), id, &req); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Links handles GET /memories/{id}/links
func (h *MemoryHandler) Links(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 50
	}

	links, err := h.svc.Links(r.Context(), id, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if links == nil {
		links = []models.Link{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"links": links})
}

// Supersede handles POST /memories/{id}/supersede
func (h *MemoryHandler) Supersede(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req models.SupersedeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.NewMemoryID == "" {
		writeError(w, http.StatusBadRequest, "newMemoryId is required")
		return
	}

	resp, err := h.svc.Supersede(r.Context(), id, req.NewMemoryID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
