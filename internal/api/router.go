package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/rand/mnemosyne-sub002/internal/memory"
	"github.com/rand/mnemosyne-sub002/internal/store"
)

// NewRouter creates the Chi router with all routes and middleware.
func NewRouter(
	db *store.DB,
	svc *memory.Service,
	apiKey string,
	logger *slog.Logger,
) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (runs on ALL routes including /health)
	r.Use(CORS)
	r.Use(RequestID)
	r.Use(Logger(logger))
	r.Use(Recovery(logger))

	healthH := NewHealthHandler(db, svc)
	memoryH := NewMemoryHandler(svc)
	feedbackH := NewFeedbackHandler(svc)
	adminH := NewAdminHandler(svc)

	// Unauthenticated routes
	r.Get("/health", healthH.Health)

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(apiKey))

		r.Route("/memories", func(r chi.Router) {
			r.Post("/", memoryH.Create)
			r.Post("/search", memoryH.Search)
			r.Get("/{id}", memoryH.Get)
			r.Get("/{id}/links", memoryH.Links)
			r.Post("/{id}/links", memoryH.Link)
			r.Post("/{id}/supersede", memoryH.Supersede)
		})

		r.Post("/feedback", feedbackH.Record)
		r.Post("/sessions/{id}/outcome", feedbackH.Outcome)

		r.Post("/consolidate", adminH.Consolidate)
		r.Post("/recalibrate", adminH.Recalibrate)
		r.Get("/stats", adminH.Stats)
	})

	return r
}
