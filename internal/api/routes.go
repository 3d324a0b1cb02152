package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures all API routes.
func SetupRoutes(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check (no auth required)
	r.Get("/health", h.HealthCheck)

	// Provider webhooks. The provider retries on non-2xx, so this route
	// only fails for input the provider should never send twice.
	r.Post("/webhooks/provider", h.ProviderWebhook)

	r.Route("/api", func(r chi.Router) {
		r.Post("/campaigns/{campaignID}/enroll", h.EnrollContact)
		r.Get("/contacts/{contactID}/campaigns/{campaignID}/sequence", h.SequenceStatus)
		r.Get("/stats", h.Stats)
	})

	return r
}
