package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/desknow-ai/desknow/internal/api"
	"github.com/desknow-ai/desknow/internal/api/handlers"
	"github.com/desknow-ai/desknow/internal/api/middleware"
)

type RouterConfig struct {
	RAGHandler       *handlers.RAGHandler
	DocumentHandler  *handlers.DocumentHandler
	AnalyticsHandler *handlers.AnalyticsHandler
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	const maxBodyBytes int64 = 5 * 1024 * 1024

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog)
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/rag", func(r chi.Router) {
			r.Post("/query", cfg.RAGHandler.Query)
			r.Get("/health", cfg.RAGHandler.Health)
		})

		r.Route("/knowledge", func(r chi.Router) {
			r.Post("/ingest", cfg.DocumentHandler.Ingest)
			r.Route("/documents", func(r chi.Router) {
				r.Get("/", cfg.DocumentHandler.List)
				r.Get("/{id}", cfg.DocumentHandler.Get)
				r.Delete("/{id}", cfg.DocumentHandler.Delete)
			})
		})

		r.Route("/analytics", func(r chi.Router) {
			r.Get("/queries", cfg.AnalyticsHandler.ListQueries)
			r.Get("/stats", cfg.AnalyticsHandler.Stats)
		})
	})

	return r
}
