package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"deedstudio/internal/handler"
	"deedstudio/internal/httputil"
	authmw "deedstudio/internal/transport/http/middleware"
)

// RouterConfig holds the dependencies needed to create routes
type RouterConfig struct {
	StudioHandler  *handler.StudioHandler
	PublishHandler *handler.PublishHandler
	PostHandler    *handler.PostHandler
	WebhookHandler *handler.WebhookHandler
	JWTSecret      string
}

// NewRouter creates and configures a new Chi router with all route groups
func NewRouter(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(authmw.Metrics)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	// Signed by the ingest platform, not by a user token
	r.Post("/webhooks/ingest", cfg.WebhookHandler.Ingest)

	r.Route("/studio", func(r chi.Router) {
		r.Use(authmw.AuthMiddleware(cfg.JWTSecret))

		r.Route("/selections", func(r chi.Router) {
			r.Post("/", cfg.StudioHandler.Create)
			r.Get("/{id}", cfg.StudioHandler.Get)
			r.Put("/{id}", cfg.StudioHandler.Replace)
			r.Delete("/{id}", cfg.StudioHandler.Delete)
			r.Post("/{id}/capture", cfg.StudioHandler.Capture)
			r.Put("/{id}/cover", cfg.StudioHandler.SetCover)
			r.Get("/{id}/candidates", cfg.StudioHandler.Candidates)
			r.Get("/{id}/candidates/{index}", cfg.StudioHandler.Candidate)
		})

		r.Post("/publish", cfg.PublishHandler.Publish)

		r.Route("/posts/{id}", func(r chi.Router) {
			r.Get("/", cfg.PostHandler.Get)
			r.Patch("/", cfg.PostHandler.Edit)
			r.Delete("/", cfg.PostHandler.Delete)
			r.Get("/progress", cfg.PostHandler.Progress)
		})
	})

	return r
}
