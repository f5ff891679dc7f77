package api

import (
	"log/slog"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/iconidentify/postgrabba/internal/api/handler"
	mw "github.com/iconidentify/postgrabba/internal/api/middleware"
)

// requestTimeout bounds ordinary API requests. Event streams and media
// transfers are exempt.
const requestTimeout = 2 * time.Minute

// Handlers groups the HTTP handlers the router mounts. Media and Monitor
// may be nil.
type Handlers struct {
	Posts   *handler.PostHandler
	Jobs    *handler.JobHandler
	Events  *handler.EventHandler
	Health  *handler.HealthHandler
	Media   *handler.MediaHandler
	Monitor *handler.MonitorHandler
}

// NewRouter creates the HTTP router with all routes configured.
func NewRouter(h Handlers, mediaPrefix, apiKey string, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.CleanPath) // Normalize paths (e.g., //ready -> /ready)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mw.Logger(logger))
	r.Use(mw.Recovery(logger))
	r.Use(mw.CORS)

	// Health endpoints (no auth)
	r.Get("/health", h.Health.Live)
	r.Get("/ready", h.Health.Ready)

	if h.Media != nil {
		prefix := "/" + strings.Trim(mediaPrefix, "/")
		r.With(mw.APIKeyAuth(apiKey)).Get(prefix+"/*", h.Media.Serve)
	}

	// API v1 (authenticated)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mw.APIKeyAuth(apiKey))

		// Long-lived SSE connection
		r.Get("/events/stream", h.Events.Stream)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))

			r.Get("/stats", h.Health.Stats)

			// Stored timeline
			r.Get("/posts", h.Posts.List)
			r.Get("/posts/{postID}", h.Posts.Get)
			r.Post("/posts/{postID}/comments/refresh", h.Jobs.RefreshComments)

			// Runs
			r.Post("/fetch", h.Jobs.Fetch)
			r.Post("/import", h.Jobs.Import)
			r.Get("/jobs", h.Jobs.List)
			r.Get("/jobs/{jobID}", h.Jobs.Get)

			// Activity log
			r.Get("/events", h.Events.List)
			r.Get("/events/recent", h.Events.Recent)
			r.Get("/events/stats", h.Events.Stats)
			r.Get("/events/categories", h.Events.Categories)

			// Periodic feed fetch
			if h.Monitor != nil {
				r.Get("/monitor", h.Monitor.Status)
				r.Post("/monitor/pause", h.Monitor.Pause)
				r.Post("/monitor/resume", h.Monitor.Resume)
				r.Post("/monitor/check", h.Monitor.CheckNow)
			}
		})
	})

	return r
}
