package handler

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/roster/roster/internal/middleware"
)

// RouterConfig collects the handlers mounted by NewRouter.
type RouterConfig struct {
	Users              *UserHandler
	Jobs               *JobHandler
	Stats              *StatsHandler
	Health             *HealthHandler
	Metrics            *MetricsHandler
	MaxRequestBodySize int64
	Logger             *slog.Logger
}

// NewRouter configures the chi router with all routes and middleware.
func NewRouter(cfg RouterConfig) *chi.Mux {
	h := New()
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recoverer(cfg.Logger))
	r.Use(middleware.APIHeaders)

	r.Get("/healthz", cfg.Health.Healthz)
	r.Get("/readyz", cfg.Health.Readyz)
	r.Get("/metrics", cfg.Metrics.Metrics)

	r.Group(func(r chi.Router) {
		r.Use(middleware.MaxBodySize(cfg.MaxRequestBodySize))

		r.Route("/users", func(r chi.Router) {
			r.Get("/", cfg.Users.List)
			r.Post("/", cfg.Users.Create)
			r.Get("/search", cfg.Users.Search)
			r.Post("/export", cfg.Jobs.Export)
			r.Post("/import", cfg.Jobs.Import)
			r.Delete("/email/{email}", cfg.Users.Delete)
			r.Get("/{id}", cfg.Users.Get)
			r.Put("/{id}", cfg.Users.Update)
			r.Patch("/{id}", cfg.Users.Update)
		})

		r.Get("/jobs", cfg.Jobs.ListRuns)
		r.Get("/jobs/{id}", cfg.Jobs.GetRun)
		r.Get("/stats", cfg.Stats.Stats)
	})

	r.NotFound(h.NotFound)
	r.MethodNotAllowed(h.MethodNotAllowed)

	return r
}
