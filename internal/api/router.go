// Package api wires the HTTP router for the Chainplane server.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/chainplane/chainplane/internal/api/handlers"
	"github.com/chainplane/chainplane/internal/api/middleware"
	"github.com/chainplane/chainplane/internal/config"
	"github.com/chainplane/chainplane/internal/registry"
	"github.com/chainplane/chainplane/internal/tracer"
)

// NewRouter creates the HTTP router over the injected core components.
func NewRouter(cfg *config.Config, reg *registry.Registry, tr *tracer.Tracer) http.Handler {
	h := handlers.New(cfg, reg, tr)

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)
	if cfg.Telemetry.Enabled {
		r.Use(middleware.Telemetry)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	// Health & info
	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler(cfg))

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/tools", func(r chi.Router) {
			r.Get("/", h.ListTools)
			r.Get("/capabilities", h.CapabilityMatrix)
			r.Post("/{toolName}/invoke", h.InvokeTool)
		})

		r.Route("/chains/{correlationID}", func(r chi.Router) {
			r.Get("/timeline", h.Timeline)
			r.Get("/spans", h.Spans)
			r.Get("/events", h.Events)
			r.Get("/export", h.Export)
		})

		r.Get("/trace/summary", h.TraceSummary)
	})

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"version":"` + cfg.Version + `"}`))
	}
}
