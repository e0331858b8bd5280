// Package server exposes the engine over an HTTP API.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/strataworks/strata/internal/engine"
)

// Server is the strata HTTP API server.
type Server struct {
	engine  *engine.Engine
	router  chi.Router
	version string
	started time.Time
}

// New creates a new Server around an engine.
func New(eng *engine.Engine, version string) *Server {
	s := &Server{
		engine:  eng,
		version: version,
		started: time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Post("/artifacts", s.handleStoreArtifact)
		r.Get("/artifacts", s.handleGetArtifact)
		r.Get("/artifacts/similar", s.handleFindSimilar)
		r.Get("/artifacts/dependencies", s.handleDependencies)

		r.Get("/architecture", s.handleArchitecture)
		r.Get("/freshness", s.handleFreshness)
		r.Get("/timestamps", s.handleEffectiveTimestamp)
		r.Post("/scopes/touch", s.handleTouchScope)

		r.Post("/lifecycle", s.handleLifecycle)
		r.Get("/stale", s.handleStaleScopes)
		r.Get("/projects", s.handleProjects)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health, err := s.engine.CheckHealth()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":  health.Status,
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"engine":  health,
	})
}
