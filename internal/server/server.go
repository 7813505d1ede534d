package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sandboxd/sandboxd/internal/jobs"
	"github.com/sandboxd/sandboxd/internal/registry"
	"github.com/sandboxd/sandboxd/internal/sandbox"
)

// Server exposes the orchestration layer over HTTP.
type Server struct {
	Manager     *sandbox.Manager
	Registry    *registry.Store
	Coordinator *jobs.Coordinator
}

func New(manager *sandbox.Manager, reg *registry.Store, coordinator *jobs.Coordinator) *Server {
	return &Server{
		Manager:     manager,
		Registry:    reg,
		Coordinator: coordinator,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health endpoint (no auth required, for probes)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/sandbox", s.handleGetSandbox)
			r.Post("/sandbox", s.handleCreateSandbox)
			r.Delete("/sandbox", s.handleDestroySandbox)
			r.Post("/sandbox/stop", s.handleStopSandbox)
			r.Get("/sandbox/health", s.handleAgentHealth)
			r.Get("/files", s.handleListFiles)
			r.Get("/file", s.handleReadFile)
			r.Put("/file", s.handleWriteFile)
			r.Post("/revert", s.handleRevert)
			r.Post("/plan", s.handleStreamPlan)
			r.Get("/jobs", s.handleListJobs)
		})
		r.Route("/projects/{projectID}/sandboxes", func(r chi.Router) {
			r.Get("/", s.handleListProjectSandboxes)
			r.Delete("/", s.handleDestroyProjectSandboxes)
		})
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.handleEnqueueJob)
			r.Get("/{jobID}", s.handleGetJob)
			r.Post("/{jobID}/cancel", s.handleCancelJob)
			r.Post("/{jobID}/restart", s.handleRestartJob)
		})
	})

	return r
}

func (s *Server) client(sessionID string) *sandbox.Client {
	return sandbox.NewClient(sessionID, s.Registry)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
