package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sandboxd/sandboxd/internal/sandbox"
)

func (s *Server) handleGetSandbox(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	sb, err := s.Manager.Get(r.Context(), sessionID)
	if err != nil {
		log.Printf("failed to get sandbox for session %s: %v", sessionID, err)
		http.Error(w, "failed to get sandbox", http.StatusInternalServerError)
		return
	}
	if sb == nil {
		http.Error(w, "no sandbox for session", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, sb)
}

func (s *Server) handleCreateSandbox(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req struct {
		ProjectID      string `json:"projectId"`
		RepoURL        string `json:"repoUrl"`
		Branch         string `json:"branch"`
		RepoCredential string `json:"repoCredential"`
		ServicesMode   string `json:"servicesMode"`
		ModelAPIKey    string `json:"modelApiKey"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	sb, err := s.Manager.Create(r.Context(), sandbox.CreateSpec{
		SessionID:      sessionID,
		ProjectID:      req.ProjectID,
		RepoURL:        req.RepoURL,
		Branch:         req.Branch,
		RepoCredential: req.RepoCredential,
		ServicesMode:   req.ServicesMode,
		ModelAPIKey:    req.ModelAPIKey,
	})
	if err != nil {
		var perr *sandbox.ProvisioningError
		if errors.As(err, &perr) {
			log.Printf("provisioning failed for session %s: %v", sessionID, err)
			http.Error(w, "sandbox provisioning failed", http.StatusBadGateway)
			return
		}
		log.Printf("failed to create sandbox for session %s: %v", sessionID, err)
		http.Error(w, "failed to create sandbox", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, sb)
}

func (s *Server) handleDestroySandbox(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := s.Manager.Destroy(r.Context(), sessionID); err != nil {
		log.Printf("failed to destroy sandbox for session %s: %v", sessionID, err)
		http.Error(w, "failed to destroy sandbox", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStopSandbox(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := s.Manager.Stop(r.Context(), sessionID); err != nil {
		if errors.Is(err, sandbox.ErrUnavailable) {
			http.Error(w, "sandbox not running", http.StatusConflict)
			return
		}
		log.Printf("failed to stop sandbox for session %s: %v", sessionID, err)
		http.Error(w, "failed to stop sandbox", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAgentHealth(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	// Reconcile the registry record against the actual runtime before
	// trusting it.
	if _, err := s.Manager.Ensure(r.Context(), sessionID); err != nil {
		if errors.Is(err, sandbox.ErrUnavailable) {
			http.Error(w, "sandbox not running", http.StatusConflict)
			return
		}
		log.Printf("failed to verify sandbox for session %s: %v", sessionID, err)
		http.Error(w, "failed to check agent health", http.StatusInternalServerError)
		return
	}

	health, err := s.client(sessionID).AgentHealth(r.Context())
	if err != nil {
		log.Printf("agent health for session %s: %v", sessionID, err)
		http.Error(w, "failed to check agent health", http.StatusInternalServerError)
		return
	}
	if health == nil {
		writeJSON(w, http.StatusOK, map[string]any{"reachable": false})
		return
	}
	writeJSON(w, http.StatusOK, health)
}

func (s *Server) handleListProjectSandboxes(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	sandboxes, err := s.Manager.ListProject(r.Context(), projectID)
	if err != nil {
		log.Printf("failed to list sandboxes for project %s: %v", projectID, err)
		http.Error(w, "failed to list sandboxes", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, sandboxes)
}

func (s *Server) handleDestroyProjectSandboxes(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	destroyed, failed, err := s.Manager.DestroyAllProject(r.Context(), projectID)
	if err != nil {
		log.Printf("failed to destroy sandboxes for project %s: %v", projectID, err)
		http.Error(w, "failed to destroy sandboxes", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"destroyed": destroyed, "failed": failed})
}
