package server

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sandboxd/sandboxd/internal/sandbox"
)

// proxyError maps sandbox client errors onto HTTP statuses.
func proxyError(w http.ResponseWriter, sessionID string, err error) {
	var opErr *sandbox.OperationFailed
	switch {
	case errors.Is(err, sandbox.ErrUnavailable):
		http.Error(w, "sandbox not running", http.StatusConflict)
	case errors.Is(err, sandbox.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.As(err, &opErr):
		http.Error(w, opErr.Error(), http.StatusBadGateway)
	default:
		log.Printf("sandbox operation for session %s failed: %v", sessionID, err)
		http.Error(w, "sandbox operation failed", http.StatusInternalServerError)
	}
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	entries, err := s.client(sessionID).ListFiles(r.Context())
	if err != nil {
		proxyError(w, sessionID, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleReadFile(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	path := r.URL.Query().Get("path")
	if path == "" {
		http.Error(w, "path is required", http.StatusBadRequest)
		return
	}

	content, err := s.client(sessionID).ReadFile(r.Context(), path)
	if err != nil {
		proxyError(w, sessionID, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(content)
}

func (s *Server) handleWriteFile(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	path := r.URL.Query().Get("path")
	if path == "" {
		http.Error(w, "path is required", http.StatusBadRequest)
		return
	}

	content, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if err := s.client(sessionID).WriteFile(r.Context(), path, content); err != nil {
		proxyError(w, sessionID, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleRevert(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req struct {
		Commit     string `json:"commit"`
		Credential string `json:"credential"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Commit == "" {
		http.Error(w, "commit is required", http.StatusBadRequest)
		return
	}

	if err := s.client(sessionID).Revert(r.Context(), req.Commit, req.Credential); err != nil {
		proxyError(w, sessionID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleStreamPlan relays plan events from the sandbox agent to the caller as
// server-sent events. Client disconnect cancels the request context, which
// closes the upstream stream.
func (s *Server) handleStreamPlan(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req struct {
		Prompt string `json:"prompt"`
		Cwd    string `json:"cwd"`
		Resume bool   `json:"resume"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Prompt == "" {
		http.Error(w, "prompt is required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	events, err := s.client(sessionID).StreamPlan(r.Context(), req.Prompt, req.Cwd, sandbox.PlanOptions{Resume: req.Resume})
	if err != nil {
		proxyError(w, sessionID, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		if _, err := w.Write(append(append([]byte("data: "), data...), '\n', '\n')); err != nil {
			return
		}
		flusher.Flush()
	}
}
