package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sandboxd/sandboxd/internal/db"
	"github.com/sandboxd/sandboxd/internal/jobs"
)

// jobView is the wire shape for a job row.
type jobView struct {
	ID           string          `json:"id"`
	SessionID    string          `json:"sessionId"`
	ProjectID    string          `json:"projectId"`
	Kind         string          `json:"kind"`
	Status       string          `json:"status"`
	CurrentStep  string          `json:"currentStep,omitempty"`
	StartCommit  string          `json:"startCommit,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Error        string          `json:"error,omitempty"`
	RestartCount int             `json:"restartCount"`
	ParentJobID  string          `json:"parentJobId,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	StartedAt    *time.Time      `json:"startedAt,omitempty"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"`
	Tasks        []taskView      `json:"tasks,omitempty"`
}

type taskView struct {
	ID       string `json:"id"`
	Position int    `json:"position"`
	Title    string `json:"title"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

func toJobView(j *db.Job, tasks []*db.Task) jobView {
	v := jobView{
		ID:           j.ID,
		SessionID:    j.SessionID,
		ProjectID:    j.ProjectID,
		Kind:         j.Kind,
		Status:       j.Status,
		CurrentStep:  j.CurrentStep.String,
		StartCommit:  j.StartCommit.String,
		Payload:      j.Payload,
		Error:        j.Error.String,
		RestartCount: j.RestartCount,
		ParentJobID:  j.ParentJobID.String,
		CreatedAt:    j.CreatedAt,
	}
	if j.StartedAt.Valid {
		t := j.StartedAt.Time
		v.StartedAt = &t
	}
	if j.CompletedAt.Valid {
		t := j.CompletedAt.Time
		v.CompletedAt = &t
	}
	for _, task := range tasks {
		v.Tasks = append(v.Tasks, taskView{
			ID:       task.ID,
			Position: task.Position,
			Title:    task.Title,
			Status:   task.Status,
			Error:    task.Error.String,
		})
	}
	return v
}

func (s *Server) handleEnqueueJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string       `json:"sessionId"`
		ProjectID string       `json:"projectId"`
		Kind      string       `json:"kind"`
		Payload   jobs.Payload `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.SessionID == "" || req.Kind == "" {
		http.Error(w, "sessionId and kind are required", http.StatusBadRequest)
		return
	}

	job, err := s.Coordinator.Enqueue(r.Context(), jobs.EnqueueRequest{
		SessionID: req.SessionID,
		ProjectID: req.ProjectID,
		Kind:      req.Kind,
		Payload:   req.Payload,
	})
	if err != nil {
		log.Printf("failed to enqueue %s job for session %s: %v", req.Kind, req.SessionID, err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, toJobView(job, nil))
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, err := s.Coordinator.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		log.Printf("failed to get job %s: %v", jobID, err)
		http.Error(w, "failed to get job", http.StatusInternalServerError)
		return
	}

	tasks, err := s.Coordinator.Tasks(r.Context(), jobID)
	if err != nil {
		log.Printf("failed to list tasks for job %s: %v", jobID, err)
		http.Error(w, "failed to get job", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toJobView(job, tasks))
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	list, err := s.Coordinator.ListBySession(r.Context(), sessionID)
	if err != nil {
		log.Printf("failed to list jobs for session %s: %v", sessionID, err)
		http.Error(w, "failed to list jobs", http.StatusInternalServerError)
		return
	}

	views := make([]jobView, 0, len(list))
	for _, j := range list {
		views = append(views, toJobView(j, nil))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if err := s.Coordinator.Cancel(r.Context(), jobID); err != nil {
		log.Printf("failed to cancel job %s: %v", jobID, err)
		http.Error(w, "failed to cancel job", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRestartJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, err := s.Coordinator.Restart(r.Context(), jobID)
	if err != nil {
		switch {
		case errors.Is(err, jobs.ErrJobNotFound):
			http.Error(w, "job not found", http.StatusNotFound)
		case errors.Is(err, jobs.ErrNotRestartable), errors.Is(err, jobs.ErrRestartLimit):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			log.Printf("failed to restart job %s: %v", jobID, err)
			http.Error(w, "failed to restart job", http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusCreated, toJobView(job, nil))
}
