package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/clipwave/clipwave/internal/jobs"
	"github.com/clipwave/clipwave/pkg/log"
)

type submitJobRequest struct {
	SourceURL    string `json:"source_url"`
	Instructions string `json:"instructions"`
	Owner        string `json:"owner"`
}

type submitJobResponse struct {
	JobID  string      `json:"job_id"`
	Status jobs.Status `json:"status"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if strings.TrimSpace(req.SourceURL) == "" {
		writeError(w, http.StatusBadRequest, "source_url is required")
		return
	}

	job := s.queue.Submit(jobs.SubmitRequest{
		SourceURL:    req.SourceURL,
		Instructions: req.Instructions,
		Owner:        req.Owner,
	})
	writeJSON(w, http.StatusAccepted, submitJobResponse{
		JobID:  job.ID,
		Status: job.Status,
	})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs": s.queue.List(owner),
	})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := s.visibleJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	owner := r.URL.Query().Get("owner")

	if err := s.queue.Delete(id, owner); err != nil {
		writeQueueError(w, err)
		return
	}
	if err := s.layout.RemoveJob(id); err != nil {
		// The record is gone; the janitor reclaims any leftover files.
		log.Warn("Failed to remove artifacts of job %s: %v", id, err)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Job deleted successfully",
	})
}

func (s *Server) handleDownloadVideo(w http.ResponseWriter, r *http.Request) {
	job, ok := s.visibleJob(w, r)
	if !ok {
		return
	}
	if job.Status != jobs.StatusCompleted || job.OutputPath == "" {
		writeError(w, http.StatusNotFound, "video not found or not ready")
		return
	}
	if _, err := os.Stat(job.OutputPath); err != nil {
		writeError(w, http.StatusNotFound, "video file not found")
		return
	}

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="clip_%s.mp4"`, job.ID))
	http.ServeFile(w, r, job.OutputPath)
}

// visibleJob loads the requested job and applies the owner scope. A job with
// an owner is hidden from callers presenting a different owner id.
func (s *Server) visibleJob(w http.ResponseWriter, r *http.Request) (*jobs.ClipJob, bool) {
	id := chi.URLParam(r, "id")
	owner := r.URL.Query().Get("owner")

	job, err := s.queue.Get(id)
	if err != nil {
		writeQueueError(w, err)
		return nil, false
	}
	if owner != "" && job.Owner != owner {
		writeError(w, http.StatusForbidden, "access denied")
		return nil, false
	}
	return job, true
}

func writeQueueError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, jobs.ErrForbidden):
		writeError(w, http.StatusForbidden, "access denied")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}
