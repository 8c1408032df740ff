package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hward/sn2n/internal/pipeline"
)

// migrateRequest is the payload the browser-side capture posts.
type migrateRequest struct {
	Title           string            `json:"title"`
	DatabaseID      string            `json:"databaseId"`
	ContentHTML     string            `json:"contentHtml,omitempty"`
	ContentMarkdown string            `json:"contentMarkdown,omitempty"`
	URL             string            `json:"url,omitempty"`
	Properties      map[string]string `json:"properties,omitempty"`
}

// handleMigrate accepts captured page content and runs a migration.
// The call is synchronous by default, matching the capture client;
// pass ?async=1 to get a job id back immediately.
func (s *Server) handleMigrate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	var req migrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Title == "" {
		jsonError(w, "title is required", http.StatusBadRequest)
		return
	}
	if req.DatabaseID == "" {
		jsonError(w, "databaseId is required", http.StatusBadRequest)
		return
	}
	if req.ContentHTML == "" && req.ContentMarkdown == "" {
		jsonError(w, "contentHtml or contentMarkdown is required", http.StatusBadRequest)
		return
	}

	now := time.Now()
	job := &pipeline.Job{
		ID:         uuid.NewString(),
		Title:      req.Title,
		DatabaseID: req.DatabaseID,
		SourceURL:  req.URL,
		Status:     pipeline.StatusQueued,
		Phase:      "queued",
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	job.SetContent(req.ContentHTML, req.ContentMarkdown, req.Properties)

	if err := s.orchestrator.Submit(job); err != nil {
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	if r.URL.Query().Get("async") == "1" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]any{
			"job_id":   job.ID,
			"status":   job.Status,
			"poll_url": fmt.Sprintf("/api/w2n/%s/status", job.ID),
		})
		return
	}

	snap, done := s.waitForJob(r, job)
	if !done {
		jsonError(w, "migration still running; poll /api/w2n/"+job.ID+"/status", http.StatusGatewayTimeout)
		return
	}
	writeJobResult(w, snap)
}

// waitForJob polls the job until it reaches a terminal status or the
// request context ends.
func (s *Server) waitForJob(r *http.Request, job *pipeline.Job) (pipeline.Job, bool) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return job.Snapshot(), false
		case <-ticker.C:
			snap := job.Snapshot()
			switch snap.Status {
			case pipeline.StatusCompleted, pipeline.StatusPartial, pipeline.StatusFailed:
				return snap, true
			}
		}
	}
}

func writeJobResult(w http.ResponseWriter, snap pipeline.Job) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":    snap.Status == pipeline.StatusCompleted || snap.Status == pipeline.StatusPartial,
		"jobId":      snap.ID,
		"pageId":     snap.PageID,
		"url":        snap.PageURL,
		"status":     snap.Status,
		"progress":   snap.Progress,
		"validation": snap.Report,
	})
}

func (s *Server) handleMigrateStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job := s.orchestrator.GetJob(jobID)
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	snap := job.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"job_id":     snap.ID,
		"page_id":    snap.PageID,
		"status":     snap.Status,
		"phase":      snap.Phase,
		"progress":   snap.Progress,
		"validation": snap.Report,
	})
}

// handleSweep re-sweeps a page's marker tokens without re-running
// placement.
func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	pageID := chi.URLParam(r, "pageID")
	removed, err := s.orchestrator.SweepMarkers(r.Context(), pageID)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"page_id":        pageID,
		"removed_tokens": removed,
	})
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
