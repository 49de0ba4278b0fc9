package server

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/teranos/intake/export"
	"github.com/teranos/intake/model"
	"github.com/teranos/intake/pipeline"
	"github.com/teranos/intake/version"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// HandleSubmitJob creates a job: POST /api/jobs
func (s *Server) HandleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req pipeline.SubmitRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}
	if strings.TrimSpace(req.OwnerID) == "" {
		writeError(w, http.StatusBadRequest, "ownerId is required")
		return
	}

	jobID, err := s.svc.SubmitJob(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.logger.Infow("Job submitted over HTTP", "job_id", shortID(jobID), "owner_id", req.OwnerID)
	writeJSON(w, http.StatusAccepted, SubmitResponse{JobID: jobID})
}

// HandleListJobs lists jobs: GET /api/jobs?owner=<id>&limit=<n>
func (s *Server) HandleListJobs(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r, 100)
	if !ok {
		return
	}
	jobs, err := s.svc.ListJobs(r.Context(), r.URL.Query().Get("owner"), limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []*model.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

// HandleGetJob returns one job: GET /api/jobs/{id}
func (s *Server) HandleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.svc.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// HandleDeleteJob removes a job: DELETE /api/jobs/{id}
func (s *Server) HandleDeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteJob(r.Context(), r.PathValue("id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleRetryJob re-runs the failed stage: POST /api/jobs/{id}/retry
func (s *Server) HandleRetryJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.svc.RetryJob(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, SubmitResponse{JobID: id})
}

// HandleListCandidates lists a job's candidates: GET /api/jobs/{id}/candidates
func (s *Server) HandleListCandidates(w http.ResponseWriter, r *http.Request) {
	candidates, err := s.svc.ListCandidates(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if candidates == nil {
		candidates = []*model.Candidate{}
	}
	writeJSON(w, http.StatusOK, candidates)
}

// HandleJobLogs returns log lines: GET /api/jobs/{id}/logs?limit=<n>
func (s *Server) HandleJobLogs(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r, 200)
	if !ok {
		return
	}
	id := r.PathValue("id")
	if _, err := s.svc.GetJob(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	logs, err := s.svc.JobLogs(r.Context(), id, limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if logs == nil {
		logs = []model.LogEntry{}
	}
	writeJSON(w, http.StatusOK, logs)
}

// HandleExport downloads the ranked candidates: GET /api/jobs/{id}/export
func (s *Server) HandleExport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, err := s.svc.GetJob(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	candidates, err := s.svc.ListCandidates(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, job, candidates); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="shortlist-%s.xlsx"`, job.ShortID()))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// HandleHealth reports liveness and queue depth: GET /health
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	info := version.Get()
	resp := HealthResponse{
		Status:  "ok",
		State:   s.getState().String(),
		Version: info.Version,
		Commit:  info.Short(),
		Clients: s.hub.Clients(),
	}
	if s.opts.Queue != nil {
		queued, running, err := s.opts.Queue.GetTaskCounts()
		if err != nil {
			s.logger.Warnw("Failed to count tasks", "error", err)
			resp.Status = "degraded"
		}
		resp.QueuedTasks, resp.RunningTask = queued, running
	}

	status := http.StatusOK
	if s.getState() != ServerStateRunning {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// HandleWebSocket streams an owner's job events: GET /ws?owner=<id>
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	owner := strings.TrimSpace(r.URL.Query().Get("owner"))
	if owner == "" {
		writeError(w, http.StatusBadRequest, "owner query parameter is required")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		s.logger.Debugw("WebSocket upgrade failed", "error", err)
		return
	}

	client := newClient(s.hub, conn, owner)
	if err := s.hub.register(client); err != nil {
		s.logger.Warnw("Rejecting WebSocket client", "owner_id", owner, "error", err)
		client.close()
		return
	}
	go client.writePump()
	go client.readPump()
}

func queryLimit(w http.ResponseWriter, r *http.Request, def int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	return n, true
}
