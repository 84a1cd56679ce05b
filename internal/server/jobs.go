package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sightline-analytics/costlens/internal/model"
	"github.com/sightline-analytics/costlens/internal/store"
)

// handleSubmitJob accepts a multipart billing file upload with a source tag
// and returns the created job.
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "missing file field")
		return
	}
	defer file.Close()

	source := r.FormValue("source")
	if source == "" {
		source = "auto"
	}

	job, err := s.manager.Submit(r.Context(), userID(r), source, header.Filename, file, header.Size)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.manager.GetStatus(r.Context(), chi.URLParam(r, "jobID"), userID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	filter := store.JobFilter{
		UserID: userID(r),
		Status: model.JobStatus(r.URL.Query().Get("status")),
		Source: r.URL.Query().Get("source"),
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}
	jobs, err := s.manager.ListJobs(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "count": len(jobs)})
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.manager.Cancel(r.Context(), chi.URLParam(r, "jobID"), userID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
