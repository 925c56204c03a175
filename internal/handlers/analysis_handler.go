package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scrutor/internal/interfaces"
	"github.com/ternarybob/scrutor/internal/jobs"
	"github.com/ternarybob/scrutor/internal/models"
)

// AnalysisHandler handles HTTP requests for analysis jobs
type AnalysisHandler struct {
	jobService *jobs.Service
	jobStorage interfaces.JobStorage
	logger     arbor.ILogger
}

// NewAnalysisHandler creates a new AnalysisHandler
func NewAnalysisHandler(jobService *jobs.Service, jobStorage interfaces.JobStorage, logger arbor.ILogger) *AnalysisHandler {
	return &AnalysisHandler{
		jobService: jobService,
		jobStorage: jobStorage,
		logger:     logger,
	}
}

// submitRequest is the POST /api/analyses body. Exactly one of website or
// github must be set.
type submitRequest struct {
	AppID   string `json:"app_id"`
	UserID  string `json:"user_id"`
	Website string `json:"website,omitempty"`
	Github  string `json:"github,omitempty"`
}

// SubmitHandler handles POST /api/analyses. The analysis runs asynchronously;
// the response carries only the job ID to poll.
func (h *AnalysisHandler) SubmitHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	if req.UserID == "" {
		WriteError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if (req.Website == "") == (req.Github == "") {
		WriteError(w, http.StatusBadRequest, "Exactly one of website or github is required")
		return
	}

	var (
		job *models.AnalysisJob
		err error
	)
	if req.Website != "" {
		job, err = h.jobService.SubmitWebsite(r.Context(), req.AppID, req.UserID, req.Website)
	} else {
		job, err = h.jobService.SubmitRepo(r.Context(), req.AppID, req.UserID, req.Github)
	}
	if err != nil {
		h.logger.Warn().Err(err).Msg("Analysis submission rejected")
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.ID,
		"status": string(job.Status),
	})
}

// ListHandler handles GET /api/analyses with status/app_id/kind filters
func (h *AnalysisHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	limit, offset := GetPaginationParams(r)
	opts := &interfaces.JobListOptions{
		Status: r.URL.Query().Get("status"),
		AppID:  r.URL.Query().Get("app_id"),
		Kind:   r.URL.Query().Get("kind"),
		Limit:  limit,
		Offset: offset,
	}

	list, err := h.jobStorage.ListJobs(r.Context(), opts)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list analysis jobs")
		WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  list,
		"count": len(list),
	})
}

// GetHandler handles GET /api/analyses/{id}
func (h *AnalysisHandler) GetHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	jobID := strings.TrimPrefix(r.URL.Path, "/api/analyses/")
	if jobID == "" || strings.Contains(jobID, "/") {
		WriteError(w, http.StatusBadRequest, "Invalid job ID")
		return
	}

	job, err := h.jobStorage.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, models.ErrJobNotFound) {
			WriteError(w, http.StatusNotFound, "Job not found")
			return
		}
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to get analysis job")
		WriteError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}

	WriteJSON(w, http.StatusOK, job)
}
