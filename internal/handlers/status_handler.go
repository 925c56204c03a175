package handlers

import (
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scrutor/internal/common"
	"github.com/ternarybob/scrutor/internal/interfaces"
	"github.com/ternarybob/scrutor/internal/models"
)

// StatusHandler handles HTTP requests for application status
type StatusHandler struct {
	jobStorage interfaces.JobStorage
	startTime  time.Time
	logger     arbor.ILogger
}

// NewStatusHandler creates a new StatusHandler
func NewStatusHandler(jobStorage interfaces.JobStorage, logger arbor.ILogger) *StatusHandler {
	return &StatusHandler{
		jobStorage: jobStorage,
		startTime:  time.Now(),
		logger:     logger,
	}
}

// GetStatusHandler handles GET /api/status
func (h *StatusHandler) GetStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	counts := make(map[string]int)
	for _, status := range []models.JobStatus{
		models.JobStatusPending,
		models.JobStatusInProgress,
		models.JobStatusCompleted,
		models.JobStatusFailed,
	} {
		count, err := h.jobStorage.CountJobs(r.Context(), status)
		if err != nil {
			h.logger.Error().Err(err).Msg("Failed to count jobs")
			WriteError(w, http.StatusInternalServerError, "Failed to collect status")
			return
		}
		counts[string(status)] = count
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"service": "scrutor",
		"version": common.GetVersion(),
		"uptime":  time.Since(h.startTime).Round(time.Second).String(),
		"jobs":    counts,
	})
}
