package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/scrutor/internal/models"
)

// JobListOptions controls job listing (the conventional CRUD read path)
type JobListOptions struct {
	Status   string
	AppID    string
	Kind     string
	Limit    int
	Offset   int
	OrderBy  string
	OrderDir string
}

// JobStorage is the persistence contract for analysis job records.
// Transition is the sole mutation point after creation and must be
// linearizable per job ID.
type JobStorage interface {
	// CreateJob inserts a new pending job for the subject
	CreateJob(ctx context.Context, job *models.AnalysisJob) error

	// GetJob returns the job or models.ErrJobNotFound
	GetJob(ctx context.Context, jobID string) (*models.AnalysisJob, error)

	// Transition atomically sets status plus any fields. Returns
	// models.ErrJobNotFound for unknown IDs and *models.InvalidTransitionError
	// when newStatus is unreachable from the current status.
	Transition(ctx context.Context, jobID string, newStatus models.JobStatus, fields models.TransitionFields) (*models.AnalysisJob, error)

	// ListJobs returns jobs matching the options
	ListJobs(ctx context.Context, opts *JobListOptions) ([]*models.AnalysisJob, error)

	// CountJobs returns the number of jobs, optionally filtered by status
	CountJobs(ctx context.Context, status models.JobStatus) (int, error)

	// ListStale returns in_progress jobs started before the cutoff
	ListStale(ctx context.Context, cutoff time.Time) ([]*models.AnalysisJob, error)
}

// StepStorage persists step results keyed by (jobID, stepName) so a replayed
// handler attempt can skip already-completed steps
type StepStorage interface {
	// SaveResult records a successful step execution
	SaveResult(ctx context.Context, jobID, stepName string, result []byte) error

	// GetResult returns the recorded result and whether one exists
	GetResult(ctx context.Context, jobID, stepName string) ([]byte, bool, error)
}

// StorageManager provides access to all storage interfaces
type StorageManager interface {
	JobStorage() JobStorage
	StepStorage() StepStorage
	Close() error
}
