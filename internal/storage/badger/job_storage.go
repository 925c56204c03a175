package badger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scrutor/internal/interfaces"
	"github.com/ternarybob/scrutor/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// JobStorage implements the JobStorage interface for Badger.
// Transitions are linearized per job ID with a keyed mutex: the get/check/
// upsert sequence under the lock is the compare-and-set that keeps two
// concurrent deliveries of the same start event from both applying a step.
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	locks  sync.Map // jobID -> *sync.Mutex
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

func (s *JobStorage) lockFor(jobID string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(jobID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// CreateJob inserts a new job record. The record must be pending and unique.
func (s *JobStorage) CreateJob(ctx context.Context, job *models.AnalysisJob) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}
	if job.Status != models.JobStatusPending {
		return fmt.Errorf("new job must be pending, got %s", job.Status)
	}

	if err := s.db.Store().Insert(job.ID, job); err != nil {
		if err == badgerhold.ErrKeyExists {
			return fmt.Errorf("job already exists: %s", job.ID)
		}
		return fmt.Errorf("failed to save job: %w", err)
	}

	s.logger.Debug().
		Str("job_id", job.ID).
		Str("kind", string(job.Kind)).
		Str("app_id", job.AppID).
		Msg("Analysis job created")

	return nil
}

// GetJob returns the job or models.ErrJobNotFound
func (s *JobStorage) GetJob(ctx context.Context, jobID string) (*models.AnalysisJob, error) {
	var job models.AnalysisJob
	if err := s.db.Store().Get(jobID, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("%w: %s", models.ErrJobNotFound, jobID)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// Transition atomically moves the job to newStatus and applies fields.
// Rejects transitions the state machine does not allow, so a late or
// duplicate event can never reopen a terminal job.
func (s *JobStorage) Transition(ctx context.Context, jobID string, newStatus models.JobStatus, fields models.TransitionFields) (*models.AnalysisJob, error) {
	mu := s.lockFor(jobID)
	mu.Lock()
	defer mu.Unlock()

	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if !job.Status.CanTransitionTo(newStatus) {
		return nil, &models.InvalidTransitionError{
			JobID: jobID,
			From:  job.Status,
			To:    newStatus,
		}
	}

	from := job.Status
	job.Status = newStatus
	if fields.StartedAt != nil {
		job.StartedAt = fields.StartedAt
	}
	if fields.EndedAt != nil {
		job.EndedAt = fields.EndedAt
	}
	if fields.Result != nil {
		job.Result = fields.Result
	}
	if fields.Error != "" {
		job.Error = fields.Error
	}

	// Terminal records must satisfy the model invariants regardless of what
	// the caller passed
	if newStatus.IsTerminal() && job.EndedAt == nil {
		now := time.Now()
		job.EndedAt = &now
	}
	if newStatus == models.JobStatusFailed {
		job.Result = nil
	}
	if newStatus == models.JobStatusCompleted {
		job.Error = ""
	}

	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	// A terminal job accepts no further transitions, so its lock entry is no
	// longer needed; any caller that raced past the eviction reads the
	// committed terminal status and fails the transition check.
	if newStatus.IsTerminal() {
		s.locks.Delete(jobID)
	}

	s.logger.Debug().
		Str("job_id", jobID).
		Str("from", string(from)).
		Str("to", string(newStatus)).
		Msg("Job status transition")

	return job, nil
}

// ListJobs returns jobs matching the options, newest first by default
func (s *JobStorage) ListJobs(ctx context.Context, opts *interfaces.JobListOptions) ([]*models.AnalysisJob, error) {
	query := badgerhold.Where("ID").Ne("")

	if opts != nil {
		if opts.Status != "" {
			query = query.And("Status").Eq(models.JobStatus(opts.Status))
		}
		if opts.AppID != "" {
			query = query.And("AppID").Eq(opts.AppID)
		}
		if opts.Kind != "" {
			query = query.And("Kind").Eq(models.JobKind(opts.Kind))
		}
		if opts.Limit > 0 {
			query = query.Limit(opts.Limit)
		}
		if opts.Offset > 0 {
			query = query.Skip(opts.Offset)
		}
		if opts.OrderBy != "" {
			if opts.OrderDir == "DESC" {
				query = query.SortBy(opts.OrderBy).Reverse()
			} else {
				query = query.SortBy(opts.OrderBy)
			}
		} else {
			query = query.SortBy("CreatedAt").Reverse()
		}
	} else {
		query = query.SortBy("CreatedAt").Reverse()
	}

	var jobs []models.AnalysisJob
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	result := make([]*models.AnalysisJob, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

// CountJobs returns the number of jobs, optionally filtered by status
func (s *JobStorage) CountJobs(ctx context.Context, status models.JobStatus) (int, error) {
	query := badgerhold.Where("ID").Ne("")
	if status != "" {
		query = query.And("Status").Eq(status)
	}

	count, err := s.db.Store().Count(&models.AnalysisJob{}, query)
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return int(count), nil
}

// ListStale returns in_progress jobs whose StartedAt predates the cutoff
func (s *JobStorage) ListStale(ctx context.Context, cutoff time.Time) ([]*models.AnalysisJob, error) {
	var jobs []models.AnalysisJob
	query := badgerhold.Where("Status").Eq(models.JobStatusInProgress)
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list stale jobs: %w", err)
	}

	var stale []*models.AnalysisJob
	for i := range jobs {
		if jobs[i].StartedAt != nil && jobs[i].StartedAt.Before(cutoff) {
			stale = append(stale, &jobs[i])
		}
	}
	return stale, nil
}
