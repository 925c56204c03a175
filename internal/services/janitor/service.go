// -----------------------------------------------------------------------
// Janitor Service - sweeps jobs stuck in_progress past their deadline
// -----------------------------------------------------------------------

package janitor

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scrutor/internal/interfaces"
	"github.com/ternarybob/scrutor/internal/models"
)

// DefaultSchedule runs the sweep every five minutes
const DefaultSchedule = "*/5 * * * *"

// Service periodically fails in_progress jobs whose handler died without
// settling them. The per-job transition machinery makes the sweep safe to
// race against a live handler: whoever transitions first wins, the loser
// sees InvalidTransitionError and backs off.
type Service struct {
	jobs          interfaces.JobStorage
	events        interfaces.EventService
	cron          *cron.Cron
	maxInProgress time.Duration
	logger        arbor.ILogger
}

func NewService(jobs interfaces.JobStorage, events interfaces.EventService, maxInProgress time.Duration, logger arbor.ILogger) *Service {
	return &Service{
		jobs:          jobs,
		events:        events,
		cron:          cron.New(),
		maxInProgress: maxInProgress,
		logger:        logger,
	}
}

// Start schedules the sweep
func (s *Service) Start(schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}

	_, err := s.cron.AddFunc(schedule, func() {
		if _, err := s.Sweep(context.Background()); err != nil {
			s.logger.Error().Err(err).Msg("Stale job sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid janitor schedule %q: %w", schedule, err)
	}

	s.cron.Start()
	s.logger.Info().
		Str("schedule", schedule).
		Str("max_in_progress", s.maxInProgress.String()).
		Msg("Janitor started")
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish
func (s *Service) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Sweep fails every in_progress job older than the deadline and publishes
// its failed end event. Returns the number of jobs settled.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.maxInProgress)

	stale, err := s.jobs.ListStale(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale jobs: %w", err)
	}

	swept := 0
	for _, job := range stale {
		if err := s.sweepJob(ctx, job); err != nil {
			s.logger.Warn().
				Str("job_id", job.ID).
				Err(err).
				Msg("Failed to sweep stale job")
			continue
		}
		swept++
	}

	if swept > 0 {
		s.logger.Info().Int("swept", swept).Msg("Stale jobs settled as failed")
	}
	return swept, nil
}

func (s *Service) sweepJob(ctx context.Context, job *models.AnalysisJob) error {
	errMsg := fmt.Sprintf("analysis timed out after %s", s.maxInProgress)

	_, err := s.jobs.Transition(ctx, job.ID, models.JobStatusFailed, models.TransitionFields{
		Error: errMsg,
	})
	if err != nil {
		// A handler settled the job between listing and transition
		return err
	}

	return s.events.Publish(ctx, interfaces.EndEventFor(job.Kind), s.failedEnd(job, errMsg))
}

func (s *Service) failedEnd(job *models.AnalysisJob, errMsg string) interface{} {
	switch job.Kind {
	case models.KindWebsiteContent:
		return &models.WebsiteContentEnd{
			JobID:  job.ID,
			Status: models.EventStatusFailed,
			Error:  errMsg,
		}
	default:
		return &models.GithubRepoEnd{
			JobID:  job.ID,
			Status: models.EventStatusFailed,
			Error:  errMsg,
		}
	}
}
