package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scrutor/internal/interfaces"
	"github.com/ternarybob/scrutor/internal/models"
)

// StartInfo is the kind-independent identity extracted from a start payload
type StartInfo struct {
	JobID   string
	AppID   string
	UserID  string
	Subject string
}

// KindSpec is the capability record for one job kind. A single Handler
// parameterized by a KindSpec covers every kind; adding a kind means adding a
// spec, not a handler.
type KindSpec struct {
	Kind models.JobKind

	// StartInfo extracts identity fields from the decoded start payload
	StartInfo func(payload interface{}) (StartInfo, error)

	// Analyze performs the kind-specific work and returns the detail value
	// that becomes the job result and the end-event detail
	Analyze func(ctx context.Context, subject string) (interface{}, error)

	// CompletedEnd builds the end payload for a successful run from the
	// serialized detail
	CompletedEnd func(jobID string, detail json.RawMessage) (interface{}, error)

	// FailedEnd builds the end payload for a failed run
	FailedEnd func(jobID, errMsg string) interface{}
}

// RetryConfig bounds the analysis attempts inside a single handler run
type RetryConfig struct {
	MaxAttempts int
	Backoff     time.Duration
}

// Handler consumes start events for one kind and drives the job through its
// lifecycle. Every state-changing action runs as a named step so a redelivered
// start event replays against cached step results instead of repeating work:
// at-least-once delivery in, exactly-once terminal transition and end event out.
type Handler struct {
	spec     KindSpec
	jobs     interfaces.JobStorage
	executor interfaces.StepExecutor
	events   interfaces.EventService
	retry    RetryConfig
	logger   arbor.ILogger
}

func NewHandler(spec KindSpec, jobs interfaces.JobStorage, executor interfaces.StepExecutor, events interfaces.EventService, retry RetryConfig, logger arbor.ILogger) *Handler {
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}
	return &Handler{
		spec:     spec,
		jobs:     jobs,
		executor: executor,
		events:   events,
		retry:    retry,
		logger:   logger,
	}
}

// Handle processes one delivery of a start event
func (h *Handler) Handle(ctx context.Context, event interfaces.Event) error {
	info, err := h.spec.StartInfo(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to extract job identity from %s payload: %w", event.Name, err)
	}

	if err := h.ensureJob(ctx, info); err != nil {
		return err
	}

	// Step 1: claim the job. A replayed delivery either finds the step
	// cached (and continues against further cached steps) or loses the
	// transition race and aborts here.
	_, err = RunStep(ctx, h.executor, info.JobID, "mark-in-progress", func(ctx context.Context) (*models.AnalysisJob, error) {
		started := time.Now()
		return h.jobs.Transition(ctx, info.JobID, models.JobStatusInProgress, models.TransitionFields{StartedAt: &started})
	})
	if err != nil {
		if isSettledElsewhere(err) {
			h.logger.Debug().
				Str("job_id", info.JobID).
				Str("kind", string(h.spec.Kind)).
				Msg("Job already claimed or settled, skipping redelivered start event")
			return nil
		}
		return err
	}

	h.logger.Info().
		Str("job_id", info.JobID).
		Str("kind", string(h.spec.Kind)).
		Str("subject", info.Subject).
		Msg("Analysis started")

	// Step 2: the actual analysis, with bounded retries inside the step so
	// the retry loop itself is never replayed once a result is cached
	detail, err := h.executor.Run(ctx, info.JobID, "do-analysis", func(ctx context.Context) (interface{}, error) {
		return h.analyzeWithRetry(ctx, info.Subject)
	})
	if err != nil {
		return h.settleFailed(ctx, info, err)
	}

	return h.settleCompleted(ctx, info, detail)
}

// ensureJob creates the pending job record when the start event arrived
// before one exists (the submission-time flow publishes without an app row)
func (h *Handler) ensureJob(ctx context.Context, info StartInfo) error {
	_, err := h.jobs.GetJob(ctx, info.JobID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, models.ErrJobNotFound) {
		return err
	}

	job := &models.AnalysisJob{
		ID:        info.JobID,
		AppID:     info.AppID,
		UserID:    info.UserID,
		Kind:      h.spec.Kind,
		Status:    models.JobStatusPending,
		Subject:   info.Subject,
		CreatedAt: time.Now(),
	}
	if err := h.jobs.CreateJob(ctx, job); err != nil {
		// Lost a create race with another delivery
		if _, getErr := h.jobs.GetJob(ctx, info.JobID); getErr == nil {
			return nil
		}
		return err
	}
	return nil
}

func (h *Handler) analyzeWithRetry(ctx context.Context, subject string) (interface{}, error) {
	var lastErr error
	for attempt := 1; attempt <= h.retry.MaxAttempts; attempt++ {
		detail, err := h.spec.Analyze(ctx, subject)
		if err == nil {
			return detail, nil
		}
		lastErr = err

		h.logger.Warn().
			Str("kind", string(h.spec.Kind)).
			Str("subject", subject).
			Int("attempt", attempt).
			Int("max_attempts", h.retry.MaxAttempts).
			Err(err).
			Msg("Analysis attempt failed")

		if attempt < h.retry.MaxAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(h.retry.Backoff * time.Duration(attempt)):
			}
		}
	}
	return nil, lastErr
}

// settleCompleted records the result, then publishes the end event. The order
// matters: the job record is authoritative, the event is the notification.
func (h *Handler) settleCompleted(ctx context.Context, info StartInfo, detail json.RawMessage) error {
	var result map[string]interface{}
	if err := json.Unmarshal(detail, &result); err != nil {
		return fmt.Errorf("failed to decode analysis detail for job %s: %w", info.JobID, err)
	}

	_, err := RunStep(ctx, h.executor, info.JobID, "mark-completed", func(ctx context.Context) (*models.AnalysisJob, error) {
		return h.jobs.Transition(ctx, info.JobID, models.JobStatusCompleted, models.TransitionFields{Result: result})
	})
	if err != nil {
		if isSettledElsewhere(err) {
			h.logger.Debug().Str("job_id", info.JobID).Msg("Job settled by another delivery")
			return nil
		}
		return err
	}

	_, err = RunStep(ctx, h.executor, info.JobID, "send-end-event", func(ctx context.Context) (interface{}, error) {
		payload, err := h.spec.CompletedEnd(info.JobID, detail)
		if err != nil {
			return nil, err
		}
		return payload, h.events.Publish(ctx, interfaces.EndEventFor(h.spec.Kind), payload)
	})
	if err != nil {
		return err
	}

	h.logger.Info().
		Str("job_id", info.JobID).
		Str("kind", string(h.spec.Kind)).
		Msg("Analysis completed")
	return nil
}

// settleFailed marks the job failed, then publishes the failed end event
func (h *Handler) settleFailed(ctx context.Context, info StartInfo, cause error) error {
	analysisErr := &models.AnalysisError{Kind: h.spec.Kind, Subject: info.Subject, Err: cause}
	var existing *models.AnalysisError
	if errors.As(cause, &existing) {
		analysisErr = existing
	}
	errMsg := analysisErr.Error()

	_, err := RunStep(ctx, h.executor, info.JobID, "mark-failed", func(ctx context.Context) (*models.AnalysisJob, error) {
		return h.jobs.Transition(ctx, info.JobID, models.JobStatusFailed, models.TransitionFields{Error: errMsg})
	})
	if err != nil {
		if isSettledElsewhere(err) {
			h.logger.Debug().Str("job_id", info.JobID).Msg("Job settled by another delivery")
			return nil
		}
		return err
	}

	_, err = RunStep(ctx, h.executor, info.JobID, "send-error-event", func(ctx context.Context) (interface{}, error) {
		payload := h.spec.FailedEnd(info.JobID, errMsg)
		return payload, h.events.Publish(ctx, interfaces.EndEventFor(h.spec.Kind), payload)
	})
	if err != nil {
		return err
	}

	h.logger.Warn().
		Str("job_id", info.JobID).
		Str("kind", string(h.spec.Kind)).
		Str("error", errMsg).
		Msg("Analysis failed")
	return nil
}

// isSettledElsewhere reports whether a transition error means another
// delivery already moved the job past the attempted status
func isSettledElsewhere(err error) bool {
	var invalid *models.InvalidTransitionError
	return errors.As(err, &invalid)
}
