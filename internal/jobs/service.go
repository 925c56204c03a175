package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scrutor/internal/common"
	"github.com/ternarybob/scrutor/internal/interfaces"
	"github.com/ternarybob/scrutor/internal/models"
)

// Service owns the job handlers and the submission flow. One handler per
// kind, each built from a KindSpec, subscribed to that kind's start event.
type Service struct {
	jobs     interfaces.JobStorage
	executor interfaces.StepExecutor
	events   interfaces.EventService
	website  interfaces.WebsiteAnalyzer
	repo     interfaces.RepoAnalyzer
	retry    RetryConfig
	logger   arbor.ILogger
}

func NewService(storage interfaces.StorageManager, events interfaces.EventService, website interfaces.WebsiteAnalyzer, repo interfaces.RepoAnalyzer, retry RetryConfig, logger arbor.ILogger) *Service {
	return &Service{
		jobs:     storage.JobStorage(),
		executor: NewExecutor(storage.StepStorage(), logger),
		events:   events,
		website:  website,
		repo:     repo,
		retry:    retry,
		logger:   logger,
	}
}

// RegisterHandlers subscribes the kind handlers to their start events.
// The submission-time scrape event is an alias for the github-repo start and
// shares its handler.
func (s *Service) RegisterHandlers() error {
	websiteHandler := NewHandler(s.websiteSpec(), s.jobs, s.executor, s.events, s.retry, s.logger)
	repoHandler := NewHandler(s.repoSpec(), s.jobs, s.executor, s.events, s.retry, s.logger)

	if err := s.events.Subscribe(interfaces.EventWebsiteContentStart, websiteHandler.Handle); err != nil {
		return err
	}
	if err := s.events.Subscribe(interfaces.EventGithubRepoStart, repoHandler.Handle); err != nil {
		return err
	}
	if err := s.events.Subscribe(interfaces.EventAppsSubmissionStart, repoHandler.Handle); err != nil {
		return err
	}

	s.logger.Info().Msg("Job handlers registered")
	return nil
}

// SubmitWebsite creates a pending website-content job and publishes its start
// event. Returns the created job; the analysis runs asynchronously.
func (s *Service) SubmitWebsite(ctx context.Context, appID, userID, websiteURL string) (*models.AnalysisJob, error) {
	job := &models.AnalysisJob{
		ID:        common.NewJobID(),
		AppID:     appID,
		UserID:    userID,
		Kind:      models.KindWebsiteContent,
		Status:    models.JobStatusPending,
		Subject:   websiteURL,
		CreatedAt: time.Now(),
	}
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	start := &models.WebsiteContentStart{
		JobID:   job.ID,
		AppID:   appID,
		UserID:  userID,
		Website: websiteURL,
		Status:  string(models.JobStatusPending),
	}
	if err := s.events.Publish(ctx, interfaces.EventWebsiteContentStart, start); err != nil {
		return nil, err
	}
	return job, nil
}

// SubmitRepo creates a pending github-repo job and publishes its start event.
// AppID may be empty for submission-time scrapes.
func (s *Service) SubmitRepo(ctx context.Context, appID, userID, repoURL string) (*models.AnalysisJob, error) {
	job := &models.AnalysisJob{
		ID:        common.NewJobID(),
		AppID:     appID,
		UserID:    userID,
		Kind:      models.KindGithubRepo,
		Status:    models.JobStatusPending,
		Subject:   repoURL,
		CreatedAt: time.Now(),
	}
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	start := &models.GithubRepoStart{
		JobID:  job.ID,
		AppID:  appID,
		UserID: userID,
		Github: repoURL,
		Status: string(models.JobStatusPending),
	}
	if err := s.events.Publish(ctx, interfaces.EventGithubRepoStart, start); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *Service) websiteSpec() KindSpec {
	return KindSpec{
		Kind: models.KindWebsiteContent,
		StartInfo: func(payload interface{}) (StartInfo, error) {
			start, ok := payload.(*models.WebsiteContentStart)
			if !ok {
				return StartInfo{}, fmt.Errorf("unexpected payload type %T", payload)
			}
			return StartInfo{JobID: start.JobID, AppID: start.AppID, UserID: start.UserID, Subject: start.Website}, nil
		},
		Analyze: func(ctx context.Context, subject string) (interface{}, error) {
			return s.website.Analyze(ctx, subject)
		},
		CompletedEnd: func(jobID string, detail json.RawMessage) (interface{}, error) {
			var d models.WebsiteDetail
			if err := json.Unmarshal(detail, &d); err != nil {
				return nil, err
			}
			return &models.WebsiteContentEnd{
				JobID:   jobID,
				Status:  models.EventStatusCompleted,
				Message: "website analysis completed",
				Detail:  &d,
			}, nil
		},
		FailedEnd: func(jobID, errMsg string) interface{} {
			return &models.WebsiteContentEnd{
				JobID:  jobID,
				Status: models.EventStatusFailed,
				Error:  errMsg,
			}
		},
	}
}

func (s *Service) repoSpec() KindSpec {
	return KindSpec{
		Kind: models.KindGithubRepo,
		StartInfo: func(payload interface{}) (StartInfo, error) {
			start, ok := payload.(*models.GithubRepoStart)
			if !ok {
				return StartInfo{}, fmt.Errorf("unexpected payload type %T", payload)
			}
			return StartInfo{JobID: start.JobID, AppID: start.AppID, UserID: start.UserID, Subject: start.Github}, nil
		},
		Analyze: func(ctx context.Context, subject string) (interface{}, error) {
			return s.repo.Analyze(ctx, subject)
		},
		CompletedEnd: func(jobID string, detail json.RawMessage) (interface{}, error) {
			var d models.RepoDetail
			if err := json.Unmarshal(detail, &d); err != nil {
				return nil, err
			}
			return &models.GithubRepoEnd{
				JobID:   jobID,
				Status:  models.EventStatusCompleted,
				Message: "repository analysis completed",
				Detail:  &d,
			}, nil
		},
		FailedEnd: func(jobID, errMsg string) interface{} {
			return &models.GithubRepoEnd{
				JobID:  jobID,
				Status: models.EventStatusFailed,
				Error:  errMsg,
			}
		},
	}
}
