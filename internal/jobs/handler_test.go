package jobs

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scrutor/internal/common"
	"github.com/ternarybob/scrutor/internal/interfaces"
	"github.com/ternarybob/scrutor/internal/models"
	"github.com/ternarybob/scrutor/internal/services/events"
	"github.com/ternarybob/scrutor/internal/storage/badger"
)

type stubWebsiteAnalyzer struct {
	mu        sync.Mutex
	calls     int
	failFirst int
	detail    *models.WebsiteDetail
	err       error
}

func (s *stubWebsiteAnalyzer) Analyze(ctx context.Context, websiteURL string) (*models.WebsiteDetail, error) {
	// Mirrors a real analyzer's HTTP fetch, which fails on a dead context
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if s.calls <= s.failFirst {
		return nil, &models.AnalysisError{Kind: models.KindWebsiteContent, Subject: websiteURL, Err: context.DeadlineExceeded}
	}
	return s.detail, nil
}

func (s *stubWebsiteAnalyzer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubRepoAnalyzer struct {
	mu     sync.Mutex
	calls  int
	detail *models.RepoDetail
	err    error
}

func (s *stubRepoAnalyzer) Analyze(ctx context.Context, repoURL string) (*models.RepoDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.detail, nil
}

func (s *stubRepoAnalyzer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fixture struct {
	svc     *Service
	bus     *events.Service
	jobs    interfaces.JobStorage
	website *stubWebsiteAnalyzer
	repo    *stubRepoAnalyzer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := arbor.NewLogger()
	manager, err := badger.NewManager(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	bus := events.NewService(events.NewRegistry(), logger)
	t.Cleanup(func() { bus.Close() })

	website := &stubWebsiteAnalyzer{}
	repo := &stubRepoAnalyzer{}

	svc := NewService(manager, bus, website, repo, RetryConfig{MaxAttempts: 2, Backoff: time.Millisecond}, logger)
	require.NoError(t, svc.RegisterHandlers())

	return &fixture{
		svc:     svc,
		bus:     bus,
		jobs:    manager.JobStorage(),
		website: website,
		repo:    repo,
	}
}

func (f *fixture) collectEndEvents(t *testing.T, name interfaces.EventName) <-chan interfaces.Event {
	t.Helper()

	ch := make(chan interfaces.Event, 8)
	require.NoError(t, f.bus.Subscribe(name, func(ctx context.Context, event interfaces.Event) error {
		ch <- event
		return nil
	}))
	return ch
}

func waitForEvent(t *testing.T, ch <-chan interfaces.Event) interfaces.Event {
	t.Helper()

	select {
	case event := <-ch:
		return event
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for end event")
		return interfaces.Event{}
	}
}

func assertNoMoreEvents(t *testing.T, ch <-chan interfaces.Event) {
	t.Helper()

	select {
	case event := <-ch:
		t.Fatalf("unexpected extra event: %+v", event)
	case <-time.After(200 * time.Millisecond):
	}
}

// A submitted website job runs to completion: terminal record with result,
// one end event carrying the detail.
func TestWebsiteAnalysisCompletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.website.detail = &models.WebsiteDetail{
		Title:       "Example",
		Description: "An example site",
		Favicon:     "https://example.com/favicon.ico",
		Keywords:    []string{"example"},
	}

	endCh := f.collectEndEvents(t, interfaces.EventWebsiteContentEnd)

	job, err := f.svc.SubmitWebsite(ctx, "app_1", "user_1", "https://example.com")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(job.ID, "job_"))
	assert.Equal(t, models.JobStatusPending, job.Status)

	event := waitForEvent(t, endCh)
	end, ok := event.Payload.(*models.WebsiteContentEnd)
	require.True(t, ok, "unexpected payload type %T", event.Payload)
	assert.Equal(t, job.ID, end.JobID)
	assert.Equal(t, models.EventStatusCompleted, end.Status)
	require.NotNil(t, end.Detail)
	assert.Equal(t, "Example", end.Detail.Title)
	assert.Empty(t, end.Error)

	stored, err := f.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, stored.Status)
	assert.NotNil(t, stored.StartedAt)
	assert.NotNil(t, stored.EndedAt)
	assert.Equal(t, "Example", stored.Result["title"])
	assert.Empty(t, stored.Error)
}

// An analyzer that keeps failing exhausts its retries and settles the job as
// failed: error recorded, failed end event, no result.
func TestWebsiteAnalysisFailureSettlesJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.website.err = &models.AnalysisError{
		Kind:    models.KindWebsiteContent,
		Subject: "https://example.com",
		Err:     context.DeadlineExceeded,
	}

	endCh := f.collectEndEvents(t, interfaces.EventWebsiteContentEnd)

	job, err := f.svc.SubmitWebsite(ctx, "app_1", "user_1", "https://example.com")
	require.NoError(t, err)

	event := waitForEvent(t, endCh)
	end, ok := event.Payload.(*models.WebsiteContentEnd)
	require.True(t, ok, "unexpected payload type %T", event.Payload)
	assert.Equal(t, models.EventStatusFailed, end.Status)
	assert.Contains(t, end.Error, "analysis of https://example.com failed")
	assert.Nil(t, end.Detail)

	stored, err := f.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, stored.Status)
	assert.NotEmpty(t, stored.Error)
	assert.Nil(t, stored.Result)
	assert.NotNil(t, stored.EndedAt)

	assert.Equal(t, 2, f.website.callCount(), "analysis retries are bounded by max attempts")
}

// Duplicate delivery of the same start event must not re-run the analysis,
// must not publish a second end event, and leaves exactly one terminal
// transition on the record.
func TestDuplicateStartDeliveryIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.repo.detail = &models.RepoDetail{
		Version: "v1.2.0",
		Stars:   42,
		License: "MIT",
	}

	endCh := f.collectEndEvents(t, interfaces.EventGithubRepoEnd)

	start := &models.GithubRepoStart{
		JobID:  "job_dup",
		UserID: "user_1",
		Github: "https://github.com/octocat/hello-world",
		Status: string(models.JobStatusPending),
	}

	require.NoError(t, f.bus.PublishSync(ctx, interfaces.EventGithubRepoStart, start))
	// Redelivery of the identical event
	require.NoError(t, f.bus.PublishSync(ctx, interfaces.EventGithubRepoStart, start))

	event := waitForEvent(t, endCh)
	end, ok := event.Payload.(*models.GithubRepoEnd)
	require.True(t, ok, "unexpected payload type %T", event.Payload)
	assert.Equal(t, "job_dup", end.JobID)
	assert.Equal(t, models.EventStatusCompleted, end.Status)

	assertNoMoreEvents(t, endCh)
	assert.Equal(t, 1, f.repo.callCount(), "redelivery must reuse the cached analysis step")

	stored, err := f.jobs.GetJob(ctx, "job_dup")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, stored.Status)
}

// The submission-time scrape event carries the github-repo start payload and
// arrives before any job record exists; the handler creates the record itself.
func TestSubmissionStartCreatesJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.repo.detail = &models.RepoDetail{Version: "v0.1.0"}

	endCh := f.collectEndEvents(t, interfaces.EventGithubRepoEnd)

	start := &models.GithubRepoStart{
		JobID:  "job_sub",
		UserID: "user_1",
		Github: "https://github.com/octocat/hello-world",
		Status: string(models.JobStatusPending),
	}
	require.NoError(t, f.bus.PublishSync(ctx, interfaces.EventAppsSubmissionStart, start))

	event := waitForEvent(t, endCh)
	end, ok := event.Payload.(*models.GithubRepoEnd)
	require.True(t, ok)
	assert.Equal(t, models.EventStatusCompleted, end.Status)

	stored, err := f.jobs.GetJob(ctx, "job_sub")
	require.NoError(t, err)
	assert.Equal(t, models.KindGithubRepo, stored.Kind)
	assert.Equal(t, "user_1", stored.UserID)
	assert.Empty(t, stored.AppID)
	assert.Equal(t, models.JobStatusCompleted, stored.Status)
}

// A transient analyzer failure recovers within the retry budget
func TestAnalysisRetriesTransientFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.website.detail = &models.WebsiteDetail{Title: "Recovered"}
	f.website.failFirst = 1

	endCh := f.collectEndEvents(t, interfaces.EventWebsiteContentEnd)

	job, err := f.svc.SubmitWebsite(ctx, "app_1", "user_1", "https://example.com")
	require.NoError(t, err)

	event := waitForEvent(t, endCh)
	end := event.Payload.(*models.WebsiteContentEnd)
	assert.Equal(t, models.EventStatusCompleted, end.Status)
	require.NotNil(t, end.Detail)
	assert.Equal(t, "Recovered", end.Detail.Title)

	stored, err := f.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, stored.Status)
	assert.Equal(t, 2, f.website.callCount())
}

// A job submitted over HTTP must keep running after the request context dies;
// net/http cancels it the moment the accepted response is written.
func TestSubmitSurvivesCallerContextCancel(t *testing.T) {
	f := newFixture(t)

	f.website.detail = &models.WebsiteDetail{Title: "Detached"}

	endCh := f.collectEndEvents(t, interfaces.EventWebsiteContentEnd)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job, err := f.svc.SubmitWebsite(ctx, "app_1", "user_1", "https://example.com")
	require.NoError(t, err)

	event := waitForEvent(t, endCh)
	end, ok := event.Payload.(*models.WebsiteContentEnd)
	require.True(t, ok, "unexpected payload type %T", event.Payload)
	assert.Equal(t, models.EventStatusCompleted, end.Status)
	assert.Empty(t, end.Error)

	stored, err := f.jobs.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, stored.Status)
	assert.Empty(t, stored.Error)
}

// Two deliveries of the same start event racing through separate goroutines
// still settle the job exactly once: one analysis run, one end event.
func TestConcurrentDuplicateDelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.repo.detail = &models.RepoDetail{
		Version: "v2.0.0",
		Stars:   7,
	}

	endCh := f.collectEndEvents(t, interfaces.EventGithubRepoEnd)

	start := &models.GithubRepoStart{
		JobID:  "job_race",
		UserID: "user_1",
		Github: "https://github.com/octocat/hello-world",
		Status: string(models.JobStatusPending),
	}

	errCh := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errCh <- f.bus.PublishSync(ctx, interfaces.EventGithubRepoStart, start)
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	event := waitForEvent(t, endCh)
	end, ok := event.Payload.(*models.GithubRepoEnd)
	require.True(t, ok, "unexpected payload type %T", event.Payload)
	assert.Equal(t, "job_race", end.JobID)
	assert.Equal(t, models.EventStatusCompleted, end.Status)

	assertNoMoreEvents(t, endCh)
	assert.Equal(t, 1, f.repo.callCount(), "racing deliveries must share one analysis run")

	stored, err := f.jobs.GetJob(ctx, "job_race")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, stored.Status)
}
