package janitor

import (
	"context"
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

func newTestService(t *testing.T) (*Service, interfaces.JobStorage, *events.Service) {
	t.Helper()

	logger := arbor.NewLogger()
	manager, err := badger.NewManager(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	bus := events.NewService(events.NewRegistry(), logger)
	t.Cleanup(func() { bus.Close() })

	jobs := manager.JobStorage()
	return NewService(jobs, bus, time.Hour, logger), jobs, bus
}

func startJob(t *testing.T, jobs interfaces.JobStorage, id string, kind models.JobKind, startedAt time.Time) {
	t.Helper()

	ctx := context.Background()
	require.NoError(t, jobs.CreateJob(ctx, &models.AnalysisJob{
		ID:        id,
		AppID:     "app_1",
		UserID:    "user_1",
		Kind:      kind,
		Status:    models.JobStatusPending,
		Subject:   "https://example.com",
		CreatedAt: startedAt,
	}))
	_, err := jobs.Transition(ctx, id, models.JobStatusInProgress, models.TransitionFields{StartedAt: &startedAt})
	require.NoError(t, err)
}

func TestSweepFailsStaleJobs(t *testing.T) {
	svc, jobs, bus := newTestService(t)
	ctx := context.Background()

	endCh := make(chan interfaces.Event, 2)
	require.NoError(t, bus.Subscribe(interfaces.EventWebsiteContentEnd, func(ctx context.Context, event interfaces.Event) error {
		endCh <- event
		return nil
	}))

	startJob(t, jobs, "job_stale", models.KindWebsiteContent, time.Now().Add(-2*time.Hour))
	startJob(t, jobs, "job_live", models.KindWebsiteContent, time.Now())

	swept, err := svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	stale, err := jobs.GetJob(ctx, "job_stale")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, stale.Status)
	assert.Contains(t, stale.Error, "timed out")
	assert.NotNil(t, stale.EndedAt)

	live, err := jobs.GetJob(ctx, "job_live")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusInProgress, live.Status)

	select {
	case event := <-endCh:
		end := event.Payload.(*models.WebsiteContentEnd)
		assert.Equal(t, "job_stale", end.JobID)
		assert.Equal(t, models.EventStatusFailed, end.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for failed end event")
	}
}

func TestSweepPublishesKindMatchedEndEvent(t *testing.T) {
	svc, jobs, bus := newTestService(t)

	endCh := make(chan interfaces.Event, 2)
	require.NoError(t, bus.Subscribe(interfaces.EventGithubRepoEnd, func(ctx context.Context, event interfaces.Event) error {
		endCh <- event
		return nil
	}))

	startJob(t, jobs, "job_repo", models.KindGithubRepo, time.Now().Add(-2*time.Hour))

	swept, err := svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	select {
	case event := <-endCh:
		end := event.Payload.(*models.GithubRepoEnd)
		assert.Equal(t, "job_repo", end.JobID)
		assert.Equal(t, models.EventStatusFailed, end.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for failed end event")
	}
}

func TestSweepNothingStale(t *testing.T) {
	svc, jobs, _ := newTestService(t)

	startJob(t, jobs, "job_live", models.KindWebsiteContent, time.Now())

	swept, err := svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, swept)
}

func TestStartRejectsBadSchedule(t *testing.T) {
	svc, _, _ := newTestService(t)
	assert.Error(t, svc.Start("not a schedule"))
}
