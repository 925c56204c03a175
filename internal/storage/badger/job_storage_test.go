package badger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scrutor/internal/common"
	"github.com/ternarybob/scrutor/internal/interfaces"
	"github.com/ternarybob/scrutor/internal/models"
)

func newTestDB(t *testing.T) *BadgerDB {
	t.Helper()

	db, err := NewBadgerDB(arbor.NewLogger(), &common.BadgerConfig{
		Path: t.TempDir(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

func newTestJob(id string) *models.AnalysisJob {
	return &models.AnalysisJob{
		ID:        id,
		AppID:     "app_1",
		UserID:    "user_1",
		Kind:      models.KindWebsiteContent,
		Status:    models.JobStatusPending,
		Subject:   "https://example.com",
		CreatedAt: time.Now(),
	}
}

func TestCreateAndGetJob(t *testing.T) {
	storage := NewJobStorage(newTestDB(t), arbor.NewLogger())
	ctx := context.Background()

	job := newTestJob("job_1")
	require.NoError(t, storage.CreateJob(ctx, job))

	got, err := storage.GetJob(ctx, "job_1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Equal(t, models.KindWebsiteContent, got.Kind)
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.EndedAt)
}

func TestCreateJobRejectsDuplicateID(t *testing.T) {
	storage := NewJobStorage(newTestDB(t), arbor.NewLogger())
	ctx := context.Background()

	require.NoError(t, storage.CreateJob(ctx, newTestJob("job_1")))
	assert.Error(t, storage.CreateJob(ctx, newTestJob("job_1")))
}

func TestGetJobNotFound(t *testing.T) {
	storage := NewJobStorage(newTestDB(t), arbor.NewLogger())

	_, err := storage.GetJob(context.Background(), "missing")
	assert.True(t, errors.Is(err, models.ErrJobNotFound))
}

func TestTransitionLifecycle(t *testing.T) {
	storage := NewJobStorage(newTestDB(t), arbor.NewLogger())
	ctx := context.Background()

	require.NoError(t, storage.CreateJob(ctx, newTestJob("job_1")))

	started := time.Now()
	job, err := storage.Transition(ctx, "job_1", models.JobStatusInProgress, models.TransitionFields{
		StartedAt: &started,
	})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusInProgress, job.Status)
	require.NotNil(t, job.StartedAt)
	assert.Nil(t, job.EndedAt)

	ended := time.Now()
	job, err = storage.Transition(ctx, "job_1", models.JobStatusCompleted, models.TransitionFields{
		EndedAt: &ended,
		Result:  map[string]interface{}{"title": "Example"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	require.NotNil(t, job.EndedAt)
	assert.Equal(t, "Example", job.Result["title"])
	assert.Empty(t, job.Error)
}

func TestTransitionRejectsTerminalReopen(t *testing.T) {
	storage := NewJobStorage(newTestDB(t), arbor.NewLogger())
	ctx := context.Background()

	require.NoError(t, storage.CreateJob(ctx, newTestJob("job_1")))

	_, err := storage.Transition(ctx, "job_1", models.JobStatusInProgress, models.TransitionFields{})
	require.NoError(t, err)
	_, err = storage.Transition(ctx, "job_1", models.JobStatusFailed, models.TransitionFields{
		Error: "network error",
	})
	require.NoError(t, err)

	// Failed is terminal: neither completion nor a restart may be applied
	var invalid *models.InvalidTransitionError
	_, err = storage.Transition(ctx, "job_1", models.JobStatusCompleted, models.TransitionFields{})
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, models.JobStatusFailed, invalid.From)

	_, err = storage.Transition(ctx, "job_1", models.JobStatusInProgress, models.TransitionFields{})
	assert.True(t, errors.As(err, &invalid))

	// Record unchanged by the rejected attempts
	job, err := storage.GetJob(ctx, "job_1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, "network error", job.Error)
	assert.Nil(t, job.Result)
}

func TestTransitionRejectsSkippingInProgress(t *testing.T) {
	storage := NewJobStorage(newTestDB(t), arbor.NewLogger())
	ctx := context.Background()

	require.NoError(t, storage.CreateJob(ctx, newTestJob("job_1")))

	var invalid *models.InvalidTransitionError
	_, err := storage.Transition(ctx, "job_1", models.JobStatusCompleted, models.TransitionFields{})
	assert.True(t, errors.As(err, &invalid))
}

func TestTransitionAllowsPendingToFailed(t *testing.T) {
	storage := NewJobStorage(newTestDB(t), arbor.NewLogger())
	ctx := context.Background()

	require.NoError(t, storage.CreateJob(ctx, newTestJob("job_1")))

	job, err := storage.Transition(ctx, "job_1", models.JobStatusFailed, models.TransitionFields{
		Error: "rejected before start",
	})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.NotNil(t, job.EndedAt, "terminal transition must always set EndedAt")
}

func TestTransitionNotFound(t *testing.T) {
	storage := NewJobStorage(newTestDB(t), arbor.NewLogger())

	_, err := storage.Transition(context.Background(), "missing", models.JobStatusInProgress, models.TransitionFields{})
	assert.True(t, errors.Is(err, models.ErrJobNotFound))
}

// TestConcurrentTerminalTransition simulates two deliveries of the same start
// event racing to settle the job: exactly one terminal transition succeeds.
func TestConcurrentTerminalTransition(t *testing.T) {
	storage := NewJobStorage(newTestDB(t), arbor.NewLogger())
	ctx := context.Background()

	require.NoError(t, storage.CreateJob(ctx, newTestJob("job_1")))
	_, err := storage.Transition(ctx, "job_1", models.JobStatusInProgress, models.TransitionFields{})
	require.NoError(t, err)

	const racers = 8
	var wg sync.WaitGroup
	errs := make([]error, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, errs[n] = storage.Transition(ctx, "job_1", models.JobStatusCompleted, models.TransitionFields{
				Result: map[string]interface{}{"winner": n},
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			var invalid *models.InvalidTransitionError
			assert.True(t, errors.As(err, &invalid))
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one racer may apply the terminal transition")
}

func TestListJobsFilters(t *testing.T) {
	storage := NewJobStorage(newTestDB(t), arbor.NewLogger())
	ctx := context.Background()

	website := newTestJob("job_1")
	require.NoError(t, storage.CreateJob(ctx, website))

	repo := newTestJob("job_2")
	repo.AppID = "app_2"
	repo.Kind = models.KindGithubRepo
	repo.Subject = "https://github.com/octocat/hello-world"
	require.NoError(t, storage.CreateJob(ctx, repo))

	_, err := storage.Transition(ctx, "job_1", models.JobStatusInProgress, models.TransitionFields{})
	require.NoError(t, err)

	jobs, err := storage.ListJobs(ctx, &interfaces.JobListOptions{Status: string(models.JobStatusPending)})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "job_2", jobs[0].ID)

	jobs, err = storage.ListJobs(ctx, &interfaces.JobListOptions{AppID: "app_1"})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "job_1", jobs[0].ID)

	count, err := storage.CountJobs(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = storage.CountJobs(ctx, models.JobStatusInProgress)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestListStale(t *testing.T) {
	storage := NewJobStorage(newTestDB(t), arbor.NewLogger())
	ctx := context.Background()

	require.NoError(t, storage.CreateJob(ctx, newTestJob("job_old")))
	require.NoError(t, storage.CreateJob(ctx, newTestJob("job_new")))

	old := time.Now().Add(-2 * time.Hour)
	_, err := storage.Transition(ctx, "job_old", models.JobStatusInProgress, models.TransitionFields{StartedAt: &old})
	require.NoError(t, err)

	recent := time.Now()
	_, err = storage.Transition(ctx, "job_new", models.JobStatusInProgress, models.TransitionFields{StartedAt: &recent})
	require.NoError(t, err)

	stale, err := storage.ListStale(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "job_old", stale[0].ID)
}

func TestStepStorageRoundTrip(t *testing.T) {
	db := newTestDB(t)
	storage := NewStepStorage(db, arbor.NewLogger())
	ctx := context.Background()

	_, ok, err := storage.GetResult(ctx, "job_1", "do-analysis")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, storage.SaveResult(ctx, "job_1", "do-analysis", []byte(`{"title":"X"}`)))

	result, ok, err := storage.GetResult(ctx, "job_1", "do-analysis")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"title":"X"}`, string(result))

	// Different step name under the same job is independent
	_, ok, err = storage.GetResult(ctx, "job_1", "mark-completed")
	require.NoError(t, err)
	assert.False(t, ok)
}

// Completed results are JSON-decoded detail maps, so arrays and nested
// objects arrive as interface containers; the store must round-trip them.
func TestTransitionPersistsDecodedResult(t *testing.T) {
	storage := NewJobStorage(newTestDB(t), arbor.NewLogger())
	ctx := context.Background()

	require.NoError(t, storage.CreateJob(ctx, newTestJob("job_1")))

	started := time.Now()
	_, err := storage.Transition(ctx, "job_1", models.JobStatusInProgress, models.TransitionFields{
		StartedAt: &started,
	})
	require.NoError(t, err)

	_, err = storage.Transition(ctx, "job_1", models.JobStatusCompleted, models.TransitionFields{
		Result: map[string]interface{}{
			"title":    "Example",
			"keywords": []interface{}{"go", "search"},
			"counts":   map[string]interface{}{"stars": float64(42)},
		},
	})
	require.NoError(t, err)

	got, err := storage.GetJob(ctx, "job_1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Equal(t, "Example", got.Result["title"])
	assert.Equal(t, []interface{}{"go", "search"}, got.Result["keywords"])
	assert.Equal(t, map[string]interface{}{"stars": float64(42)}, got.Result["counts"])
}

// A terminal transition releases the job's lock entry; the map must not grow
// by one mutex per job forever.
func TestTerminalTransitionEvictsLock(t *testing.T) {
	storage := NewJobStorage(newTestDB(t), arbor.NewLogger()).(*JobStorage)
	ctx := context.Background()

	require.NoError(t, storage.CreateJob(ctx, newTestJob("job_1")))

	started := time.Now()
	_, err := storage.Transition(ctx, "job_1", models.JobStatusInProgress, models.TransitionFields{
		StartedAt: &started,
	})
	require.NoError(t, err)
	_, held := storage.locks.Load("job_1")
	assert.True(t, held)

	_, err = storage.Transition(ctx, "job_1", models.JobStatusFailed, models.TransitionFields{
		Error: "fetch failed",
	})
	require.NoError(t, err)
	_, held = storage.locks.Load("job_1")
	assert.False(t, held, "terminal jobs must not retain a lock entry")
}
