// -----------------------------------------------------------------------
// App - component wiring and lifecycle
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scrutor/internal/analyzers/github"
	"github.com/ternarybob/scrutor/internal/analyzers/website"
	"github.com/ternarybob/scrutor/internal/common"
	"github.com/ternarybob/scrutor/internal/handlers"
	"github.com/ternarybob/scrutor/internal/interfaces"
	"github.com/ternarybob/scrutor/internal/jobs"
	"github.com/ternarybob/scrutor/internal/services/events"
	"github.com/ternarybob/scrutor/internal/services/janitor"
	"github.com/ternarybob/scrutor/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config    *common.Config
	Logger    arbor.ILogger
	ctx       context.Context
	cancelCtx context.CancelFunc

	StorageManager interfaces.StorageManager
	EventService   *events.Service
	JobService     *jobs.Service
	JanitorService *janitor.Service

	// Handlers
	AnalysisHandler  *handlers.AnalysisHandler
	StatusHandler    *handlers.StatusHandler
	WebSocketHandler *handlers.WebSocketHandler
}

// New creates and wires the application
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		Config:    cfg,
		Logger:    logger,
		ctx:       ctx,
		cancelCtx: cancel,
	}

	if err := a.initStorage(); err != nil {
		cancel()
		return nil, err
	}
	if err := a.initServices(); err != nil {
		cancel()
		a.StorageManager.Close()
		return nil, err
	}
	a.initHandlers()

	logger.Info().Msg("Application initialized")
	return a, nil
}

func (a *App) initStorage() error {
	manager, err := badger.NewManager(a.Logger, &a.Config.Storage.Badger)
	if err != nil {
		return fmt.Errorf("failed to init storage: %w", err)
	}
	a.StorageManager = manager
	return nil
}

func (a *App) initServices() error {
	a.EventService = events.NewService(events.NewRegistry(), a.Logger)

	websiteAnalyzer := website.NewAnalyzer(a.Logger,
		website.WithUserAgent(a.Config.Analyzer.UserAgent),
		website.WithHTTPClient(&http.Client{Timeout: a.Config.Analyzer.GetRequestTimeout()}),
		website.WithRateLimit(float64(time.Second)/float64(a.Config.Analyzer.GetRequestDelay())),
	)
	repoAnalyzer := github.NewAnalyzer(a.Logger, a.Config.GitHub.Token)

	a.JobService = jobs.NewService(
		a.StorageManager,
		a.EventService,
		websiteAnalyzer,
		repoAnalyzer,
		jobs.RetryConfig{
			MaxAttempts: a.Config.Analyzer.GetMaxAttempts(),
			Backoff:     a.Config.Analyzer.GetRetryBackoff(),
		},
		a.Logger,
	)
	if err := a.JobService.RegisterHandlers(); err != nil {
		return fmt.Errorf("failed to register job handlers: %w", err)
	}

	events.SubscribeLoggerToEndEvents(a.EventService, a.Logger)

	a.JanitorService = janitor.NewService(
		a.StorageManager.JobStorage(),
		a.EventService,
		a.Config.Janitor.GetMaxInProgress(),
		a.Logger,
	)
	if a.Config.Janitor.Enabled {
		if err := a.JanitorService.Start(a.Config.Janitor.Schedule); err != nil {
			return fmt.Errorf("failed to start janitor: %w", err)
		}
	}

	return nil
}

func (a *App) initHandlers() {
	jobStorage := a.StorageManager.JobStorage()

	a.AnalysisHandler = handlers.NewAnalysisHandler(a.JobService, jobStorage, a.Logger)
	a.StatusHandler = handlers.NewStatusHandler(jobStorage, a.Logger)

	a.WebSocketHandler = handlers.NewWebSocketHandler(a.Logger)
	if err := a.WebSocketHandler.SubscribeToEndEvents(a.EventService); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to subscribe WebSocket feed to end events")
	}
}

// Context returns the application context, cancelled on Close
func (a *App) Context() context.Context {
	return a.ctx
}

// Close shuts components down in reverse dependency order
func (a *App) Close() error {
	a.Logger.Info().Msg("Shutting down application")
	a.cancelCtx()

	if a.Config.Janitor.Enabled && a.JanitorService != nil {
		a.JanitorService.Stop()
	}
	if a.WebSocketHandler != nil {
		a.WebSocketHandler.Close()
	}
	if a.EventService != nil {
		// Lets in-flight handlers publish their end events before the bus closes
		a.EventService.Close()
	}
	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
	}

	a.Logger.Info().Msg("Application stopped")
	return nil
}
