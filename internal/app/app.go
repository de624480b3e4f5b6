// -----------------------------------------------------------------------
// Application wiring - builds every component in dependency order
// -----------------------------------------------------------------------

package app

import (
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/handlers"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/queue"
	"github.com/ternarybob/colligo/internal/services/dedup"
	"github.com/ternarybob/colligo/internal/services/events"
	jobsvc "github.com/ternarybob/colligo/internal/services/jobs"
	"github.com/ternarybob/colligo/internal/services/maintenance"
	"github.com/ternarybob/colligo/internal/services/scheduler"
	"github.com/ternarybob/colligo/internal/services/scraper"
	"github.com/ternarybob/colligo/internal/storage"
	"github.com/ternarybob/colligo/internal/workers"
	"github.com/timshannon/badgerhold/v4"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	StorageManager interfaces.StorageManager

	// Event-driven services
	EventService interfaces.EventService

	// Scrape pipeline
	QueueManager       interfaces.QueueManager
	DedupService       interfaces.DedupService
	JobService         interfaces.JobService
	ScraperService     *scraper.Service
	WorkerPool         interfaces.WorkerPool
	MaintenanceService interfaces.MaintenanceService
	SchedulerService   interfaces.SchedulerService

	// HTTP handlers
	APIHandler      *handlers.APIHandler
	JobHandler      *handlers.JobHandler
	WSHandler       *handlers.WebSocketHandler
	EventSubscriber *handlers.EventSubscriber
	LogRelay        *handlers.WebSocketLogRelay
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	// Initialize database
	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// WebSocket handler and event service come up first so everything
	// initialized after them can publish and broadcast
	app.EventService = events.NewService(app.Logger)
	if err := events.SubscribeLoggerToAllEvents(app.EventService, app.Logger); err != nil {
		return nil, fmt.Errorf("failed to subscribe event logger: %w", err)
	}
	app.WSHandler = handlers.NewWebSocketHandler(&app.Config.WebSocket, app.Logger)

	// Mirror logger output onto the stream via the arbor batch channel
	app.LogRelay = handlers.NewWebSocketLogRelay(app.WSHandler, &app.Config.WebSocket)
	app.LogRelay.Start()
	app.Logger.SetChannel("websocket", app.LogRelay.Channel())

	// Initialize services
	if err := app.initServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	// Initialize handlers
	if err := app.initHandlers(); err != nil {
		return nil, fmt.Errorf("failed to initialize handlers: %w", err)
	}

	// Start workers AFTER all handlers are initialized so the first
	// pops already have a complete broadcast path
	if err := app.WorkerPool.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker pool: %w", err)
	}

	if err := app.MaintenanceService.Start(); err != nil {
		return nil, fmt.Errorf("failed to start maintenance service: %w", err)
	}

	if cfg.Scheduler.Enabled {
		if err := app.SchedulerService.Start(); err != nil {
			return nil, fmt.Errorf("failed to start scheduler service: %w", err)
		}
	} else {
		logger.Debug().Msg("Scheduler disabled by configuration")
	}

	logger.Info().
		Int("workers", cfg.Queue.Workers).
		Bool("scheduler_enabled", cfg.Scheduler.Enabled).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase initializes the storage layer (Badger)
func (a *App) initDatabase() error {
	storageManager, err := storage.NewStorageManager(a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}

	a.StorageManager = storageManager
	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.DataDir).
		Msg("Storage layer initialized")

	return nil
}

// initServices initializes all business services in dependency order:
// queue and dedup sit under the job service, the scraper under the
// worker pool, and the scheduler on top of the job service.
func (a *App) initServices() error {
	// Queue manager shares the Badger instance behind the storage layer.
	// StorageManager.DB() returns *badgerhold.Store; the queue works on
	// the raw *badger.DB underneath it.
	badgerStore, ok := a.StorageManager.DB().(*badgerhold.Store)
	if !ok {
		return fmt.Errorf("storage manager is not backed by BadgerDB (got %T)", a.StorageManager.DB())
	}
	badgerDB := badgerStore.Badger()

	queueMgr, err := queue.NewBadgerManager(
		badgerDB,
		a.Logger,
		common.ParseDurationOr(a.Config.Queue.VisibilityTimeout, 5*time.Minute),
		a.Config.Queue.MaxReceive,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize queue manager: %w", err)
	}
	a.QueueManager = queueMgr
	a.Logger.Debug().
		Str("visibility_timeout", a.Config.Queue.VisibilityTimeout).
		Int("max_receive", a.Config.Queue.MaxReceive).
		Msg("Queue manager initialized")

	a.DedupService = dedup.NewService(a.StorageManager.ArticleStorage(), a.Logger)
	a.Logger.Debug().Msg("Dedup service initialized")

	a.JobService = jobsvc.NewService(a.StorageManager, a.DedupService, a.QueueManager, a.EventService, a.Logger)
	a.Logger.Debug().Msg("Job service initialized")

	a.ScraperService = scraper.NewService(&a.Config.Scraper, a.Logger)
	a.Logger.Debug().
		Bool("use_browser", a.Config.Scraper.UseBrowser).
		Str("timeout", a.Config.Scraper.Timeout).
		Msg("Scraper service initialized")

	a.WorkerPool = workers.NewPool(a.Config, a.StorageManager, a.QueueManager, a.ScraperService, a.EventService, a.Logger)
	a.Logger.Debug().Int("workers", a.Config.Queue.Workers).Msg("Worker pool initialized")

	a.MaintenanceService = maintenance.NewService(a.Config, a.StorageManager, a.QueueManager, a.Logger)
	a.Logger.Debug().Msg("Maintenance service initialized")

	a.SchedulerService = scheduler.NewService(&a.Config.Scheduler, a.JobService, a.Logger)
	a.Logger.Debug().
		Str("definitions_dir", a.Config.Scheduler.DefinitionsDir).
		Msg("Scheduler service initialized")

	return nil
}

// initHandlers initializes the HTTP handler layer
func (a *App) initHandlers() error {
	a.APIHandler = handlers.NewAPIHandler()

	a.JobHandler = handlers.NewJobHandler(a.JobService, a.Logger)
	a.Logger.Debug().Msg("Job handler initialized")

	// EventSubscriber bridges the job_updates stream onto connected
	// WebSocket clients with config-driven filtering
	a.EventSubscriber = handlers.NewEventSubscriber(a.WSHandler, a.EventService, a.Logger, &a.Config.WebSocket)
	a.Logger.Debug().
		Int("allowed_events", len(a.Config.WebSocket.AllowedEvents)).
		Int("throttle_intervals", len(a.Config.WebSocket.ThrottleIntervals)).
		Msg("EventSubscriber initialized")

	return nil
}

// Close shuts the application down in reverse dependency order. Producers
// stop before the bus, the bus before the broadcaster, storage last.
func (a *App) Close() error {
	// Stop scheduler service
	if a.SchedulerService != nil {
		if err := a.SchedulerService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler service")
		}
	}

	// Stop maintenance sweeps
	if a.MaintenanceService != nil {
		if err := a.MaintenanceService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop maintenance service")
		}
	}

	// Stop worker pool
	if a.WorkerPool != nil {
		if err := a.WorkerPool.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop worker pool")
		} else {
			a.Logger.Info().Msg("Worker pool stopped")
		}
	}

	// Release the browser after the workers that use it are gone
	if a.ScraperService != nil {
		if err := a.ScraperService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close scraper service")
		}
	}

	// Detach the stream from the bus before the bus closes
	if a.EventSubscriber != nil {
		a.EventSubscriber.Stop()
	}

	// Stop mirroring logs onto the stream
	if a.LogRelay != nil {
		a.LogRelay.Stop()
	}

	// Close WebSocket connections
	if a.WSHandler != nil {
		a.WSHandler.Close()
	}

	// Close event service
	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	// Close queue before the shared Badger instance goes away
	if a.QueueManager != nil {
		if err := a.QueueManager.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close queue manager")
		}
	}

	// Close storage
	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
