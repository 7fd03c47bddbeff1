// Package app wires the application together: storage, queue, locks, the
// LLM provider stack, the pipeline workers and the HTTP handlers. Everything
// is constructed in dependency order in New and torn down in reverse in Close.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/lun1tunes/InstaChatico/internal/common"
	"github.com/lun1tunes/InstaChatico/internal/handlers"
	"github.com/lun1tunes/InstaChatico/internal/interfaces"
	"github.com/lun1tunes/InstaChatico/internal/locks"
	"github.com/lun1tunes/InstaChatico/internal/queue"
	"github.com/lun1tunes/InstaChatico/internal/queue/workers"
	"github.com/lun1tunes/InstaChatico/internal/services/answer"
	"github.com/lun1tunes/InstaChatico/internal/services/catalog"
	"github.com/lun1tunes/InstaChatico/internal/services/classifier"
	"github.com/lun1tunes/InstaChatico/internal/services/embeddings"
	"github.com/lun1tunes/InstaChatico/internal/services/events"
	"github.com/lun1tunes/InstaChatico/internal/services/instagram"
	"github.com/lun1tunes/InstaChatico/internal/services/llm"
	"github.com/lun1tunes/InstaChatico/internal/services/media"
	"github.com/lun1tunes/InstaChatico/internal/services/replies"
	"github.com/lun1tunes/InstaChatico/internal/services/scheduler"
	"github.com/lun1tunes/InstaChatico/internal/services/search"
	"github.com/lun1tunes/InstaChatico/internal/services/telegram"
	"github.com/lun1tunes/InstaChatico/internal/storage"
)

// App holds every long-lived component. Handlers read from it directly; the
// server package owns nothing but the listener.
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	StorageManager interfaces.StorageManager
	QueueManager   interfaces.QueueManager
	LockManager    interfaces.LockManager
	EventService   interfaces.EventService

	LLMService       interfaces.LLMService
	EmbeddingService *embeddings.Service
	SearchService    interfaces.SearchService
	MediaService     *media.Service
	CatalogImporter  *catalog.Importer
	Platform         interfaces.PlatformClient

	Orchestrator *workers.Orchestrator
	Scheduler    *scheduler.Service

	WebhookHandler *handlers.WebhookHandler
	StatusHandler  *handlers.StatusHandler
	SearchHandler  *handlers.SearchHandler
	CommentHandler *handlers.CommentHandler
	WSHandler      *handlers.WebSocketHandler

	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs the application. The Instagram client and Telegram notifier
// are optional: without credentials the ingest and classification path still
// runs, but answers are generated without dispatch.
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		Config: config,
		Logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}

	if err := a.initStorage(); err != nil {
		cancel()
		return nil, err
	}

	if err := a.initServices(); err != nil {
		a.Close()
		return nil, err
	}

	if err := a.initWorkers(); err != nil {
		a.Close()
		return nil, err
	}

	if err := a.initScheduler(); err != nil {
		a.Close()
		return nil, err
	}

	if err := a.initHandlers(); err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

// initStorage opens the Badger store and layers the queue and lock manager
// on the same database handle.
func (a *App) initStorage() error {
	storageManager, err := storage.NewStorageManager(a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	a.StorageManager = storageManager

	store, ok := storageManager.DB().(*badgerhold.Store)
	if !ok {
		return fmt.Errorf("storage manager returned unexpected store type %T", storageManager.DB())
	}
	db := store.Badger()

	pollInterval, err := a.Config.ParseDuration(a.Config.Locks.WaitPollInterval, 100*time.Millisecond)
	if err != nil {
		return fmt.Errorf("parsing lock poll interval: %w", err)
	}
	lockManager, err := locks.NewBadgerLockManager(db, pollInterval, a.Logger)
	if err != nil {
		return fmt.Errorf("initializing lock manager: %w", err)
	}
	a.LockManager = lockManager

	visibility, err := a.Config.ParseDuration(a.Config.Queue.VisibilityTimeout, 5*time.Minute)
	if err != nil {
		return fmt.Errorf("parsing queue visibility timeout: %w", err)
	}
	queueMgr, err := queue.NewBadgerQueue(db, a.Config.Queue.QueueName, visibility, a.Config.Queue.MaxReceive, a.Logger)
	if err != nil {
		return fmt.Errorf("initializing task queue: %w", err)
	}
	a.QueueManager = queueMgr

	a.EventService = events.NewService(a.Logger)

	return nil
}

func (a *App) initServices() error {
	llmService, err := llm.NewService(a.ctx, a.Config, a.Logger)
	if err != nil {
		return fmt.Errorf("initializing LLM service: %w", err)
	}
	a.LLMService = llmService

	a.EmbeddingService = embeddings.NewService(llmService, a.Config.Search.EmbeddingDimension, a.Logger)
	a.SearchService = search.NewService(
		a.StorageManager.CatalogStorage(),
		a.EmbeddingService,
		a.Config.Search.SimilarityThreshold,
		a.Logger,
	)
	a.CatalogImporter = catalog.NewImporter(a.StorageManager.CatalogStorage(), a.EmbeddingService, a.Logger)

	if a.Config.Instagram.AccessToken != "" {
		platform, err := instagram.NewClient(a.Config, a.Logger)
		if err != nil {
			return fmt.Errorf("initializing Instagram client: %w", err)
		}
		a.Platform = platform
	} else {
		a.Logger.Warn().Msg("No Instagram access token configured; replies will not be dispatched")
	}

	mediaService, err := media.NewService(a.StorageManager.MediaStorage(), llmService, a.Platform, a.Logger)
	if err != nil {
		return fmt.Errorf("initializing media service: %w", err)
	}
	a.MediaService = mediaService

	return nil
}

// initWorkers registers one executor per pipeline stage and starts the
// orchestrator loop.
func (a *App) initWorkers() error {
	var notifier interfaces.Notifier
	if a.Config.Telegram.BotToken != "" && a.Config.Telegram.ChatID != "" {
		n, err := telegram.NewNotifier(a.Config, a.Logger)
		if err != nil {
			return fmt.Errorf("initializing Telegram notifier: %w", err)
		}
		notifier = n
	}

	intentClassifier, err := classifier.NewService(a.LLMService, a.Config, a.Logger)
	if err != nil {
		return fmt.Errorf("initializing classifier: %w", err)
	}

	generator, err := answer.NewService(
		a.LLMService,
		a.SearchService,
		a.StorageManager.CommentStorage(),
		a.StorageManager.AnswerStorage(),
		a.Config,
		a.Logger,
	)
	if err != nil {
		return fmt.Errorf("initializing answer generator: %w", err)
	}

	orchestrator, err := workers.NewOrchestrator(
		a.QueueManager,
		a.StorageManager.CommentStorage(),
		a.LockManager,
		a.EventService,
		a.Config,
		a.Logger,
	)
	if err != nil {
		return fmt.Errorf("initializing orchestrator: %w", err)
	}
	a.Orchestrator = orchestrator

	classifyWorker, err := workers.NewClassifyWorker(
		intentClassifier,
		a.StorageManager.CommentStorage(),
		a.StorageManager.ClassificationStorage(),
		a.StorageManager.MediaStorage(),
		a.Platform,
		notifier,
		a.Config,
		a.Logger,
	)
	if err != nil {
		return fmt.Errorf("initializing classify worker: %w", err)
	}
	orchestrator.RegisterExecutor(classifyWorker)

	answerWorker, err := workers.NewAnswerWorker(
		generator,
		a.StorageManager.CommentStorage(),
		a.StorageManager.ClassificationStorage(),
		a.StorageManager.AnswerStorage(),
		a.StorageManager.MediaStorage(),
		a.Config,
		a.Logger,
	)
	if err != nil {
		return fmt.Errorf("initializing answer worker: %w", err)
	}
	orchestrator.RegisterExecutor(answerWorker)

	mediaWorker, err := workers.NewMediaWorker(a.MediaService, a.StorageManager.MediaStorage(), a.Config, a.Logger)
	if err != nil {
		return fmt.Errorf("initializing media worker: %w", err)
	}
	orchestrator.RegisterExecutor(mediaWorker)

	if a.Platform != nil {
		dispatcher, err := replies.NewDispatcher(
			a.StorageManager.AnswerStorage(),
			a.LockManager,
			a.Platform,
			a.Config,
			a.Logger,
		)
		if err != nil {
			return fmt.Errorf("initializing reply dispatcher: %w", err)
		}

		dispatchWorker, err := workers.NewDispatchWorker(dispatcher, a.StorageManager.AnswerStorage(), a.Config, a.Logger)
		if err != nil {
			return fmt.Errorf("initializing dispatch worker: %w", err)
		}
		orchestrator.RegisterExecutor(dispatchWorker)
	}

	orchestrator.Start()
	return nil
}

func (a *App) initScheduler() error {
	if !a.Config.Scheduler.Enabled {
		a.Logger.Info().Msg("Maintenance scheduler disabled")
		return nil
	}

	sched := scheduler.NewService(a.Logger)

	store := a.StorageManager.DB().(*badgerhold.Store)
	maintenance := scheduler.NewMaintenance(
		a.StorageManager.ClassificationStorage(),
		a.StorageManager.AnswerStorage(),
		a.QueueManager,
		a.Platform,
		store.Badger(),
		a.Config,
		a.Logger,
	)
	if err := maintenance.RegisterAll(sched, &a.Config.Scheduler); err != nil {
		return fmt.Errorf("registering maintenance jobs: %w", err)
	}

	if err := sched.Start(); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	a.Scheduler = sched

	return nil
}

func (a *App) initHandlers() error {
	a.WebhookHandler = handlers.NewWebhookHandler(
		a.StorageManager.CommentStorage(),
		a.StorageManager.ClassificationStorage(),
		a.StorageManager.AnswerStorage(),
		a.MediaService,
		a.QueueManager,
		a.EventService,
		a.Config,
		a.Logger,
	)
	a.StatusHandler = handlers.NewStatusHandler(
		a.StorageManager.CommentStorage(),
		a.QueueManager,
		a.Scheduler,
		a.Logger,
	)
	a.SearchHandler = handlers.NewSearchHandler(a.SearchService, a.Logger)
	a.CommentHandler = handlers.NewCommentHandler(
		a.StorageManager.CommentStorage(),
		a.StorageManager.ClassificationStorage(),
		a.StorageManager.AnswerStorage(),
		a.Logger,
	)

	a.WSHandler = handlers.NewWebSocketHandler(a.EventService, &a.Config.WebSocket, a.Logger)
	if err := a.WSHandler.SubscribeToPipelineEvents(); err != nil {
		return fmt.Errorf("subscribing websocket handler: %w", err)
	}

	return nil
}

// Close tears the application down in reverse dependency order. Safe to call
// on a partially constructed App.
func (a *App) Close() {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.Orchestrator != nil {
		a.Orchestrator.Stop()
	}

	a.cancel()

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Error closing event service")
		}
	}
	if a.QueueManager != nil {
		if err := a.QueueManager.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Error closing task queue")
		}
	}
	if a.LockManager != nil {
		if err := a.LockManager.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Error closing lock manager")
		}
	}
	if a.LLMService != nil {
		if err := a.LLMService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Error closing LLM service")
		}
	}
	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Error closing storage")
		}
	}
}
