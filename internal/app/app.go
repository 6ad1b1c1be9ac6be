package app

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tenderwatch/internal/common"
	"github.com/ternarybob/tenderwatch/internal/interfaces"
	"github.com/ternarybob/tenderwatch/internal/models"
	"github.com/ternarybob/tenderwatch/internal/services/events"
	"github.com/ternarybob/tenderwatch/internal/services/export"
	"github.com/ternarybob/tenderwatch/internal/services/fetcher"
	"github.com/ternarybob/tenderwatch/internal/services/limiter"
	"github.com/ternarybob/tenderwatch/internal/services/refresh"
	"github.com/ternarybob/tenderwatch/internal/services/scheduler"
	"github.com/ternarybob/tenderwatch/internal/storage/badger"
	"github.com/ternarybob/tenderwatch/internal/storage/sqlite"
)

// App owns the service graph: storage connections, event bus, limiter,
// exporter, scheduler and (when enabled) the refresh watcher.
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	Store     interfaces.TenderStore
	Queue     interfaces.PendingQueue
	WatchDB   interfaces.WatchStateStore
	Events    interfaces.EventService
	Limiter   *limiter.DomainLimiter
	Exporter  *export.Exporter
	Scheduler *scheduler.Scheduler
	Watcher   *refresh.Watcher

	sqliteDB  *sqlite.SQLiteDB
	badgerDB  *badger.BadgerDB
	maintCron *cron.Cron
}

// New wires the application. The SQLite store opens (with migration,
// interrupted-run recovery and backup check); Badger opens only when the
// refresh watcher or pending queue is needed.
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	a := &App{
		Config: config,
		Logger: logger,
	}

	sqliteDB, err := sqlite.NewSQLiteDB(logger, &config.Storage.SQLite)
	if err != nil {
		return nil, fmt.Errorf("opening tender store: %w", err)
	}
	a.sqliteDB = sqliteDB
	a.Store = sqlite.NewTenderStorage(sqliteDB, logger)

	badgerDB, err := badger.NewBadgerDB(logger, &config.Storage.Badger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("opening state store: %w", err)
	}
	a.badgerDB = badgerDB
	a.Queue = badger.NewPendingQueueStorage(badgerDB, logger)

	watchDB, err := badger.NewWatchStateStorage(badgerDB, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("opening watch state store: %w", err)
	}
	a.WatchDB = watchDB

	a.Events = events.NewService(logger)
	a.Limiter = limiter.NewDomainLimiter(config.Batch.IPSafety, logger)
	a.Exporter = export.NewExporter(a.Store, config.Export.DownloadDirectory, logger)

	fetcherFactory := fetcher.NewFactory(config.Fetcher, logger)
	a.Scheduler = scheduler.NewScheduler(
		a.Store,
		fetcherFactory,
		a.Limiter,
		a.Events,
		a.Exporter,
		a.Queue,
		config,
		a.CheckpointPath(),
		logger,
	)

	// Long-running processes (watch mode) back up and prune daily without
	// reopening the store
	if config.Storage.SQLite.BackupDirectory != "" {
		a.maintCron = cron.New()
		if _, err := a.maintCron.AddFunc("@daily", func() {
			if err := sqliteDB.BackupNow(); err != nil {
				logger.Warn().Err(err).Msg("Daily backup failed")
			}
		}); err != nil {
			a.Close()
			return nil, fmt.Errorf("scheduling backup maintenance: %w", err)
		}
		a.maintCron.Start()
	}

	return a, nil
}

// StartWatcher builds and starts the refresh watcher over the given portals
// and rules. No-op when refresh is disabled in configuration.
func (a *App) StartWatcher(ctx context.Context, portals []models.Portal, rules []models.WatchRule) error {
	if !a.Config.Refresh.Enabled {
		return nil
	}
	a.Watcher = refresh.NewWatcher(
		portals,
		rules,
		a.WatchDB,
		a.Queue,
		fetcher.NewFactory(a.Config.Fetcher, a.Logger),
		a.Limiter,
		a.Events,
		a.Logger,
	)
	return a.Watcher.Start(ctx)
}

// CheckpointPath is the batch progress file, fixed per installation next to
// the tender store
func (a *App) CheckpointPath() string {
	return filepath.Join(filepath.Dir(a.Config.Storage.SQLite.Path), "scrape_checkpoint.json")
}

// Close releases all resources in reverse dependency order
func (a *App) Close() {
	if a.maintCron != nil {
		<-a.maintCron.Stop().Done()
	}
	if a.Watcher != nil {
		a.Watcher.Stop()
	}
	if a.Events != nil {
		if err := a.Events.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Closing event service failed")
		}
	}
	if a.badgerDB != nil {
		a.badgerDB.RunGC()
		if err := a.badgerDB.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Closing state store failed")
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Closing tender store failed")
		}
	}
}
