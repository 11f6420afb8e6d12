package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/robfig/cron/v3"

	"github.com/ZhicongZheng/rw-cdc-sr/internal/clients"
	"github.com/ZhicongZheng/rw-cdc-sr/internal/config"
	"github.com/ZhicongZheng/rw-cdc-sr/internal/ddl"
	"github.com/ZhicongZheng/rw-cdc-sr/internal/handlers"
	"github.com/ZhicongZheng/rw-cdc-sr/internal/middleware"
	"github.com/ZhicongZheng/rw-cdc-sr/internal/services"
	"github.com/ZhicongZheng/rw-cdc-sr/internal/store"
)

type Application struct {
	Config      *config.AppConfig
	DB          *sql.DB
	Store       store.TaskStore
	Connections *config.ConnectionRegistry
	Engine      *services.SyncEngine
	TaskManager *services.TaskManager
	Logger      *slog.Logger

	cron *cron.Cron
}

func NewApplication(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (*Application, error) {
	connections, err := config.LoadConnections(cfg.ConnectionsFile)
	if err != nil {
		return nil, err
	}
	logger.Info("connection registry loaded", "path", cfg.ConnectionsFile, "connections", connections.Len())

	db, driver, err := config.InitDatabase(ctx, &cfg.Store, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Store.MigrateOnStart {
		if err := store.Migrate(db, driver, logger); err != nil {
			db.Close()
			return nil, err
		}
	}

	return newApplication(cfg, db, store.NewSQLStore(db, driver), connections, logger), nil
}

func newApplication(cfg *config.AppConfig, db *sql.DB, st store.TaskStore, connections *config.ConnectionRegistry, logger *slog.Logger) *Application {
	app := &Application{
		Config:      cfg,
		DB:          db,
		Store:       st,
		Connections: connections,
		Logger:      logger,
		cron:        cron.New(),
	}

	connector := clients.NewConnector(cfg.Engine.DialTimeout)
	generator := ddl.NewGenerator(ddl.Config{
		Buckets:         cfg.Engine.Buckets,
		ReplicationNum:  cfg.Engine.ReplicationNum,
		DefaultHTTPPort: cfg.Engine.DefaultHTTPPort,
	})

	app.Engine = services.NewSyncEngine(
		st,
		connections,
		services.NewSchemaService(cfg.Engine.DialTimeout),
		connector,
		services.EngineOptions{StatementTimeout: cfg.Engine.StatementTimeout, Generator: generator},
		logger,
	)
	app.TaskManager = services.NewTaskManager(st, app.Engine, connections, connector, services.ManagerOptions{
		StaleAfter:  cfg.Reaper.StaleAfter,
		CancelGrace: cfg.Server.CancelGrace,
	}, logger)
	return app
}

// StartReaper sweeps orphaned tasks once and then on the configured
// schedule.
func (app *Application) StartReaper(ctx context.Context) error {
	app.reap(ctx)

	_, err := app.cron.AddFunc(app.Config.Reaper.Schedule, func() { app.reap(ctx) })
	if err != nil {
		return fmt.Errorf("failed to add reaper job: %w", err)
	}
	app.cron.Start()
	app.Logger.Info("orphan reaper started", "schedule", app.Config.Reaper.Schedule, "stale_after", app.Config.Reaper.StaleAfter)
	return nil
}

func (app *Application) reap(ctx context.Context) {
	if _, err := app.TaskManager.ReapOrphans(ctx); err != nil {
		app.Logger.Error("orphan sweep failed", "error", err)
	}
}

// Handler returns the HTTP entry point with middleware applied.
func (app *Application) Handler() http.Handler {
	mux := http.NewServeMux()
	handlers.NewHandler(app.TaskManager, app.Logger).Routes(mux)
	return middleware.RequestLogger(app.Logger)(middleware.CORS(mux))
}

// Shutdown stops the reaper and drains running tasks before closing the
// store. The store stays open while any worker is still running; those tasks
// are left to the reaper of the next process.
func (app *Application) Shutdown(ctx context.Context) error {
	<-app.cron.Stop().Done()

	if err := app.TaskManager.Shutdown(ctx); err != nil {
		app.Logger.Warn("leaving task store open", "error", err)
		return err
	}
	return app.Store.Close()
}
