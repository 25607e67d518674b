package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/taskhub/taskhub-api/internal/config"
	"github.com/taskhub/taskhub-api/internal/platform/metrics"
	"github.com/taskhub/taskhub-api/internal/platform/sqlstore"
	"github.com/taskhub/taskhub-api/internal/task"
	"github.com/taskhub/taskhub-api/internal/task/handlers"
)

// application holds the assembled dependencies of the running server.
type application struct {
	config      *config.Config
	logger      *slog.Logger
	db          *sql.DB
	registry    *prometheus.Registry
	taskManager *task.Manager
}

// newApplication wires the full dependency graph: database, schema
// migrations, handler registry, metrics, and the task manager. The manager
// is started here, so crash recovery has already run by the time the HTTP
// server begins accepting requests.
func newApplication(cfg *config.Config, logger *slog.Logger) (*application, error) {
	db, err := setupAppDatabase(cfg, logger)
	if err != nil {
		return nil, err
	}

	if err := runMigrations(db, cfg.Database.Driver, logger); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	registry := task.NewRegistry()
	if err := handlers.RegisterAll(registry); err != nil {
		return nil, fmt.Errorf("failed to register task handlers: %w", err)
	}

	promRegistry := prometheus.NewRegistry()
	taskMetrics := metrics.New(promRegistry)

	taskStore := sqlstore.NewSQLTaskStore(db, logger)
	manager := task.NewManager(
		taskStore,
		registry,
		task.ManagerConfig{QueueSize: cfg.Task.QueueSize},
		logger,
		taskMetrics,
	)

	if err := manager.Start(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to start task manager: %w", err)
	}

	logger.Info("application assembled",
		"task_types", registry.Types(),
		"queue_size", cfg.Task.QueueSize)

	return &application{
		config:      cfg,
		logger:      logger,
		db:          db,
		registry:    promRegistry,
		taskManager: manager,
	}, nil
}

// cleanup releases application resources in reverse dependency order.
func (app *application) cleanup() {
	app.taskManager.Stop()

	if err := app.db.Close(); err != nil {
		app.logger.Error("failed to close database", "error", err)
	}
}
