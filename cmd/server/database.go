package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	// Database drivers are selected at runtime via config.
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/taskhub/taskhub-api/internal/config"
)

// driverName maps the configured driver to its database/sql registration.
func driverName(driver string) (string, error) {
	switch driver {
	case "sqlite":
		return "sqlite", nil
	case "postgres":
		return "pgx", nil
	default:
		return "", fmt.Errorf("unsupported database driver: %q", driver)
	}
}

// setupAppDatabase establishes a connection to the configured database and
// configures the connection pool. Returns the connection if successful, or an
// error if the connection fails.
func setupAppDatabase(cfg *config.Config, logger *slog.Logger) (*sql.DB, error) {
	name, err := driverName(cfg.Database.Driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(name, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if cfg.Database.Driver == "sqlite" {
		// The embedded database serializes writers; a single connection
		// avoids SQLITE_BUSY under concurrent persistence.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Database connection established", "driver", cfg.Database.Driver)
	return db, nil
}
