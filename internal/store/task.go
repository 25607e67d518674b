package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/taskhub/taskhub-api/internal/domain"
)

// TaskStore defines the interface for persisting task records.
//
// Persisted state is the sole source of truth after a restart: Load is
// called once at startup and every in-memory mutation is followed by a Save
// before the mutation is considered complete, so a crash between mutation
// and save is observably "as if the mutation never happened".
type TaskStore interface {
	// Load returns all persisted task records in creation order.
	// It returns an empty slice if no prior data exists and fails with
	// ErrStorageCorrupt if persisted data cannot be parsed.
	Load(ctx context.Context) ([]*domain.TaskRecord, error)

	// Save writes the full current record to durable storage, inserting or
	// replacing the row keyed by the record's ID.
	Save(ctx context.Context, record *domain.TaskRecord) error

	// SaveAll writes all given records to durable storage.
	SaveAll(ctx context.Context, records []*domain.TaskRecord) error

	// Delete removes the row keyed by the given id. Deleting an id that
	// does not exist is not an error.
	Delete(ctx context.Context, id uuid.UUID) error
}

// DBTX is an interface that abstracts the database access layer.
// It is implemented by both *sql.DB and *sql.Tx, allowing store code
// to work with either a database connection or a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}
