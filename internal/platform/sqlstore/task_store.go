// Package sqlstore implements store.TaskStore on top of database/sql.
//
// The SQL it emits is deliberately portable between the two supported
// backends: the embedded pure-Go SQLite driver (modernc.org/sqlite, the
// default) and Postgres via pgx's database/sql driver. Both accept $1-style
// placeholders and ON CONFLICT upserts.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/taskhub/taskhub-api/internal/domain"
	"github.com/taskhub/taskhub-api/internal/store"
)

// SQLTaskStore implements the store.TaskStore interface over database/sql.
type SQLTaskStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewSQLTaskStore creates a new SQLTaskStore.
func NewSQLTaskStore(db store.DBTX, logger *slog.Logger) *SQLTaskStore {
	return &SQLTaskStore{
		db:     db,
		logger: logger.With("component", "sqlstore"),
	}
}

// Save writes the full current record to durable storage, inserting the row
// or replacing it if the id already exists.
func (s *SQLTaskStore) Save(ctx context.Context, record *domain.TaskRecord) error {
	parameters, err := encodeJSONColumn(record.Parameters)
	if err != nil {
		return store.NewStoreError("save", "failed to encode parameters", err)
	}

	resultData, err := encodeJSONColumn(record.ResultData)
	if err != nil {
		return store.NewStoreError("save", "failed to encode result data", err)
	}

	query := `
		INSERT INTO tasks (id, task_type, parameters, status, progress,
			result_data, error_message, created_at, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			progress = EXCLUDED.progress,
			result_data = EXCLUDED.result_data,
			error_message = EXCLUDED.error_message,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at
	`

	_, err = s.db.ExecContext(ctx, query,
		record.ID.String(),
		record.TaskType,
		parameters,
		string(record.Status),
		record.Progress,
		resultData,
		nullString(record.ErrorMessage),
		record.CreatedAt.UTC(),
		nullTime(record.StartedAt),
		nullTime(record.CompletedAt),
	)
	if err != nil {
		s.logger.Error("failed to save task",
			"task_id", record.ID,
			"task_type", record.TaskType,
			"status", record.Status,
			"error", err)
		return store.NewStoreError("save", "failed to write task row", err)
	}

	return nil
}

// SaveAll writes all given records to durable storage.
func (s *SQLTaskStore) SaveAll(ctx context.Context, records []*domain.TaskRecord) error {
	for _, record := range records {
		if err := s.Save(ctx, record); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes the row keyed by the given id. Deleting an id that does
// not exist is a no-op.
func (s *SQLTaskStore) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id.String())
	if err != nil {
		s.logger.Error("failed to delete task", "task_id", id, "error", err)
		return store.NewStoreError("delete", "failed to delete task row", err)
	}
	return nil
}

// Load returns all persisted task records in creation order. It fails with
// store.ErrStorageCorrupt when a row cannot be parsed back into a record;
// unreadable state must surface at startup, not be silently discarded.
func (s *SQLTaskStore) Load(ctx context.Context) ([]*domain.TaskRecord, error) {
	query := `
		SELECT id, task_type, parameters, status, progress,
			result_data, error_message, created_at, started_at, completed_at
		FROM tasks
		ORDER BY created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, store.NewStoreError("load", "failed to query tasks", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			s.logger.Error("failed to close task rows", "error", err)
		}
	}()

	records := make([]*domain.TaskRecord, 0)
	for rows.Next() {
		record, err := scanTaskRow(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("load", "error iterating task rows", err)
	}

	return records, nil
}

// scanTaskRow converts one row into a TaskRecord, mapping parse failures to
// ErrStorageCorrupt.
func scanTaskRow(rows *sql.Rows) (*domain.TaskRecord, error) {
	var (
		id           string
		taskType     string
		parameters   sql.NullString
		status       string
		progress     int
		resultData   sql.NullString
		errorMessage sql.NullString
		createdAt    time.Time
		startedAt    sql.NullTime
		completedAt  sql.NullTime
	)

	if err := rows.Scan(&id, &taskType, &parameters, &status, &progress,
		&resultData, &errorMessage, &createdAt, &startedAt, &completedAt); err != nil {
		return nil, fmt.Errorf("%w: failed to scan task row: %v", store.ErrStorageCorrupt, err)
	}

	taskID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid task id %q: %v", store.ErrStorageCorrupt, id, err)
	}

	taskStatus, err := domain.ParseTaskStatus(status)
	if err != nil {
		return nil, fmt.Errorf("%w: task %s has invalid status %q", store.ErrStorageCorrupt, id, status)
	}

	params, err := decodeJSONColumn(parameters)
	if err != nil {
		return nil, fmt.Errorf("%w: task %s has unparsable parameters: %v", store.ErrStorageCorrupt, id, err)
	}

	result, err := decodeJSONColumn(resultData)
	if err != nil {
		return nil, fmt.Errorf("%w: task %s has unparsable result data: %v", store.ErrStorageCorrupt, id, err)
	}

	record := &domain.TaskRecord{
		ID:           taskID,
		TaskType:     taskType,
		Parameters:   params,
		Status:       taskStatus,
		Progress:     progress,
		ResultData:   result,
		ErrorMessage: errorMessage.String,
		CreatedAt:    createdAt.UTC(),
	}
	if startedAt.Valid {
		started := startedAt.Time.UTC()
		record.StartedAt = &started
	}
	if completedAt.Valid {
		completed := completedAt.Time.UTC()
		record.CompletedAt = &completed
	}

	if err := record.Validate(); err != nil {
		return nil, fmt.Errorf("%w: task %s failed validation: %v", store.ErrStorageCorrupt, id, err)
	}

	return record, nil
}

func encodeJSONColumn(m map[string]any) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeJSONColumn(column sql.NullString) (map[string]any, error) {
	if !column.Valid || column.String == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(column.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
