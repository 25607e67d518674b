package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/taskhub/taskhub-api/internal/domain"
	"github.com/taskhub/taskhub-api/internal/platform/metrics"
	"github.com/taskhub/taskhub-api/internal/store"
)

// ManagerConfig holds configuration for the task manager.
type ManagerConfig struct {
	// QueueSize determines the buffer size for the in-memory task id queue.
	QueueSize int
}

// DefaultManagerConfig returns a ManagerConfig with reasonable defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		QueueSize: 100,
	}
}

// Manager is the facade consumed by the transport layer: Submit, List, Get,
// Cancel and Retry, plus process lifecycle (Start/Stop).
//
// The manager owns the in-memory record set, which it loads from the store
// at startup and writes back through it on every mutation; all mutations are
// serialized by a single lock, while reads hand out snapshots. It also owns
// the id queue and the single worker goroutine draining it.
type Manager struct {
	store    store.TaskStore
	registry *Registry
	queue    *Queue
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu      sync.RWMutex
	records map[uuid.UUID]*domain.TaskRecord
	order   []uuid.UUID // creation order, backs stable List results
	cancels map[uuid.UUID]context.CancelFunc

	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// NewManager creates a new task manager. The metrics recorder may be nil.
func NewManager(
	taskStore store.TaskStore,
	registry *Registry,
	config ManagerConfig,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Manager {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultManagerConfig().QueueSize
		logger.Warn("invalid queue size specified, using default",
			"default_size", config.QueueSize)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		store:      taskStore,
		registry:   registry,
		queue:      NewQueue(config.QueueSize, logger),
		logger:     logger.With("component", "task_manager"),
		metrics:    m,
		records:    make(map[uuid.UUID]*domain.TaskRecord),
		order:      make([]uuid.UUID, 0),
		cancels:    make(map[uuid.UUID]context.CancelFunc),
		ctx:        ctx,
		cancelFunc: cancel,
	}
}

// Start loads persisted records, reconciles tasks interrupted by a previous
// process, re-enqueues pending work, and starts the worker goroutine.
//
// A store failure here is fatal: without the persisted record set the
// manager cannot guarantee correctness.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.recover(ctx); err != nil {
		return fmt.Errorf("failed to recover tasks: %w", err)
	}

	m.wg.Add(1)
	go m.runWorker()

	return nil
}

// Stop shuts the manager down: the worker context is cancelled, the worker
// drains out, and the queue is closed against further submission.
func (m *Manager) Stop() {
	m.cancelFunc()
	m.wg.Wait()
	m.queue.Close()
}

// recover loads the persisted record set and reconciles it with the fact
// that in-memory queue state did not survive the restart: records left
// RUNNING by a crash cannot be resumed and are marked FAILED, records left
// PENDING are re-enqueued in creation order.
func (m *Manager) recover(ctx context.Context) error {
	records, err := m.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load task records: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var interrupted []*domain.TaskRecord
	var pending []*domain.TaskRecord

	for _, record := range records {
		m.records[record.ID] = record
		m.order = append(m.order, record.ID)

		switch record.Status {
		case domain.TaskStatusRunning:
			if err := record.MarkFailed("interrupted by restart", time.Now()); err != nil {
				return fmt.Errorf("failed to reconcile task %s: %w", record.ID, err)
			}
			interrupted = append(interrupted, record)
		case domain.TaskStatusPending:
			pending = append(pending, record)
		}
	}

	m.logger.Info("recovered persisted tasks",
		"total", len(records),
		"interrupted", len(interrupted),
		"pending", len(pending))

	if len(interrupted) > 0 {
		if err := m.store.SaveAll(ctx, interrupted); err != nil {
			return fmt.Errorf("failed to persist reconciled tasks: %w", err)
		}
	}

	for _, record := range pending {
		if err := m.queue.Enqueue(record.ID); err != nil {
			// Stays PENDING and is picked up again at the next restart.
			m.logger.Error("failed to requeue pending task",
				"task_id", record.ID,
				"task_type", record.TaskType,
				"error", err)
		}
	}
	m.metrics.SetQueueDepth(m.queue.Len())

	return nil
}

// Submit validates the task type, creates a PENDING record, persists it and
// enqueues it for execution. The caller gets the record back immediately;
// execution failures are observed later via Get or List.
func (m *Manager) Submit(ctx context.Context, taskType string, parameters map[string]any) (*domain.TaskRecord, error) {
	if _, err := m.registry.Resolve(taskType); err != nil {
		return nil, err
	}

	record, err := domain.NewTaskRecord(taskType, parameters)
	if err != nil {
		return nil, err
	}

	if err := m.store.Save(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to save task: %w", err)
	}

	m.mu.Lock()
	if err := m.queue.Enqueue(record.ID); err != nil {
		m.mu.Unlock()
		// A rejected submission must leave no trace: the caller got no id
		// back, so the just-persisted row is removed again and the record
		// never becomes visible to List, Get or recovery.
		m.logger.Warn("failed to enqueue task",
			"task_id", record.ID,
			"task_type", taskType,
			"error", err)
		if delErr := m.store.Delete(ctx, record.ID); delErr != nil {
			m.logger.Error("failed to remove rejected task",
				"task_id", record.ID,
				"error", delErr)
		}
		return nil, err
	}
	m.records[record.ID] = record
	m.order = append(m.order, record.ID)
	m.mu.Unlock()

	m.metrics.TaskSubmitted(taskType)
	m.metrics.SetQueueDepth(m.queue.Len())

	m.logger.Info("task submitted",
		"task_id", record.ID,
		"task_type", taskType)

	return record.Clone(), nil
}

// Get returns a snapshot of the record with the given id.
// Returns store.ErrTaskNotFound if the id is unknown.
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*domain.TaskRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, exists := m.records[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", store.ErrTaskNotFound, id)
	}
	return record.Clone(), nil
}

// List returns snapshots of all records matching the optional filters, both
// applied when given (logical AND), in creation order (oldest first).
func (m *Manager) List(ctx context.Context, status domain.TaskStatus, taskType string) ([]*domain.TaskRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]*domain.TaskRecord, 0, len(m.order))
	for _, id := range m.order {
		record := m.records[id]
		if status != "" && record.Status != status {
			continue
		}
		if taskType != "" && record.TaskType != taskType {
			continue
		}
		results = append(results, record.Clone())
	}
	return results, nil
}

// Cancel requests cancellation of the task with the given id.
//
// A PENDING task transitions to CANCELLED immediately and certainly; the
// worker skips it when its id surfaces from the queue. A RUNNING task only
// has its cancellation context fired: the handler observes it at its next
// progress checkpoint, so the returned record may still read RUNNING.
// Returns store.ErrTaskNotFound for unknown ids and ErrInvalidTaskState for
// terminal records.
func (m *Manager) Cancel(ctx context.Context, id uuid.UUID) (*domain.TaskRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, exists := m.records[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", store.ErrTaskNotFound, id)
	}

	if record.IsTerminal() {
		return nil, fmt.Errorf("%w: task %s is already %s", ErrInvalidTaskState, id, record.Status)
	}

	if record.Status == domain.TaskStatusPending {
		previous := record.Clone()
		if err := record.MarkCancelled(time.Now()); err != nil {
			return nil, err
		}
		if err := m.store.Save(ctx, record); err != nil {
			*record = *previous
			return nil, fmt.Errorf("failed to save cancelled task: %w", err)
		}

		m.metrics.TaskCancelled()
		m.logger.Info("pending task cancelled", "task_id", id)
		return record.Clone(), nil
	}

	// RUNNING: cooperative cancellation, effective at the handler's next
	// checkpoint.
	if cancelTask, running := m.cancels[id]; running {
		cancelTask()
		m.logger.Info("cancellation requested for running task", "task_id", id)
	}
	return record.Clone(), nil
}

// Retry resubmits a FAILED task as a brand new record with the same type and
// parameters, fresh id and zero progress; the original record is left
// untouched for audit history. Returns store.ErrTaskNotFound for unknown ids
// and ErrInvalidTaskState unless the record is FAILED.
func (m *Manager) Retry(ctx context.Context, id uuid.UUID) (*domain.TaskRecord, error) {
	m.mu.Lock()
	original, exists := m.records[id]
	if !exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", store.ErrTaskNotFound, id)
	}

	if original.Status != domain.TaskStatusFailed {
		status := original.Status
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: only FAILED tasks can be retried, task %s is %s",
			ErrInvalidTaskState, id, status)
	}

	taskType := original.TaskType
	parameters := original.Clone().Parameters
	m.mu.Unlock()

	record, err := m.Submit(ctx, taskType, parameters)
	if err != nil {
		return nil, err
	}

	m.logger.Info("task retried",
		"original_task_id", id,
		"task_id", record.ID,
		"task_type", taskType)
	return record, nil
}
