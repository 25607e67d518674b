package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskhub/taskhub-api/internal/domain"
	"github.com/taskhub/taskhub-api/internal/platform/metrics"
	"github.com/taskhub/taskhub-api/internal/store"
)

const (
	pollInterval = 5 * time.Millisecond
	pollTimeout  = 3 * time.Second
)

// quickHandler completes almost immediately with a fixed result.
func quickHandler(ctx context.Context, parameters map[string]any, progress ProgressFunc) (map[string]any, error) {
	progress(50)
	progress(100)
	return map[string]any{"ok": true}, nil
}

// failingHandler always fails.
func failingHandler(ctx context.Context, parameters map[string]any, progress ProgressFunc) (map[string]any, error) {
	progress(10)
	return nil, errors.New("boom")
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	registry := NewRegistry()
	require.NoError(t, registry.Register("quick", quickHandler))
	require.NoError(t, registry.Register("failing", failingHandler))
	return registry
}

func startTestManager(t *testing.T, taskStore store.TaskStore, registry *Registry, queueSize int) *Manager {
	t.Helper()
	manager := NewManager(taskStore, registry, ManagerConfig{QueueSize: queueSize}, setupTestLogger(), nil)
	require.NoError(t, manager.Start(context.Background()))
	t.Cleanup(manager.Stop)
	return manager
}

func waitForStatus(t *testing.T, manager *Manager, id uuid.UUID, status domain.TaskStatus) *domain.TaskRecord {
	t.Helper()
	var record *domain.TaskRecord
	require.Eventually(t, func() bool {
		var err error
		record, err = manager.Get(context.Background(), id)
		return err == nil && record.Status == status
	}, pollTimeout, pollInterval, "task %s never reached %s", id, status)
	return record
}

func TestSubmitAndExecuteToSuccess(t *testing.T) {
	memStore := newMemStore()
	manager := startTestManager(t, memStore, newTestRegistry(t), 10)
	ctx := context.Background()

	record, err := manager.Submit(ctx, "quick", map[string]any{"n": float64(1)})
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, record.Status)
	assert.Equal(t, 0, record.Progress)

	final := waitForStatus(t, manager, record.ID, domain.TaskStatusSuccess)
	assert.Equal(t, 100, final.Progress)
	assert.Equal(t, map[string]any{"ok": true}, final.ResultData)
	assert.Empty(t, final.ErrorMessage)
	require.NotNil(t, final.StartedAt)
	require.NotNil(t, final.CompletedAt)

	// The terminal state is durable
	persisted := memStore.persisted(record.ID)
	require.NotNil(t, persisted)
	assert.Equal(t, domain.TaskStatusSuccess, persisted.Status)
}

func TestSubmitUnknownTaskType(t *testing.T) {
	manager := startTestManager(t, newMemStore(), newTestRegistry(t), 10)
	ctx := context.Background()

	record, err := manager.Submit(ctx, "unregistered_type", nil)

	assert.Nil(t, record)
	assert.ErrorIs(t, err, ErrUnknownTaskType)

	// No record was created
	records, err := manager.List(ctx, "", "")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSubmitSurfacesStoreFailure(t *testing.T) {
	memStore := newMemStore()
	memStore.saveErr = errors.New("disk full")
	manager := startTestManager(t, memStore, newTestRegistry(t), 10)

	record, err := manager.Submit(context.Background(), "quick", nil)

	assert.Nil(t, record)
	assert.ErrorContains(t, err, "disk full")

	records, listErr := manager.List(context.Background(), "", "")
	require.NoError(t, listErr)
	assert.Empty(t, records)
}

func TestExecutionFollowsSubmissionOrder(t *testing.T) {
	manager := startTestManager(t, newMemStore(), newTestRegistry(t), 10)
	ctx := context.Background()

	first, err := manager.Submit(ctx, "quick", nil)
	require.NoError(t, err)
	second, err := manager.Submit(ctx, "quick", nil)
	require.NoError(t, err)

	firstDone := waitForStatus(t, manager, first.ID, domain.TaskStatusSuccess)
	secondDone := waitForStatus(t, manager, second.ID, domain.TaskStatusSuccess)

	require.NotNil(t, firstDone.StartedAt)
	require.NotNil(t, secondDone.StartedAt)
	assert.False(t, secondDone.StartedAt.Before(*firstDone.StartedAt),
		"second task must not start before the first")
}

func TestHandlerErrorMarksFailedWithoutKillingWorker(t *testing.T) {
	manager := startTestManager(t, newMemStore(), newTestRegistry(t), 10)
	ctx := context.Background()

	failed, err := manager.Submit(ctx, "failing", nil)
	require.NoError(t, err)

	record := waitForStatus(t, manager, failed.ID, domain.TaskStatusFailed)
	assert.Equal(t, "boom", record.ErrorMessage)
	assert.Nil(t, record.ResultData)
	require.NotNil(t, record.CompletedAt)

	// The worker loop survives and keeps processing
	next, err := manager.Submit(ctx, "quick", nil)
	require.NoError(t, err)
	waitForStatus(t, manager, next.ID, domain.TaskStatusSuccess)
}

func TestHandlerPanicMarksFailed(t *testing.T) {
	registry := newTestRegistry(t)
	require.NoError(t, registry.Register("panicking",
		func(ctx context.Context, parameters map[string]any, progress ProgressFunc) (map[string]any, error) {
			panic("something broke")
		}))
	manager := startTestManager(t, newMemStore(), registry, 10)

	record, err := manager.Submit(context.Background(), "panicking", nil)
	require.NoError(t, err)

	final := waitForStatus(t, manager, record.ID, domain.TaskStatusFailed)
	assert.Contains(t, final.ErrorMessage, "handler panic")
	assert.Contains(t, final.ErrorMessage, "something broke")
}

func TestHandlerNilResultYieldsEmptyResultData(t *testing.T) {
	registry := newTestRegistry(t)
	require.NoError(t, registry.Register("silent",
		func(ctx context.Context, parameters map[string]any, progress ProgressFunc) (map[string]any, error) {
			return nil, nil
		}))
	manager := startTestManager(t, newMemStore(), registry, 10)

	record, err := manager.Submit(context.Background(), "silent", nil)
	require.NoError(t, err)

	final := waitForStatus(t, manager, record.ID, domain.TaskStatusSuccess)
	require.NotNil(t, final.ResultData)
	assert.Empty(t, final.ResultData)
	assert.Equal(t, 100, final.Progress)
}

func TestGetUnknownTaskID(t *testing.T) {
	manager := startTestManager(t, newMemStore(), newTestRegistry(t), 10)

	record, err := manager.Get(context.Background(), uuid.New())

	assert.Nil(t, record)
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

func TestGetIsIdempotent(t *testing.T) {
	manager := startTestManager(t, newMemStore(), newTestRegistry(t), 10)
	ctx := context.Background()

	record, err := manager.Submit(ctx, "quick", nil)
	require.NoError(t, err)
	waitForStatus(t, manager, record.ID, domain.TaskStatusSuccess)

	first, err := manager.Get(ctx, record.ID)
	require.NoError(t, err)
	second, err := manager.Get(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCancelPendingTask(t *testing.T) {
	registry := newTestRegistry(t)
	release := make(chan struct{})
	require.NoError(t, registry.Register("blocking",
		func(ctx context.Context, parameters map[string]any, progress ProgressFunc) (map[string]any, error) {
			select {
			case <-release:
				return map[string]any{"ok": true}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}))
	memStore := newMemStore()
	manager := startTestManager(t, memStore, registry, 10)
	ctx := context.Background()

	// Occupy the single worker so the victim stays PENDING in the queue.
	blocker, err := manager.Submit(ctx, "blocking", nil)
	require.NoError(t, err)
	victim, err := manager.Submit(ctx, "quick", nil)
	require.NoError(t, err)

	cancelled, err := manager.Cancel(ctx, victim.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCancelled, cancelled.Status)
	assert.Nil(t, cancelled.StartedAt)
	require.NotNil(t, cancelled.CompletedAt)

	// Release the worker; it must skip the cancelled task entirely.
	close(release)
	waitForStatus(t, manager, blocker.ID, domain.TaskStatusSuccess)

	final, err := manager.Get(ctx, victim.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCancelled, final.Status)
	assert.Nil(t, final.StartedAt, "worker must never start a cancelled task")

	persisted := memStore.persisted(victim.ID)
	require.NotNil(t, persisted)
	assert.Equal(t, domain.TaskStatusCancelled, persisted.Status)
}

func TestCancelRunningTaskIsCooperative(t *testing.T) {
	registry := newTestRegistry(t)
	require.NoError(t, registry.Register("waiting",
		func(ctx context.Context, parameters map[string]any, progress ProgressFunc) (map[string]any, error) {
			progress(25)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(10 * time.Second):
				return map[string]any{"ok": true}, nil
			}
		}))
	manager := startTestManager(t, newMemStore(), registry, 10)
	ctx := context.Background()

	record, err := manager.Submit(ctx, "waiting", nil)
	require.NoError(t, err)
	waitForStatus(t, manager, record.ID, domain.TaskStatusRunning)

	// Cancel returns immediately; the transition happens at the handler's
	// next checkpoint.
	returned, err := manager.Cancel(ctx, record.ID)
	require.NoError(t, err)
	assert.Contains(t,
		[]domain.TaskStatus{domain.TaskStatusRunning, domain.TaskStatusCancelled},
		returned.Status)

	final := waitForStatus(t, manager, record.ID, domain.TaskStatusCancelled)
	require.NotNil(t, final.CompletedAt)
	assert.Nil(t, final.ResultData)
	assert.Empty(t, final.ErrorMessage)
}

func TestCancelTerminalTaskFails(t *testing.T) {
	manager := startTestManager(t, newMemStore(), newTestRegistry(t), 10)
	ctx := context.Background()

	record, err := manager.Submit(ctx, "quick", nil)
	require.NoError(t, err)
	done := waitForStatus(t, manager, record.ID, domain.TaskStatusSuccess)

	cancelled, err := manager.Cancel(ctx, record.ID)
	assert.Nil(t, cancelled)
	assert.ErrorIs(t, err, ErrInvalidTaskState)

	// The record is unchanged
	after, err := manager.Get(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, done, after)
}

func TestCancelUnknownTaskID(t *testing.T) {
	manager := startTestManager(t, newMemStore(), newTestRegistry(t), 10)

	_, err := manager.Cancel(context.Background(), uuid.New())

	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

func TestRetryCreatesIndependentRecord(t *testing.T) {
	manager := startTestManager(t, newMemStore(), newTestRegistry(t), 10)
	ctx := context.Background()

	original, err := manager.Submit(ctx, "failing", map[string]any{"attempt": float64(1)})
	require.NoError(t, err)
	failedOriginal := waitForStatus(t, manager, original.ID, domain.TaskStatusFailed)

	retried, err := manager.Retry(ctx, original.ID)
	require.NoError(t, err)
	assert.NotEqual(t, original.ID, retried.ID)
	assert.Equal(t, domain.TaskStatusPending, retried.Status)
	assert.Equal(t, 0, retried.Progress)
	assert.Equal(t, original.TaskType, retried.TaskType)
	assert.Equal(t, original.Parameters, retried.Parameters)

	// The original failed record is left untouched for audit history
	afterRetry, err := manager.Get(ctx, original.ID)
	require.NoError(t, err)
	assert.Equal(t, failedOriginal, afterRetry)

	waitForStatus(t, manager, retried.ID, domain.TaskStatusFailed)
}

func TestRetryRequiresFailedStatus(t *testing.T) {
	manager := startTestManager(t, newMemStore(), newTestRegistry(t), 10)
	ctx := context.Background()

	record, err := manager.Submit(ctx, "quick", nil)
	require.NoError(t, err)
	waitForStatus(t, manager, record.ID, domain.TaskStatusSuccess)

	retried, err := manager.Retry(ctx, record.ID)
	assert.Nil(t, retried)
	assert.ErrorIs(t, err, ErrInvalidTaskState)

	_, err = manager.Retry(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

func TestListFilters(t *testing.T) {
	manager := startTestManager(t, newMemStore(), newTestRegistry(t), 10)
	ctx := context.Background()

	quick, err := manager.Submit(ctx, "quick", nil)
	require.NoError(t, err)
	failing, err := manager.Submit(ctx, "failing", nil)
	require.NoError(t, err)

	waitForStatus(t, manager, quick.ID, domain.TaskStatusSuccess)
	waitForStatus(t, manager, failing.ID, domain.TaskStatusFailed)

	all, err := manager.List(ctx, "", "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	// Creation order, oldest first
	assert.Equal(t, quick.ID, all[0].ID)
	assert.Equal(t, failing.ID, all[1].ID)

	succeeded, err := manager.List(ctx, domain.TaskStatusSuccess, "")
	require.NoError(t, err)
	require.Len(t, succeeded, 1)
	assert.Equal(t, quick.ID, succeeded[0].ID)

	byType, err := manager.List(ctx, "", "failing")
	require.NoError(t, err)
	require.Len(t, byType, 1)
	assert.Equal(t, failing.ID, byType[0].ID)

	// Both filters are ANDed
	none, err := manager.List(ctx, domain.TaskStatusSuccess, "failing")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestQueueFullSurfacesToSubmitter(t *testing.T) {
	registry := newTestRegistry(t)
	release := make(chan struct{})
	require.NoError(t, registry.Register("blocking",
		func(ctx context.Context, parameters map[string]any, progress ProgressFunc) (map[string]any, error) {
			select {
			case <-release:
				return map[string]any{"ok": true}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}))
	memStore := newMemStore()
	manager := startTestManager(t, memStore, registry, 1)
	ctx := context.Background()

	// First task occupies the worker, second occupies the single queue slot.
	blocker, err := manager.Submit(ctx, "blocking", nil)
	require.NoError(t, err)
	waitForStatus(t, manager, blocker.ID, domain.TaskStatusRunning)
	queued, err := manager.Submit(ctx, "quick", nil)
	require.NoError(t, err)

	rejected, err := manager.Submit(ctx, "quick", nil)
	assert.Nil(t, rejected)
	assert.ErrorIs(t, err, ErrQueueFull)

	// The rejected submission leaves no trace: not in List, not durable,
	// so a restart cannot resurrect work the caller was told failed.
	records, err := manager.List(ctx, "", "")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, blocker.ID, records[0].ID)
	assert.Equal(t, queued.ID, records[1].ID)
	assert.Equal(t, 2, memStore.persistedCount())

	close(release)
	waitForStatus(t, manager, queued.ID, domain.TaskStatusSuccess)
}

// counterValue sums a counter family across its label combinations.
func counterValue(t *testing.T, registry *prometheus.Registry, name string) float64 {
	t.Helper()

	families, err := registry.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		var total float64
		for _, metric := range family.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
		return total
	}
	return 0
}

func TestMetricsMoveOnTerminalTransitions(t *testing.T) {
	registry := newTestRegistry(t)
	release := make(chan struct{})
	require.NoError(t, registry.Register("blocking",
		func(ctx context.Context, parameters map[string]any, progress ProgressFunc) (map[string]any, error) {
			select {
			case <-release:
				return map[string]any{"ok": true}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}))

	promRegistry := prometheus.NewRegistry()
	manager := NewManager(newMemStore(), registry, ManagerConfig{QueueSize: 10},
		setupTestLogger(), metrics.New(promRegistry))
	require.NoError(t, manager.Start(context.Background()))
	t.Cleanup(manager.Stop)
	ctx := context.Background()

	succeeded, err := manager.Submit(ctx, "quick", nil)
	require.NoError(t, err)
	waitForStatus(t, manager, succeeded.ID, domain.TaskStatusSuccess)

	failed, err := manager.Submit(ctx, "failing", nil)
	require.NoError(t, err)
	waitForStatus(t, manager, failed.ID, domain.TaskStatusFailed)

	// Occupy the worker so the victim can be cancelled while PENDING.
	blocker, err := manager.Submit(ctx, "blocking", nil)
	require.NoError(t, err)
	victim, err := manager.Submit(ctx, "quick", nil)
	require.NoError(t, err)
	_, err = manager.Cancel(ctx, victim.ID)
	require.NoError(t, err)

	close(release)
	waitForStatus(t, manager, blocker.ID, domain.TaskStatusSuccess)

	assert.Equal(t, 4.0, counterValue(t, promRegistry, "taskhub_tasks_submitted_total"))
	assert.Equal(t, 3.0, counterValue(t, promRegistry, "taskhub_tasks_started_total"))
	assert.Equal(t, 2.0, counterValue(t, promRegistry, "taskhub_tasks_succeeded_total"))
	assert.Equal(t, 1.0, counterValue(t, promRegistry, "taskhub_tasks_failed_total"))
	assert.Equal(t, 1.0, counterValue(t, promRegistry, "taskhub_tasks_cancelled_total"))
}

func TestRecoveryReconcilesInterruptedTasks(t *testing.T) {
	memStore := newMemStore()

	running, err := domain.NewTaskRecord("quick", nil)
	require.NoError(t, err)
	require.NoError(t, running.MarkRunning(time.Now()))
	require.NoError(t, running.SetProgress(40))

	pending, err := domain.NewTaskRecord("quick", nil)
	require.NoError(t, err)
	pending.CreatedAt = running.CreatedAt.Add(time.Millisecond)

	succeeded, err := domain.NewTaskRecord("quick", nil)
	require.NoError(t, err)
	succeeded.CreatedAt = running.CreatedAt.Add(2 * time.Millisecond)
	require.NoError(t, succeeded.MarkRunning(time.Now()))
	require.NoError(t, succeeded.MarkSucceeded(map[string]any{"ok": true}, time.Now()))

	memStore.seed = []*domain.TaskRecord{running, pending, succeeded}

	manager := startTestManager(t, memStore, newTestRegistry(t), 10)
	ctx := context.Background()

	// The task interrupted mid-RUNNING is failed, not left stuck
	interrupted, err := manager.Get(ctx, running.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, interrupted.Status)
	assert.Equal(t, "interrupted by restart", interrupted.ErrorMessage)
	require.NotNil(t, interrupted.CompletedAt)

	persisted := memStore.persisted(running.ID)
	require.NotNil(t, persisted)
	assert.Equal(t, domain.TaskStatusFailed, persisted.Status)

	// The pending task is re-enqueued and executed
	waitForStatus(t, manager, pending.ID, domain.TaskStatusSuccess)

	// Terminal records are untouched
	final, err := manager.Get(ctx, succeeded.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusSuccess, final.Status)
}

func TestStartFailsFastOnCorruptStore(t *testing.T) {
	memStore := newMemStore()
	memStore.loadErr = store.ErrStorageCorrupt

	manager := NewManager(memStore, newTestRegistry(t), DefaultManagerConfig(), setupTestLogger(), nil)
	err := manager.Start(context.Background())

	assert.ErrorIs(t, err, store.ErrStorageCorrupt)
}
