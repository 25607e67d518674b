package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/taskhub/taskhub-api/internal/domain"
)

// runWorker is the single long-lived execution loop. It blocks while the
// queue is empty and drains one id at a time, so execution order equals
// enqueue order. Exactly one worker runs per manager.
func (m *Manager) runWorker() {
	defer m.wg.Done()

	m.logger.Debug("starting worker")

	for {
		select {
		case <-m.ctx.Done():
			m.logger.Debug("stopping worker")
			return

		case id, ok := <-m.queue.Channel():
			if !ok {
				m.logger.Debug("task queue closed, stopping worker")
				return
			}
			m.executeTask(id)
			m.metrics.SetQueueDepth(m.queue.Len())
		}
	}
}

// executeTask runs one dequeued task through its full lifecycle. Handler
// errors and panics are absorbed at this boundary and recorded as FAILED;
// nothing that happens inside a handler may take the worker loop down.
func (m *Manager) executeTask(id uuid.UUID) {
	// Worker-side persistence deliberately uses a background context:
	// in-flight state must still be writable while the manager shuts down.
	ctx := context.Background()

	m.mu.Lock()
	record, exists := m.records[id]
	if !exists {
		m.mu.Unlock()
		m.logger.Warn("dequeued unknown task id", "task_id", id)
		return
	}

	// The record may have been cancelled while queued; never move it to
	// RUNNING in that case.
	if record.IsTerminal() {
		status := record.Status
		m.mu.Unlock()
		m.logger.Debug("skipping task already in terminal state",
			"task_id", id,
			"status", status)
		return
	}

	if record.Status != domain.TaskStatusPending {
		status := record.Status
		m.mu.Unlock()
		m.logger.Warn("dequeued task in unexpected state",
			"task_id", id,
			"status", status)
		return
	}

	handler, resolveErr := m.registry.Resolve(record.TaskType)

	if err := record.MarkRunning(time.Now()); err != nil {
		m.mu.Unlock()
		m.logger.Error("failed to start task", "task_id", id, "error", err)
		return
	}
	if err := m.store.Save(ctx, record); err != nil {
		m.logger.Error("failed to persist running task",
			"task_id", id,
			"error", err)
	}

	taskCtx, cancelTask := context.WithCancel(m.ctx)
	m.cancels[id] = cancelTask
	parameters := record.Clone().Parameters
	taskType := record.TaskType
	m.mu.Unlock()

	m.metrics.TaskStarted()
	logger := m.logger.With("task_id", id, "task_type", taskType)
	logger.Info("task started")

	// Each progress report is persisted before the handler moves on, which
	// makes every checkpoint durable and doubles as the cancellation
	// observation point.
	progress := func(percent int) {
		m.mu.Lock()
		defer m.mu.Unlock()

		if err := record.SetProgress(percent); err != nil {
			return
		}
		if err := m.store.Save(ctx, record); err != nil {
			logger.Error("failed to persist task progress",
				"progress", percent,
				"error", err)
		}
	}

	started := time.Now()
	var result map[string]any
	var runErr error
	if resolveErr != nil {
		// Only reachable for records recovered from a store written by a
		// build that registered more task types.
		runErr = resolveErr
	} else {
		result, runErr = invokeHandler(taskCtx, handler, parameters, progress)
	}
	m.metrics.ObserveRunDuration(time.Since(started).Seconds())

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cancels, id)
	cancelTask()

	now := time.Now()
	switch {
	case runErr == nil:
		// A successful record always carries a result object, even when
		// the handler had no payload to report.
		if result == nil {
			result = map[string]any{}
		}
		if err := record.MarkSucceeded(result, now); err != nil {
			logger.Error("failed to complete task", "error", err)
			return
		}
		m.metrics.TaskSucceeded()
		logger.Info("task completed successfully", "duration_ms", time.Since(started).Milliseconds())

	case errors.Is(runErr, context.Canceled):
		if m.ctx.Err() != nil {
			// Shutdown, not a user cancellation: leave the record RUNNING
			// so the next startup reconciles it as interrupted.
			logger.Warn("task interrupted by shutdown", "progress", record.Progress)
			if err := m.store.Save(ctx, record); err != nil {
				logger.Error("failed to persist interrupted task", "error", err)
			}
			return
		}
		if err := record.MarkCancelled(now); err != nil {
			logger.Error("failed to cancel task", "error", err)
			return
		}
		m.metrics.TaskCancelled()
		logger.Info("task cancelled")

	default:
		if err := record.MarkFailed(runErr.Error(), now); err != nil {
			logger.Error("failed to mark task failed", "error", err)
			return
		}
		m.metrics.TaskFailed()
		logger.Error("task execution failed", "error", runErr)
	}

	if err := m.store.Save(ctx, record); err != nil {
		logger.Error("failed to persist terminal task state", "error", err)
	}
}

// invokeHandler calls the handler with panic recovery, converting a panic
// into an ordinary handler error.
func invokeHandler(
	ctx context.Context,
	handler HandlerFunc,
	parameters map[string]any,
	progress ProgressFunc,
) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	return handler(ctx, parameters, progress)
}
