package task

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Common errors returned by the Queue
var (
	ErrQueueClosed = errors.New("task queue is closed")
	ErrQueueFull   = errors.New("task queue is full")
)

// Queue is a buffered FIFO of pending task ids awaiting execution.
//
// Only ids travel through the queue; the record itself lives in the manager
// and is re-checked at dequeue time, so a task cancelled while queued is
// never executed. The worker blocks on the channel while the queue is
// empty; there is no polling.
type Queue struct {
	ids    chan uuid.UUID
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

// NewQueue creates a new task id queue with the specified buffer size.
func NewQueue(size int, logger *slog.Logger) *Queue {
	return &Queue{
		ids:    make(chan uuid.UUID, size),
		logger: logger,
	}
}

// Enqueue adds a task id to the queue for processing.
// Returns an error if the queue is full or closed; it never blocks the
// caller's request path.
func (q *Queue) Enqueue(id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.ids <- id:
		q.logger.Debug("task enqueued",
			"task_id", id,
			"queue_len", len(q.ids),
			"queue_cap", cap(q.ids))
		return nil
	default:
		return fmt.Errorf("%w: queue capacity %d reached", ErrQueueFull, cap(q.ids))
	}
}

// Close closes the queue, preventing further task submission.
// Already-queued ids can still be drained by the worker.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.ids)
		q.logger.Info("task queue closed")
	}
}

// Channel returns a read-only channel for consuming task ids.
func (q *Queue) Channel() <-chan uuid.UUID {
	return q.ids
}

// Len returns the number of ids currently waiting in the queue.
func (q *Queue) Len() int {
	return len(q.ids)
}
