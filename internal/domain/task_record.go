package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of a task
type TaskStatus string

// Possible task status values
const (
	TaskStatusPending   TaskStatus = "PENDING"
	TaskStatusRunning   TaskStatus = "RUNNING"
	TaskStatusSuccess   TaskStatus = "SUCCESS"
	TaskStatusFailed    TaskStatus = "FAILED"
	TaskStatusCancelled TaskStatus = "CANCELLED"
)

// Common validation errors for TaskRecord
var (
	ErrEmptyTaskType     = errors.New("task type cannot be empty")
	ErrInvalidTaskStatus = errors.New("invalid task status")
	ErrInvalidTransition = errors.New("invalid task state transition")
	ErrInvalidProgress   = errors.New("progress must be between 0 and 100")
)

// TaskRecord represents one submitted unit of asynchronous work and its
// tracked lifecycle state. Identity fields (ID, TaskType, Parameters,
// CreatedAt) are immutable after creation; lifecycle fields are mutated
// only through the transition methods below, which enforce the state
// machine: PENDING -> RUNNING -> {SUCCESS, FAILED, CANCELLED}, with
// PENDING -> CANCELLED allowed for tasks cancelled before execution.
// Terminal states are absorbing.
type TaskRecord struct {
	ID           uuid.UUID      `json:"id"`
	TaskType     string         `json:"task_type"`
	Parameters   map[string]any `json:"parameters"`
	Status       TaskStatus     `json:"status"`
	Progress     int            `json:"progress"`
	CreatedAt    time.Time      `json:"created_at"`
	StartedAt    *time.Time     `json:"started_at"`
	CompletedAt  *time.Time     `json:"completed_at"`
	ResultData   map[string]any `json:"result_data"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

// NewTaskRecord creates a new TaskRecord with the given type and parameters.
// It generates a new UUID, sets the status to PENDING with zero progress,
// and sets the creation timestamp.
// Returns an error if validation fails.
func NewTaskRecord(taskType string, parameters map[string]any) (*TaskRecord, error) {
	record := &TaskRecord{
		ID:         uuid.New(),
		TaskType:   taskType,
		Parameters: copyMap(parameters),
		Status:     TaskStatusPending,
		Progress:   0,
		CreatedAt:  time.Now().UTC(),
	}

	if err := record.Validate(); err != nil {
		return nil, err
	}

	return record, nil
}

// Validate checks if the TaskRecord has valid data.
// Returns an error if any field fails validation.
func (t *TaskRecord) Validate() error {
	if t.TaskType == "" {
		return ErrEmptyTaskType
	}

	if !isValidTaskStatus(t.Status) {
		return fmt.Errorf("%w: %q", ErrInvalidTaskStatus, t.Status)
	}

	if t.Progress < 0 || t.Progress > 100 {
		return ErrInvalidProgress
	}

	return nil
}

// IsTerminal reports whether the record has reached a state from which no
// further transition occurs.
func (t *TaskRecord) IsTerminal() bool {
	switch t.Status {
	case TaskStatusSuccess, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// MarkRunning transitions the record from PENDING to RUNNING and records
// the start timestamp.
func (t *TaskRecord) MarkRunning(now time.Time) error {
	if t.Status != TaskStatusPending {
		return fmt.Errorf("%w: cannot start task in status %s", ErrInvalidTransition, t.Status)
	}

	started := now.UTC()
	t.Status = TaskStatusRunning
	t.StartedAt = &started
	return nil
}

// SetProgress updates the progress percentage. Progress is clamped to
// [0,100] and never decreases while the task is RUNNING.
func (t *TaskRecord) SetProgress(percent int) error {
	if t.Status != TaskStatusRunning {
		return fmt.Errorf("%w: cannot report progress in status %s", ErrInvalidTransition, t.Status)
	}

	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	if percent > t.Progress {
		t.Progress = percent
	}
	return nil
}

// MarkSucceeded transitions the record from RUNNING to SUCCESS, storing the
// handler's result payload and forcing progress to 100.
func (t *TaskRecord) MarkSucceeded(result map[string]any, now time.Time) error {
	if t.Status != TaskStatusRunning {
		return fmt.Errorf("%w: cannot complete task in status %s", ErrInvalidTransition, t.Status)
	}

	completed := now.UTC()
	t.Status = TaskStatusSuccess
	t.Progress = 100
	t.ResultData = copyMap(result)
	t.ErrorMessage = ""
	t.CompletedAt = &completed
	return nil
}

// MarkFailed transitions the record from RUNNING to FAILED with the given
// error message.
func (t *TaskRecord) MarkFailed(errorMessage string, now time.Time) error {
	if t.Status != TaskStatusRunning {
		return fmt.Errorf("%w: cannot fail task in status %s", ErrInvalidTransition, t.Status)
	}

	completed := now.UTC()
	t.Status = TaskStatusFailed
	t.ResultData = nil
	t.ErrorMessage = errorMessage
	t.CompletedAt = &completed
	return nil
}

// MarkCancelled transitions the record to CANCELLED. Legal from PENDING
// (cancelled before execution) and from RUNNING (cancellation observed by
// the handler); illegal once terminal.
func (t *TaskRecord) MarkCancelled(now time.Time) error {
	if t.IsTerminal() {
		return fmt.Errorf("%w: cannot cancel task in status %s", ErrInvalidTransition, t.Status)
	}

	completed := now.UTC()
	t.Status = TaskStatusCancelled
	t.ResultData = nil
	t.ErrorMessage = ""
	t.CompletedAt = &completed
	return nil
}

// Clone returns a deep copy of the record. Callers outside the task manager
// only ever see clones, so concurrent reads never observe a mutation in
// flight.
func (t *TaskRecord) Clone() *TaskRecord {
	clone := *t
	clone.Parameters = copyMap(t.Parameters)
	clone.ResultData = copyMap(t.ResultData)
	if t.StartedAt != nil {
		started := *t.StartedAt
		clone.StartedAt = &started
	}
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		clone.CompletedAt = &completed
	}
	return &clone
}

// ParseTaskStatus converts a string to a TaskStatus.
// Returns an error if the string is not a valid status value.
func ParseTaskStatus(s string) (TaskStatus, error) {
	status := TaskStatus(s)
	if !isValidTaskStatus(status) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTaskStatus, s)
	}
	return status, nil
}

// isValidTaskStatus checks if the given status is a valid TaskStatus.
func isValidTaskStatus(status TaskStatus) bool {
	switch status {
	case TaskStatusPending, TaskStatusRunning, TaskStatusSuccess,
		TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
