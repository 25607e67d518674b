package task

import (
	"context"
	"errors"
	"fmt"
)

// Errors returned synchronously by task manager operations.
var (
	// ErrUnknownTaskType is returned by Submit when the task type has no
	// registered handler. It surfaces at submission time, before a record
	// is created or a queue slot is occupied.
	ErrUnknownTaskType = errors.New("unknown task type")

	// ErrInvalidTaskState is returned when an operation is not legal for
	// the record's current status, such as cancelling a terminal task or
	// retrying a task that has not failed.
	ErrInvalidTaskState = errors.New("operation not valid for task state")
)

// ProgressFunc reports handler progress as a percentage in [0,100].
// The manager persists each report, so a reported value is durable by the
// time the call returns.
type ProgressFunc func(percent int)

// HandlerFunc performs the work for one task type.
//
// Handlers receive the submitted parameters untouched and must report
// progress at bounded intervals. Cancellation is cooperative: the context is
// cancelled when a caller requests it, and handlers must check ctx between
// progress checkpoints, returning ctx.Err() so the worker records the task
// as CANCELLED rather than FAILED. The returned map becomes the record's
// result data on success.
type HandlerFunc func(ctx context.Context, parameters map[string]any, progress ProgressFunc) (map[string]any, error)

func fmtUnknownType(taskType string) error {
	return fmt.Errorf("%w: %q", ErrUnknownTaskType, taskType)
}
