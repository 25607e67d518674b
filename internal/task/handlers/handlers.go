package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cast"
	"github.com/taskhub/taskhub-api/internal/task"
)

// Task type tags for the built-in handlers.
const (
	TypeDataProcessing  = "data_processing"
	TypeEmailSimulation = "email_simulation"
	TypeImageProcessing = "image_processing"
)

// ErrInvalidParameters wraps parameter validation failures so they read
// uniformly in the failed record's error message.
var ErrInvalidParameters = errors.New("invalid task parameters")

// RegisterAll binds all built-in handlers to the registry.
func RegisterAll(registry *task.Registry) error {
	bindings := map[string]task.HandlerFunc{
		TypeDataProcessing:  DataProcessing,
		TypeEmailSimulation: EmailSimulation,
		TypeImageProcessing: ImageProcessing,
	}

	for taskType, handler := range bindings {
		if err := registry.Register(taskType, handler); err != nil {
			return fmt.Errorf("failed to register %s handler: %w", taskType, err)
		}
	}
	return nil
}

// sleepStep waits out one simulated work step or returns early with ctx.Err()
// when cancellation is requested. Every delay doubles as a cancellation
// checkpoint.
func sleepStep(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// intParam reads an integer parameter, tolerating the float64 numbers JSON
// decoding produces. Falls back to def when the key is absent.
func intParam(parameters map[string]any, key string, def int) (int, error) {
	raw, ok := parameters[key]
	if !ok || raw == nil {
		return def, nil
	}
	value, err := cast.ToIntE(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer: %v", ErrInvalidParameters, key, err)
	}
	return value, nil
}

// delayParam reads a millisecond delay parameter as a duration.
func delayParam(parameters map[string]any, key string, def time.Duration) (time.Duration, error) {
	ms, err := intParam(parameters, key, int(def.Milliseconds()))
	if err != nil {
		return 0, err
	}
	if ms < 0 {
		return 0, fmt.Errorf("%w: %s cannot be negative", ErrInvalidParameters, key)
	}
	return time.Duration(ms) * time.Millisecond, nil
}
