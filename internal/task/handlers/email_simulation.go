package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/taskhub/taskhub-api/internal/task"
)

// EmailSimulation simulates delivery to a configurable recipient list with a
// per-recipient delay and returns sent/failed counts.
//
// Parameters:
//   - recipient_count: recipients to deliver to (default 10, must be positive)
//   - delay_ms: simulated delivery time per recipient (default 200)
//   - fail_every: every Nth recipient fails delivery; 0 disables failures
//     (default 0)
func EmailSimulation(ctx context.Context, parameters map[string]any, progress task.ProgressFunc) (map[string]any, error) {
	recipients, err := intParam(parameters, "recipient_count", 10)
	if err != nil {
		return nil, err
	}
	if recipients <= 0 {
		return nil, fmt.Errorf("%w: recipient_count must be positive, got %d", ErrInvalidParameters, recipients)
	}

	delay, err := delayParam(parameters, "delay_ms", 200*time.Millisecond)
	if err != nil {
		return nil, err
	}

	failEvery, err := intParam(parameters, "fail_every", 0)
	if err != nil {
		return nil, err
	}
	if failEvery < 0 {
		return nil, fmt.Errorf("%w: fail_every cannot be negative", ErrInvalidParameters)
	}

	sent := 0
	failed := 0
	for i := 1; i <= recipients; i++ {
		if err := sleepStep(ctx, delay); err != nil {
			return nil, err
		}

		if failEvery > 0 && i%failEvery == 0 {
			failed++
		} else {
			sent++
		}

		progress(i * 100 / recipients)
	}

	return map[string]any{
		"recipients": recipients,
		"sent":       sent,
		"failed":     failed,
	}, nil
}
