package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/taskhub/taskhub-api/internal/task"
)

const dataProcessingSteps = 10

// DataProcessing simulates analysis of a configurable number of rows and
// returns summary statistics over the synthesized values.
//
// Parameters:
//   - rows: number of rows to analyze (default 1000, must be positive)
//   - step_delay_ms: simulated work per progress step (default 300)
func DataProcessing(ctx context.Context, parameters map[string]any, progress task.ProgressFunc) (map[string]any, error) {
	rows, err := intParam(parameters, "rows", 1000)
	if err != nil {
		return nil, err
	}
	if rows <= 0 {
		return nil, fmt.Errorf("%w: rows must be positive, got %d", ErrInvalidParameters, rows)
	}

	stepDelay, err := delayParam(parameters, "step_delay_ms", 300*time.Millisecond)
	if err != nil {
		return nil, err
	}

	var sum float64
	minValue := -1.0
	maxValue := -1.0
	processed := 0

	// Rows are analyzed in fixed fractional chunks so progress lands on
	// regular intervals regardless of row count.
	for step := 1; step <= dataProcessingSteps; step++ {
		if err := sleepStep(ctx, stepDelay); err != nil {
			return nil, err
		}

		chunkEnd := rows * step / dataProcessingSteps
		for i := processed; i < chunkEnd; i++ {
			value := synthesizeRowValue(i)
			sum += value
			if minValue < 0 || value < minValue {
				minValue = value
			}
			if value > maxValue {
				maxValue = value
			}
		}
		processed = chunkEnd

		progress(step * 100 / dataProcessingSteps)
	}

	if minValue < 0 {
		minValue = 0
	}
	if maxValue < 0 {
		maxValue = 0
	}

	return map[string]any{
		"rows_processed": processed,
		"sum":            sum,
		"mean":           sum / float64(processed),
		"min":            minValue,
		"max":            maxValue,
	}, nil
}

// synthesizeRowValue produces a deterministic pseudo-measurement for one row
// so results are stable across runs with the same parameters.
func synthesizeRowValue(row int) float64 {
	return float64((row*37)%101) + 0.5
}
