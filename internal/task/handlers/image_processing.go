package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cast"
	"github.com/taskhub/taskhub-api/internal/task"
)

// Supported image operations.
var imageOperations = map[string]bool{
	"resize":   true,
	"convert":  true,
	"compress": true,
}

// ImageProcessing simulates a per-image operation over a configurable image
// count and returns per-image metadata.
//
// Parameters:
//   - image_count: images to process (default 5, must be positive)
//   - operation: one of resize, convert, compress (default resize)
//   - delay_ms: simulated work per image (default 400)
func ImageProcessing(ctx context.Context, parameters map[string]any, progress task.ProgressFunc) (map[string]any, error) {
	count, err := intParam(parameters, "image_count", 5)
	if err != nil {
		return nil, err
	}
	if count <= 0 {
		return nil, fmt.Errorf("%w: image_count must be positive, got %d", ErrInvalidParameters, count)
	}

	operation := "resize"
	if raw, ok := parameters["operation"]; ok && raw != nil {
		operation, err = cast.ToStringE(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: operation must be a string: %v", ErrInvalidParameters, err)
		}
	}
	if !imageOperations[operation] {
		return nil, fmt.Errorf("%w: unsupported operation %q", ErrInvalidParameters, operation)
	}

	delay, err := delayParam(parameters, "delay_ms", 400*time.Millisecond)
	if err != nil {
		return nil, err
	}

	images := make([]any, 0, count)
	for i := 1; i <= count; i++ {
		if err := sleepStep(ctx, delay); err != nil {
			return nil, err
		}

		width := 640 + (i%4)*320
		height := width * 3 / 4
		images = append(images, map[string]any{
			"image":      fmt.Sprintf("image_%03d.jpg", i),
			"operation":  operation,
			"width_px":   width,
			"height_px":  height,
			"size_bytes": width * height / 8,
		})

		progress(i * 100 / count)
	}

	return map[string]any{
		"operation": operation,
		"processed": count,
		"images":    images,
	}, nil
}
