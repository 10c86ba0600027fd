package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rendis/colloquy/pkg/schema"
)

// IsRecoverable reports whether err may be handled by a step's error-handling
// strategy. Unknown error types are treated as recoverable execution errors.
func IsRecoverable(err error) bool {
	var de *schema.DialogError
	if errors.As(err, &de) {
		return de.Recoverable()
	}
	return err != nil
}

// ComputeBackoff returns the delay before the given retry attempt (1-based).
// Exponential backoff doubles the base delay per attempt, capped at 30s.
func ComputeBackoff(eh *schema.ErrorHandling, attempt int) time.Duration {
	if eh == nil || eh.RetryDelay == "" {
		return 0
	}
	base, err := time.ParseDuration(eh.RetryDelay)
	if err != nil || base <= 0 {
		return 0
	}

	const maxBackoff = 30 * time.Second

	switch eh.Backoff {
	case "exponential":
		d := base
		for i := 1; i < attempt; i++ {
			d *= 2
			if d >= maxBackoff {
				return maxBackoff
			}
		}
		return d
	default: // none, constant
		return base
	}
}

// WaitForBackoff blocks for the given delay or until the context is done.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return schema.NewError(schema.ErrCodeExecution, "backoff interrupted: context cancelled").
			WithCause(ctx.Err())
	}
}
