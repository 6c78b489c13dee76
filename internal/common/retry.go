package common

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/buildledger/matchengine/internal/service"
)

var (
	// ErrRateLimit indicates that the provider rate limit has been exceeded.
	ErrRateLimit = errors.New("rate limit exceeded")
	// ErrMaxRetries indicates that all retry attempts have been exhausted.
	ErrMaxRetries = errors.New("max retries exceeded")
)

// RetryableError marks whether an error is worth retrying. Errors not wrapped
// in it are treated as retryable.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// WithRetry runs operation with exponential backoff until it succeeds, a
// non-retryable error occurs, the context ends, or attempts run out.
func WithRetry(ctx context.Context, operation func() error, opts service.RetryOptions) error {
	opts = normalizeRetryOptions(opts)

	var lastErr error
	delay := opts.InitialDelay

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			slog.Warn("retrying operation",
				"attempt", attempt,
				"max_attempts", opts.MaxAttempts,
				"delay", delay,
				"error", lastErr)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = min(time.Duration(float64(delay)*opts.Multiplier), opts.MaxDelay)
		}

		lastErr = operation()
		if lastErr == nil {
			return nil
		}

		var re *RetryableError
		if errors.As(lastErr, &re) && !re.Retryable {
			return lastErr
		}

		// Rate limits jump to the maximum backoff straight away.
		if errors.Is(lastErr, ErrRateLimit) {
			delay = opts.MaxDelay
		}
	}

	return fmt.Errorf("%w after %d attempts: %v", ErrMaxRetries, opts.MaxAttempts, lastErr)
}

func normalizeRetryOptions(opts service.RetryOptions) service.RetryOptions {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = 100 * time.Millisecond
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 30 * time.Second
	}
	if opts.Multiplier <= 0 {
		opts.Multiplier = 2.0
	}
	return opts
}
