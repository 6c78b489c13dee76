package llm

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// rateLimiter is a token bucket that refills lazily from elapsed time, so it
// needs no background goroutine. Capacity equals the per-minute request rate.
type rateLimiter struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	perToken time.Duration
	last     time.Time
}

// newRateLimiter creates a rate limiter for the given requests per minute.
func newRateLimiter(requestsPerMinute int) *rateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}

	return &rateLimiter{
		tokens:   float64(requestsPerMinute),
		capacity: float64(requestsPerMinute),
		perToken: time.Minute / time.Duration(requestsPerMinute),
		last:     time.Now(),
	}
}

// wait blocks until a token is available or the context is canceled.
func (rl *rateLimiter) wait(ctx context.Context) error {
	for {
		ready := rl.take()
		if ready <= 0 {
			return nil
		}

		timer := time.NewTimer(ready)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("rate limiter canceled: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

// take consumes a token if one is available, returning zero. Otherwise it
// returns how long until the next token accrues.
func (rl *rateLimiter) take() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	accrued := float64(now.Sub(rl.last)) / float64(rl.perToken)
	rl.tokens = min(rl.tokens+accrued, rl.capacity)
	rl.last = now

	if rl.tokens >= 1 {
		rl.tokens--
		return 0
	}
	return time.Duration((1 - rl.tokens) * float64(rl.perToken))
}
