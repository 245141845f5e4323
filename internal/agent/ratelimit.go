package agent

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimiter paces LLM requests on the client side so bursts of
// tool-calling turns stay under the provider's request quota.
// A nil *RateLimiter never waits.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter allows maxBurst requests at once, refilled at ratePerMinute.
// A non-positive ratePerMinute disables pacing.
func NewRateLimiter(maxBurst int, ratePerMinute float64) *RateLimiter {
	if ratePerMinute <= 0 {
		return nil
	}
	if maxBurst <= 0 {
		maxBurst = 5
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(ratePerMinute/60.0), maxBurst)}
}

// Wait blocks until a request may be sent or ctx is done. When the next slot
// lies beyond ctx's deadline it fails at once with an error matching
// context.DeadlineExceeded.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl == nil {
		return ctx.Err()
	}
	if err := rl.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return nil
}
