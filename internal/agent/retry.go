package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"refagent/internal/domain"
	"refagent/internal/metrics"

	"github.com/sethvargo/go-retry"
)

// RetryPolicy bounds how rate-limited LLM requests are retried.
type RetryPolicy struct {
	MaxRetries  int           // retries after the first attempt
	InitialWait time.Duration // first backoff; doubles per retry
	MaxWait     time.Duration // cap on a single backoff
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, InitialWait: 20 * time.Second, MaxWait: 2 * time.Minute}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialWait <= 0 {
		p.InitialWait = time.Millisecond
	}
	if p.MaxWait < p.InitialWait {
		p.MaxWait = p.InitialWait
	}
	return p
}

// backoff builds the schedule for one request. hint points at the latest
// Retry-After value reported by the provider; it is used as a lower bound.
func (p RetryPolicy) backoff(hint *time.Duration, onWait func(time.Duration)) retry.Backoff {
	b := retry.NewExponential(p.InitialWait)
	b = retry.WithJitterPercent(10, b)
	b = retry.WithCappedDuration(p.MaxWait, b)
	b = retry.WithMaxRetries(uint64(p.MaxRetries), b)

	return retry.BackoffFunc(func() (time.Duration, bool) {
		next, stop := b.Next()
		if stop {
			return 0, true
		}
		if *hint > next {
			next = *hint
		}
		if onWait != nil {
			onWait(next)
		}
		return next, false
	})
}

// complete sends the conversation to the provider, retrying rate-limit
// rejections. Any error it returns other than a context error is a
// *domain.FatalLLMError.
func (l *Loop) complete(ctx context.Context, conv *conversation, tools []domain.WireTool) (*domain.ChatResponse, error) {
	req := domain.ChatRequest{
		Messages:    conv.messages,
		Tools:       tools,
		Model:       l.model,
		MaxTokens:   l.maxTokens,
		Temperature: l.temperature,
	}

	var (
		resp     *domain.ChatResponse
		attempts int
		hint     time.Duration
		paceErr  error
	)
	backoff := l.retry.backoff(&hint, func(wait time.Duration) {
		l.logger.Warn("llm rate limited, backing off",
			"conversation", conv.id, "attempt", attempts, "backoff", wait)
	})

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := l.rateLimiter.Wait(ctx); err != nil {
			paceErr = err
			return err
		}
		attempts++
		conv.result.LLMCalls++
		metrics.LLMRequestsTotal.Inc()

		start := time.Now()
		r, err := l.provider.Chat(ctx, req)
		elapsed := time.Since(start)
		metrics.LLMLatency.Observe(elapsed.Seconds())

		if err != nil {
			if domain.IsRateLimited(err) {
				metrics.LLMRateLimited.Inc()
				hint = 0
				var rl *domain.RateLimitError
				if errors.As(err, &rl) {
					hint = rl.RetryAfter
				}
				return retry.RetryableError(err)
			}
			return err
		}
		if r == nil {
			return errors.New("provider returned an empty response")
		}
		r.LatencyMs = elapsed.Milliseconds()
		resp = r
		return nil
	})

	if err != nil {
		if ctxErr := ctx.Err(); paceErr != nil || (ctxErr != nil && errors.Is(err, ctxErr)) {
			return nil, fmt.Errorf("llm request interrupted: %w", err)
		}
		return nil, &domain.FatalLLMError{Attempts: attempts, Err: err}
	}

	l.logger.Debug("llm response", "conversation", conv.id,
		"tool_calls", len(resp.ToolCalls), "latency_ms", resp.LatencyMs, "attempts", attempts)
	return resp, nil
}
