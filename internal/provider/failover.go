package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"refagent/internal/domain"
)

// FailoverProvider tries multiple providers in order, falling back to the next
// one when the current fails.
type FailoverProvider struct {
	providers []domain.Provider
	logger    *slog.Logger
}

// NewFailoverProvider creates a failover chain from the given providers.
// At least one provider is required.
func NewFailoverProvider(providers []domain.Provider, logger *slog.Logger) *FailoverProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &FailoverProvider{
		providers: providers,
		logger:    logger,
	}
}

func (fp *FailoverProvider) Name() string {
	names := make([]string, len(fp.providers))
	for i, p := range fp.providers {
		names[i] = p.Name()
	}
	return "failover(" + strings.Join(names, "→") + ")"
}

func (fp *FailoverProvider) Healthy(ctx context.Context) error {
	var errs []error
	for _, p := range fp.providers {
		err := p.Healthy(ctx)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	return fmt.Errorf("no healthy provider in failover chain: %w", errors.Join(errs...))
}

// Chat tries each provider in order and returns the first successful response.
//
// When every provider fails and at least one of them was rate limited, the
// result is a *domain.RateLimitError carrying the shortest Retry-After hint,
// so the caller backs off and retries the whole chain instead of giving up.
func (fp *FailoverProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	var (
		lastErr   error
		rateLimit *domain.RateLimitError
	)
	for i, p := range fp.providers {
		resp, err := p.Chat(ctx, req)
		if err == nil {
			if i > 0 {
				fp.logger.Info("failover: used fallback provider",
					"provider", p.Name(),
					"attempt", i+1,
				)
			}
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		lastErr = err

		var rl *domain.RateLimitError
		if errors.As(err, &rl) {
			rateLimit = shorterHint(rateLimit, rl)
		}
		fp.logger.Warn("failover: provider failed, trying next",
			"provider", p.Name(),
			"attempt", i+1,
			"error", err,
		)
	}
	if lastErr == nil {
		return nil, errors.New("failover chain is empty")
	}
	if rateLimit != nil {
		return nil, &domain.RateLimitError{
			RetryAfter: rateLimit.RetryAfter,
			Err:        fmt.Errorf("all providers in failover chain failed: %w", lastErr),
		}
	}
	return nil, fmt.Errorf("all providers in failover chain failed: %w", lastErr)
}

// shorterHint keeps the rate limit with the smallest positive wait. A hint of
// zero means "unknown" and loses to any concrete hint.
func shorterHint(cur, next *domain.RateLimitError) *domain.RateLimitError {
	if cur == nil {
		return next
	}
	if next.RetryAfter > 0 && (cur.RetryAfter == 0 || next.RetryAfter < cur.RetryAfter) {
		return next
	}
	return cur
}
