package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"refagent/internal/domain"
	"refagent/internal/metrics"
	"refagent/internal/tool"

	"golang.org/x/sync/errgroup"
)

// dispatch executes one batch of tool calls with bounded parallelism and
// returns the outcomes in call order. Tools run on a context detached from
// ctx: cancelling the conversation never interrupts a running tool.
func (l *Loop) dispatch(ctx context.Context, convID string, calls []domain.ToolCall) []domain.ToolOutcome {
	outcomes := make([]domain.ToolOutcome, len(calls))
	toolCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(l.maxParallelTools)
	for i, call := range calls {
		g.Go(func() error {
			outcomes[i] = l.execute(toolCtx, call)
			if l.observer != nil {
				l.observer.ToolFinished(convID, outcomes[i])
			}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// execute runs a single tool call. It never returns an error: every failure
// becomes a failed outcome that is reported back to the LLM.
func (l *Loop) execute(ctx context.Context, call domain.ToolCall) domain.ToolOutcome {
	outcome := l.invoke(ctx, call)

	metrics.ToolExecutions.Inc()
	metrics.ToolLatency.Observe(outcome.Duration.Seconds())
	if outcome.IsOk() {
		l.logger.Info("tool completed", "tool", call.Name, "duration", outcome.Duration)
	} else {
		metrics.ToolFailures(string(outcome.Failure.Kind)).Inc()
		l.logger.Warn("tool failed", "tool", call.Name, "kind", outcome.Failure.Kind, "err", outcome.Failure.Message)
	}
	return outcome
}

func (l *Loop) invoke(ctx context.Context, call domain.ToolCall) domain.ToolOutcome {
	if !l.filter.IsAllowed(call.Name) {
		return domain.Fail(call, domain.KindToolNotFound, fmt.Errorf("%w: %s", domain.ErrToolNotFound, call.Name))
	}
	fn, err := l.tools.GetTool(call.Name)
	if err != nil {
		return domain.FailFromError(call, err)
	}

	if l.logger.Enabled(ctx, slog.LevelDebug) {
		if argsJSON, err := json.Marshal(call.Arguments); err == nil {
			l.logger.Debug("tool arguments", "tool", call.Name, "args", string(argsJSON))
		}
	}

	return tool.Run(ctx, fn, call, l.toolTimeout)
}
