package tool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"refagent/internal/domain"
)

type callResult struct {
	value any
	err   error
}

// Run executes fn for call with a deadline and turns every failure into a
// failed outcome. A panicking tool yields a tool_execution failure. A tool
// that ignores its context is abandoned once the deadline passes.
func Run(ctx context.Context, fn domain.ToolFunc, call domain.ToolCall, timeout time.Duration) domain.ToolOutcome {
	start := time.Now()
	outcome := run(ctx, fn, call, timeout)
	outcome.Duration = time.Since(start)
	return outcome
}

func run(ctx context.Context, fn domain.ToolFunc, call domain.ToolCall, timeout time.Duration) domain.ToolOutcome {
	if call.ArgumentsError != "" {
		return domain.Fail(call, domain.KindInvalidArguments,
			fmt.Errorf("%w: %s: %s", domain.ErrInvalidArguments, call.Name, call.ArgumentsError))
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Buffered so an abandoned tool can still send and exit.
	done := make(chan callResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- callResult{err: &domain.ToolExecutionError{
					Tool:      call.Name,
					Arguments: call.Arguments,
					Err:       fmt.Errorf("tool panicked: %v", p),
				}}
			}
		}()
		v, err := fn(callCtx, call.Arguments)
		done <- callResult{value: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return domain.FailFromError(call, r.err)
		}
		return domain.Ok(call, r.value)
	case <-callCtx.Done():
		if errors.Is(callCtx.Err(), context.Canceled) {
			return domain.Fail(call, domain.KindToolExecution,
				fmt.Errorf("tool %s interrupted: %w", call.Name, ctx.Err()))
		}
		return domain.Fail(call, domain.KindTimeout,
			fmt.Errorf("tool %s did not finish within %s", call.Name, timeout))
	}
}
