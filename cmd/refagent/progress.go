package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"refagent/internal/agent"
	"refagent/internal/domain"

	"github.com/fatih/color"
)

// progress prints conversation steps to the terminal while a question runs.
type progress struct {
	mu  sync.Mutex
	out io.Writer

	faint *color.Color
	ok    *color.Color
	fail  *color.Color
}

func newProgress(out io.Writer) *progress {
	return &progress{
		out:   out,
		faint: color.New(color.Faint),
		ok:    color.New(color.FgGreen),
		fail:  color.New(color.FgRed),
	}
}

func (p *progress) StateChanged(_ string, state agent.State, iteration int) {
	if state != agent.StateAwaitingLLM {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.faint.Fprintf(p.out, "  thinking (step %d)...\n", iteration)
}

func (p *progress) ToolFinished(_ string, outcome domain.ToolOutcome) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if outcome.IsOk() {
		p.ok.Fprintf(p.out, "  ✓ %s", outcome.Tool)
		p.faint.Fprintf(p.out, " (%s)\n", outcome.Duration.Round(time.Millisecond))
		return
	}
	p.fail.Fprintf(p.out, "  ✗ %s: %s\n", outcome.Tool, outcome.Failure.Kind)
	fmt.Fprintf(p.out, "    %s\n", outcome.Failure.Message)
}
