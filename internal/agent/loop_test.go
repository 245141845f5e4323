package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"refagent/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

type step struct {
	resp *domain.ChatResponse
	err  error
}

type scriptedProvider struct {
	mu       sync.Mutex
	steps    []step
	fallback *step
	requests []domain.ChatRequest
}

func (p *scriptedProvider) Name() string                  { return "scripted" }
func (p *scriptedProvider) Healthy(context.Context) error { return nil }

func (p *scriptedProvider) Chat(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	req.Messages = append([]domain.Message(nil), req.Messages...)
	p.requests = append(p.requests, req)

	s := step{resp: &domain.ChatResponse{Content: "done"}}
	if i := len(p.requests) - 1; i < len(p.steps) {
		s = p.steps[i]
	} else if p.fallback != nil {
		s = *p.fallback
	}
	if s.err != nil {
		return nil, s.err
	}
	r := *s.resp
	return &r, nil
}

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *scriptedProvider) request(i int) domain.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[i]
}

type fakeCatalog struct {
	order []string
	tools map[string]domain.ToolFunc
}

func newCatalog() *fakeCatalog {
	return &fakeCatalog{tools: make(map[string]domain.ToolFunc)}
}

func (c *fakeCatalog) add(name string, fn domain.ToolFunc) *fakeCatalog {
	c.order = append(c.order, name)
	c.tools[name] = fn
	return c
}

func (c *fakeCatalog) GetTool(name string) (domain.ToolFunc, error) {
	fn, ok := c.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrToolNotFound, name)
	}
	return fn, nil
}

func (c *fakeCatalog) GetWireFormatDefinitions() ([]domain.WireTool, error) {
	return wire(c.order...), nil
}

func answer(text string) step {
	return step{resp: &domain.ChatResponse{Content: text}}
}

func toolCalls(calls ...domain.ToolCall) step {
	return step{resp: &domain.ChatResponse{ToolCalls: calls, FinishReason: "tool_calls"}}
}

func rateLimited(after time.Duration) step {
	return step{err: &domain.RateLimitError{RetryAfter: after, Err: errors.New("429 Too Many Requests")}}
}

func fastRetry(maxRetries int) RetryPolicy {
	return RetryPolicy{MaxRetries: maxRetries, InitialWait: time.Millisecond, MaxWait: 5 * time.Millisecond}
}

func newTestLoop(p domain.Provider, c ToolCatalog, mutate func(*LoopConfig)) *Loop {
	cfg := LoopConfig{
		Provider:    p,
		Tools:       c,
		Retry:       fastRetry(3),
		ToolTimeout: time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewLoop(cfg)
}

func errorPayload(t *testing.T, content string) domain.ToolFailure {
	t.Helper()
	var payload struct {
		Error *domain.ToolFailure `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(content), &payload), content)
	require.NotNil(t, payload.Error, "expected an error payload, got %s", content)
	return *payload.Error
}

// --- tests ---

func TestLoop_FinalAnswer(t *testing.T) {
	p := &scriptedProvider{steps: []step{answer("There are 8 hospitals.")}}
	loop := newTestLoop(p, newCatalog(), nil)

	res, err := loop.Run(context.Background(), "How many hospitals?")
	require.NoError(t, err)

	assert.Equal(t, "There are 8 hospitals.", res.Content)
	assert.True(t, res.Converged)
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, 1, res.LLMCalls)
	assert.NotEmpty(t, res.ConversationID)
	require.Len(t, res.Messages, 3)
	assert.Equal(t, domain.RoleSystem, res.Messages[0].Role)
	assert.Equal(t, domain.RoleUser, res.Messages[1].Role)
	assert.Equal(t, domain.RoleAssistant, res.Messages[2].Role)
}

func TestLoop_EmptyAnswerGetsPlaceholder(t *testing.T) {
	p := &scriptedProvider{steps: []step{answer("  ")}}
	res, err := newTestLoop(p, newCatalog(), nil).Run(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, noResponseText, res.Content)
}

func TestLoop_RateLimitedTwiceThenSucceeds(t *testing.T) {
	p := &scriptedProvider{steps: []step{rateLimited(0), rateLimited(0), answer("ok")}}
	loop := newTestLoop(p, newCatalog(), nil)

	res, err := loop.Run(context.Background(), "q")
	require.NoError(t, err)

	assert.Equal(t, 3, p.calls())
	assert.Equal(t, 3, res.LLMCalls)
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, "ok", res.Content)
}

func TestLoop_RateLimitExhausted(t *testing.T) {
	limited := rateLimited(0)
	p := &scriptedProvider{fallback: &limited}
	loop := newTestLoop(p, newCatalog(), func(c *LoopConfig) { c.Retry = fastRetry(2) })

	res, err := loop.Run(context.Background(), "q")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrFatalLLM)
	assert.ErrorIs(t, err, domain.ErrRateLimited)

	var fatal *domain.FatalLLMError
	require.True(t, errors.As(err, &fatal))
	assert.Equal(t, 3, fatal.Attempts)
	assert.Equal(t, 3, p.calls())
	require.NotNil(t, res)
	assert.False(t, res.Converged)
}

func TestLoop_OtherProviderErrorIsFatal(t *testing.T) {
	p := &scriptedProvider{steps: []step{{err: errors.New("401 unauthorized")}}}
	_, err := newTestLoop(p, newCatalog(), nil).Run(context.Background(), "q")

	var fatal *domain.FatalLLMError
	require.True(t, errors.As(err, &fatal))
	assert.Equal(t, 1, fatal.Attempts)
	assert.Equal(t, 1, p.calls())
}

func TestLoop_RetryAfterIsAFloor(t *testing.T) {
	p := &scriptedProvider{steps: []step{rateLimited(40 * time.Millisecond), answer("ok")}}
	loop := newTestLoop(p, newCatalog(), nil)

	start := time.Now()
	_, err := loop.Run(context.Background(), "q")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestLoop_ToolFailureBecomesPayload(t *testing.T) {
	catalog := newCatalog().
		add("get_network_statistics", func(context.Context, map[string]any) (any, error) {
			return map[string]any{"hospitals": 8}, nil
		}).
		add("find_referral_path", func(context.Context, map[string]any) (any, error) {
			return nil, errors.New("graph query failed")
		})

	p := &scriptedProvider{steps: []step{
		toolCalls(
			domain.ToolCall{ID: "c1", Name: "get_network_statistics", Arguments: map[string]any{}},
			domain.ToolCall{ID: "c2", Name: "find_referral_path", Arguments: map[string]any{"source_hospital": "A"}},
		),
		answer("summary"),
	}}
	res, err := newTestLoop(p, catalog, nil).Run(context.Background(), "q")
	require.NoError(t, err)
	require.Equal(t, 2, p.calls())

	second := p.request(1).Messages
	require.Len(t, second, 5)
	assert.Equal(t, domain.RoleAssistant, second[2].Role)
	require.Len(t, second[2].ToolCalls, 2)

	assert.Equal(t, domain.RoleTool, second[3].Role)
	assert.Equal(t, "c1", second[3].ToolCallID)
	assert.JSONEq(t, `{"hospitals": 8}`, second[3].Content)

	assert.Equal(t, domain.RoleTool, second[4].Role)
	assert.Equal(t, "c2", second[4].ToolCallID)
	failure := errorPayload(t, second[4].Content)
	assert.Equal(t, domain.KindToolExecution, failure.Kind)
	assert.Equal(t, "find_referral_path", failure.Tool)
	assert.Contains(t, failure.Message, "graph query failed")

	assert.Equal(t, 2, res.ToolCalls)
	assert.True(t, res.Converged)
}

func TestLoop_UnknownToolContinues(t *testing.T) {
	p := &scriptedProvider{steps: []step{
		toolCalls(domain.ToolCall{ID: "c1", Name: "drop_database"}),
		answer("I could not find that tool."),
	}}
	res, err := newTestLoop(p, newCatalog(), nil).Run(context.Background(), "q")
	require.NoError(t, err)

	toolMsg := p.request(1).Messages[3]
	assert.Equal(t, domain.KindToolNotFound, errorPayload(t, toolMsg.Content).Kind)
	assert.True(t, res.Converged)
}

func TestLoop_MalformedArgumentsNotExecuted(t *testing.T) {
	var ran atomic.Int32
	catalog := newCatalog().add("find_hospital", func(context.Context, map[string]any) (any, error) {
		ran.Add(1)
		return []string{"every hospital"}, nil
	})
	p := &scriptedProvider{steps: []step{
		toolCalls(domain.ToolCall{
			ID: "c1", Name: "find_hospital", Arguments: map[string]any{},
			ArgumentsError: "arguments are not a JSON object: invalid character 'o' in literal null",
		}),
		answer("retrying later"),
	}}
	res, err := newTestLoop(p, catalog, nil).Run(context.Background(), "q")
	require.NoError(t, err)

	assert.Zero(t, ran.Load())
	failure := errorPayload(t, p.request(1).Messages[3].Content)
	assert.Equal(t, domain.KindInvalidArguments, failure.Kind)
	assert.Equal(t, "find_hospital", failure.Tool)
	assert.Contains(t, failure.Message, "not a JSON object")
	assert.True(t, res.Converged)
}

func TestLoop_IterationLimitWithAdversarialLLM(t *testing.T) {
	forever := toolCalls(domain.ToolCall{Name: "no_such_tool"})
	p := &scriptedProvider{fallback: &forever}
	loop := newTestLoop(p, newCatalog(), func(c *LoopConfig) { c.MaxIterations = 4 })

	res, err := loop.Run(context.Background(), "q")
	require.NoError(t, err)

	assert.False(t, res.Converged)
	assert.Equal(t, 4, res.Iterations)
	assert.Equal(t, 4, p.calls())
	assert.Contains(t, res.Content, "could not complete")
	assert.Equal(t, res.Content, res.Messages[len(res.Messages)-1].Content)
}

func TestLoop_ToolTimeout(t *testing.T) {
	catalog := newCatalog().add("slow", func(ctx context.Context, _ map[string]any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	p := &scriptedProvider{steps: []step{toolCalls(domain.ToolCall{ID: "c1", Name: "slow"}), answer("gave up")}}
	loop := newTestLoop(p, catalog, func(c *LoopConfig) { c.ToolTimeout = 20 * time.Millisecond })

	res, err := loop.Run(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, domain.KindTimeout, errorPayload(t, p.request(1).Messages[3].Content).Kind)
	assert.Equal(t, "gave up", res.Content)
}

func TestLoop_ToolIgnoringContextIsAbandoned(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	catalog := newCatalog().add("stuck", func(context.Context, map[string]any) (any, error) {
		<-release
		return "late", nil
	})
	p := &scriptedProvider{steps: []step{toolCalls(domain.ToolCall{ID: "c1", Name: "stuck"}), answer("ok")}}
	loop := newTestLoop(p, catalog, func(c *LoopConfig) { c.ToolTimeout = 20 * time.Millisecond })

	_, err := loop.Run(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, domain.KindTimeout, errorPayload(t, p.request(1).Messages[3].Content).Kind)
}

func TestLoop_ToolPanicIsContained(t *testing.T) {
	catalog := newCatalog().add("boom", func(context.Context, map[string]any) (any, error) {
		panic("nil graph record")
	})
	p := &scriptedProvider{steps: []step{toolCalls(domain.ToolCall{ID: "c1", Name: "boom"}), answer("ok")}}

	res, err := newTestLoop(p, catalog, nil).Run(context.Background(), "q")
	require.NoError(t, err)

	failure := errorPayload(t, p.request(1).Messages[3].Content)
	assert.Equal(t, domain.KindToolExecution, failure.Kind)
	assert.Contains(t, failure.Message, "panicked")
	assert.True(t, res.Converged)
}

func TestLoop_ParallelToolsBoundedAndOrdered(t *testing.T) {
	var running, peak atomic.Int32
	slowEcho := func(_ context.Context, args map[string]any) (any, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(15 * time.Millisecond)
		running.Add(-1)
		return args["i"], nil
	}
	catalog := newCatalog().add("echo", slowEcho)

	var calls []domain.ToolCall
	for i := 0; i < 6; i++ {
		calls = append(calls, domain.ToolCall{ID: fmt.Sprintf("c%d", i), Name: "echo", Arguments: map[string]any{"i": i}})
	}
	p := &scriptedProvider{steps: []step{toolCalls(calls...), answer("ok")}}
	loop := newTestLoop(p, catalog, func(c *LoopConfig) { c.MaxParallelTools = 2 })

	_, err := loop.Run(context.Background(), "q")
	require.NoError(t, err)

	assert.LessOrEqual(t, peak.Load(), int32(2))
	msgs := p.request(1).Messages[3:]
	require.Len(t, msgs, 6)
	for i, m := range msgs {
		assert.Equal(t, fmt.Sprintf("c%d", i), m.ToolCallID)
		assert.Equal(t, fmt.Sprintf("%d", i), m.Content)
	}
}

func TestLoop_CancellationBetweenIterations(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	catalog := newCatalog().add("abort", func(toolCtx context.Context, _ map[string]any) (any, error) {
		cancel()
		if toolCtx.Err() != nil {
			return nil, toolCtx.Err()
		}
		return "finished", nil
	})
	p := &scriptedProvider{steps: []step{toolCalls(domain.ToolCall{ID: "c1", Name: "abort"}), answer("never")}}

	res, err := newTestLoop(p, catalog, nil).Run(ctx, "q")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, p.calls())

	require.NotNil(t, res)
	last := res.Messages[len(res.Messages)-1]
	assert.Equal(t, domain.RoleTool, last.Role)
	assert.Equal(t, "finished", last.Content)
}

func TestLoop_PacingPastDeadlineIsInterruption(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	catalog := newCatalog().add("get_network_statistics", func(context.Context, map[string]any) (any, error) {
		return map[string]any{"hospitals": 8}, nil
	})
	p := &scriptedProvider{steps: []step{
		toolCalls(domain.ToolCall{ID: "c1", Name: "get_network_statistics"}),
		answer("never"),
	}}
	loop := newTestLoop(p, catalog, func(c *LoopConfig) { c.RateLimiter = NewRateLimiter(1, 1) })

	res, err := loop.Run(ctx, "q")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrFatalLLM)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "interrupted")
	assert.Equal(t, 1, p.calls())
	require.NotNil(t, res)
}

func TestLoop_ExtractsToolCallFromContent(t *testing.T) {
	catalog := newCatalog().add("get_network_statistics", func(context.Context, map[string]any) (any, error) {
		return map[string]any{"referrals": 42}, nil
	})
	p := &scriptedProvider{steps: []step{
		answer(`{"name": "get_network_statistics", "arguments": {}}`),
		answer("There are 42 referrals."),
	}}

	res, err := newTestLoop(p, catalog, nil).Run(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, 1, res.ToolCalls)
	assert.Equal(t, "There are 42 referrals.", res.Content)
}

func TestLoop_ContentCallToHiddenToolStaysAnswer(t *testing.T) {
	executed := false
	catalog := newCatalog().
		add("find_hospital", func(context.Context, map[string]any) (any, error) { return "ok", nil }).
		add("find_referral_path", func(context.Context, map[string]any) (any, error) {
			executed = true
			return "ok", nil
		})
	text := `{"name": "find-referral-path", "arguments": {"from": "hosp-004"}}`
	p := &scriptedProvider{steps: []step{answer(text)}}
	loop := newTestLoop(p, catalog, func(c *LoopConfig) {
		c.Filter = NewToolFilter(nil, []string{"find_referral_path"})
	})

	res, err := loop.Run(context.Background(), "q")
	require.NoError(t, err)
	assert.False(t, executed)
	assert.Equal(t, 0, res.ToolCalls)
	assert.Equal(t, text, res.Content)
}

func TestLoop_FilterHidesTools(t *testing.T) {
	catalog := newCatalog().
		add("find_hospital", func(context.Context, map[string]any) (any, error) { return "ok", nil }).
		add("find_referral_path", func(context.Context, map[string]any) (any, error) { return "ok", nil })
	p := &scriptedProvider{steps: []step{
		toolCalls(domain.ToolCall{ID: "c1", Name: "find_referral_path"}),
		answer("done"),
	}}
	loop := newTestLoop(p, catalog, func(c *LoopConfig) {
		c.Filter = NewToolFilter(nil, []string{"find_referral_path"})
	})

	_, err := loop.Run(context.Background(), "q")
	require.NoError(t, err)

	first := p.request(0)
	require.Len(t, first.Tools, 1)
	assert.Equal(t, "find_hospital", first.Tools[0].Function.Name)
	assert.Equal(t, domain.KindToolNotFound, errorPayload(t, p.request(1).Messages[3].Content).Kind)
}

type memRecorder struct {
	mu   sync.Mutex
	msgs []domain.Message
	ids  map[string]bool
}

func (r *memRecorder) Record(_ context.Context, id string, msg domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ids == nil {
		r.ids = make(map[string]bool)
	}
	r.ids[id] = true
	r.msgs = append(r.msgs, msg)
	return nil
}

type stateLog struct {
	mu     sync.Mutex
	states []State
	tools  int
}

func (o *stateLog) StateChanged(_ string, s State, _ int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, s)
}

func (o *stateLog) ToolFinished(string, domain.ToolOutcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tools++
}

func TestLoop_RecorderAndObserver(t *testing.T) {
	catalog := newCatalog().add("find_hospital", func(context.Context, map[string]any) (any, error) {
		return []string{"Heartland Pediatrics"}, nil
	})
	p := &scriptedProvider{steps: []step{
		toolCalls(domain.ToolCall{Name: "find_hospital", Arguments: map[string]any{"state": "KS"}}),
		answer("Heartland Pediatrics"),
	}}
	rec := &memRecorder{}
	obs := &stateLog{}
	loop := newTestLoop(p, catalog, func(c *LoopConfig) {
		c.Recorder = rec
		c.Observer = obs
	})

	res, err := loop.Run(context.Background(), "q")
	require.NoError(t, err)

	assert.Equal(t, res.Messages, rec.msgs)
	assert.True(t, rec.ids[res.ConversationID])
	assert.Equal(t, []State{StateAwaitingLLM, StateExecutingTools, StateAwaitingLLM, StateDone}, obs.states)
	assert.Equal(t, 1, obs.tools)
	assert.Equal(t, "call_1_0", res.Messages[2].ToolCalls[0].ID, "missing call ids are assigned")
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "AWAITING_LLM_RESPONSE", StateAwaitingLLM.String())
	assert.Equal(t, "EXECUTING_TOOLS", StateExecutingTools.String())
	assert.Equal(t, "DONE", StateDone.String())
}
