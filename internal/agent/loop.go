package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"refagent/internal/domain"
	"refagent/internal/metrics"

	"github.com/google/uuid"
)

const (
	defaultMaxIterations    = 5
	defaultMaxParallelTools = 4
	defaultToolTimeout      = 30 * time.Second
	defaultLLMMaxTokens     = 4096
	defaultTemperature      = 0.2

	noResponseText = "No response generated."
)

// State is the position of a conversation in the tool-calling cycle.
type State int

const (
	StateAwaitingLLM State = iota
	StateExecutingTools
	StateDone
)

func (s State) String() string {
	switch s {
	case StateAwaitingLLM:
		return "AWAITING_LLM_RESPONSE"
	case StateExecutingTools:
		return "EXECUTING_TOOLS"
	case StateDone:
		return "DONE"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ToolCatalog is the read-only tool surface a conversation needs.
// *registry.Registry satisfies it.
type ToolCatalog interface {
	GetTool(name string) (domain.ToolFunc, error)
	GetWireFormatDefinitions() ([]domain.WireTool, error)
}

// Recorder persists messages as they are appended to a conversation.
type Recorder interface {
	Record(ctx context.Context, conversationID string, msg domain.Message) error
}

// Observer is notified of state changes and finished tool calls. Calls for
// one conversation may arrive from several goroutines while tools run.
type Observer interface {
	StateChanged(conversationID string, state State, iteration int)
	ToolFinished(conversationID string, outcome domain.ToolOutcome)
}

// Result is what a finished conversation produced.
type Result struct {
	ConversationID string
	Content        string
	// Converged is false when the iteration limit stopped the conversation.
	Converged  bool
	Iterations int
	LLMCalls   int
	ToolCalls  int
	Messages   []domain.Message
}

// LoopConfig holds all dependencies and tuning parameters for the agent loop.
type LoopConfig struct {
	Provider domain.Provider
	Tools    ToolCatalog
	Prompt   *PromptBuilder
	Logger   *slog.Logger

	Model       string
	MaxTokens   int
	Temperature float64

	MaxIterations    int
	MaxParallelTools int
	ToolTimeout      time.Duration
	Retry            RetryPolicy
	RateLimiter      *RateLimiter // optional client-side pacing
	Filter           *ToolFilter  // optional per-loop tool restriction

	Recorder Recorder // optional
	Observer Observer // optional
}

// Loop runs conversations: call the LLM, execute requested tools, repeat
// until the LLM answers or the iteration limit is reached. A Loop holds no
// per-conversation state and may run many conversations concurrently.
type Loop struct {
	provider domain.Provider
	tools    ToolCatalog
	prompt   *PromptBuilder
	logger   *slog.Logger

	model       string
	maxTokens   int
	temperature float64

	maxIterations    int
	maxParallelTools int
	toolTimeout      time.Duration
	retry            RetryPolicy
	rateLimiter      *RateLimiter
	filter           *ToolFilter

	recorder Recorder
	observer Observer
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.MaxParallelTools <= 0 {
		cfg.MaxParallelTools = defaultMaxParallelTools
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = defaultToolTimeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultLLMMaxTokens
	}
	if cfg.Retry == (RetryPolicy{}) {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.Prompt == nil {
		cfg.Prompt = NewPromptBuilder(PromptConfig{})
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Loop{
		provider:         cfg.Provider,
		tools:            cfg.Tools,
		prompt:           cfg.Prompt,
		logger:           cfg.Logger,
		model:            cfg.Model,
		maxTokens:        cfg.MaxTokens,
		temperature:      cfg.Temperature,
		maxIterations:    cfg.MaxIterations,
		maxParallelTools: cfg.MaxParallelTools,
		toolTimeout:      cfg.ToolTimeout,
		retry:            cfg.Retry.normalized(),
		rateLimiter:      cfg.RateLimiter,
		filter:           cfg.Filter,
		recorder:         cfg.Recorder,
		observer:         cfg.Observer,
	}
}

// conversation is the state owned by a single Run call.
type conversation struct {
	loop     *Loop
	id       string
	state    State
	messages []domain.Message
	result   Result
}

func (c *conversation) setState(s State) {
	c.state = s
	if c.loop.observer != nil {
		c.loop.observer.StateChanged(c.id, s, c.result.Iterations)
	}
}

func (c *conversation) append(ctx context.Context, msg domain.Message) {
	c.messages = append(c.messages, msg)
	if c.loop.recorder == nil {
		return
	}
	if err := c.loop.recorder.Record(context.WithoutCancel(ctx), c.id, msg); err != nil {
		c.loop.logger.Warn("failed to record message", "conversation", c.id, "role", msg.Role, "err", err)
	}
}

func (c *conversation) finish(content string, converged bool) *Result {
	c.setState(StateDone)
	c.result.Content = content
	c.result.Converged = converged
	return c.snapshot()
}

func (c *conversation) snapshot() *Result {
	r := c.result
	r.Messages = append([]domain.Message(nil), c.messages...)
	return &r
}

// Run drives one conversation for question. The returned error is non-nil
// only when the LLM could not be reached (a *domain.FatalLLMError), the
// catalog could not be built, or ctx was cancelled between iterations; the
// partial Result is returned alongside it when one exists.
func (l *Loop) Run(ctx context.Context, question string) (*Result, error) {
	tools, err := l.tools.GetWireFormatDefinitions()
	if err != nil {
		return nil, fmt.Errorf("load tool definitions: %w", err)
	}
	tools = l.filter.FilterWire(tools)

	conv := &conversation{loop: l, id: uuid.NewString()}
	conv.result.ConversationID = conv.id

	metrics.ConversationsTotal.Inc()
	metrics.ActiveConversations.Inc()
	defer metrics.ActiveConversations.Dec()

	l.logger.Info("conversation started", "conversation", conv.id, "tools", len(tools))
	for _, m := range l.prompt.BuildMessages(question, tools) {
		conv.append(ctx, m)
	}

	for conv.result.Iterations < l.maxIterations {
		if err := ctx.Err(); err != nil {
			l.logger.Info("conversation cancelled", "conversation", conv.id, "iterations", conv.result.Iterations)
			return conv.snapshot(), fmt.Errorf("conversation cancelled: %w", err)
		}
		conv.result.Iterations++
		conv.setState(StateAwaitingLLM)

		resp, err := l.complete(ctx, conv, tools)
		if err != nil {
			if errors.Is(err, domain.ErrFatalLLM) {
				metrics.LLMFatalTotal.Inc()
			}
			l.logger.Error("conversation aborted", "conversation", conv.id, "err", err)
			return conv.snapshot(), err
		}

		// Fallback: some models embed tool calls as JSON in the content field.
		if !resp.HasToolCalls() && resp.Content != "" {
			if extracted := newContentCalls(tools).Extract(resp.Content); len(extracted) > 0 {
				resp.ToolCalls = extracted
				resp.Content = ""
				l.logger.Info("extracted tool calls from content text", "count", len(extracted))
			}
		}

		if !resp.HasToolCalls() {
			content := strings.TrimSpace(stripRolePrefix(resp.Content))
			if content == "" {
				content = noResponseText
			}
			conv.append(ctx, domain.Message{Role: domain.RoleAssistant, Content: content})
			l.logger.Info("conversation finished", "conversation", conv.id,
				"iterations", conv.result.Iterations, "tool_calls", conv.result.ToolCalls)
			return conv.finish(content, true), nil
		}

		calls := assignCallIDs(resp.ToolCalls, conv.result.Iterations)
		conv.append(ctx, domain.Message{Role: domain.RoleAssistant, Content: resp.Content, ToolCalls: calls})

		conv.setState(StateExecutingTools)
		for _, outcome := range l.dispatch(ctx, conv.id, calls) {
			conv.append(ctx, outcome.Message())
		}
		conv.result.ToolCalls += len(calls)
	}

	metrics.UnconvergedTotal.Inc()
	l.logger.Warn("conversation hit iteration limit", "conversation", conv.id, "max_iterations", l.maxIterations)
	content := fmt.Sprintf("I could not complete this request within %d steps. "+
		"Try asking a narrower question or splitting it into parts.", l.maxIterations)
	conv.append(ctx, domain.Message{Role: domain.RoleAssistant, Content: content})
	return conv.finish(content, false), nil
}

// assignCallIDs gives every call an id so tool results can be matched to it.
func assignCallIDs(calls []domain.ToolCall, iteration int) []domain.ToolCall {
	out := make([]domain.ToolCall, len(calls))
	for i, c := range calls {
		if c.ID == "" {
			c.ID = fmt.Sprintf("call_%d_%d", iteration, i)
		}
		if c.Arguments == nil {
			c.Arguments = map[string]any{}
		}
		out[i] = c
	}
	return out
}
