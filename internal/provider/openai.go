package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"refagent/internal/domain"

	"github.com/sashabaranov/go-openai"
)

const (
	defaultModel       = "gpt-4o-mini"
	defaultAPIVersion  = "2024-06-01"
	defaultHTTPTimeout = 120 * time.Second
)

// OpenAI implements domain.Provider for the OpenAI chat completions API and
// for Azure OpenAI deployments.
type OpenAI struct {
	name   string
	model  string
	client *openai.Client
	logger *slog.Logger
}

type OpenAIConfig struct {
	APIKey string
	// APIBase overrides the endpoint. For Azure it is the resource endpoint,
	// e.g. https://my-resource.openai.azure.com.
	APIBase string
	// APIVersion is only used for Azure.
	APIVersion string
	// Model is the model name, or the deployment name for Azure.
	Model   string
	Azure   bool
	Timeout time.Duration
	Logger  *slog.Logger
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var clientConfig openai.ClientConfig
	name := "openai"
	if cfg.Azure {
		name = "azure"
		clientConfig = openai.DefaultAzureConfig(cfg.APIKey, cfg.APIBase)
		clientConfig.APIVersion = cfg.APIVersion
		if clientConfig.APIVersion == "" {
			clientConfig.APIVersion = defaultAPIVersion
		}
		// The configured model is already the deployment name.
		clientConfig.AzureModelMapperFunc = func(model string) string { return model }
	} else {
		clientConfig = openai.DefaultConfig(cfg.APIKey)
		if cfg.APIBase != "" {
			clientConfig.BaseURL = cfg.APIBase
		}
	}
	clientConfig.HTTPClient = SharedHTTPClient(cfg.Timeout)

	return &OpenAI{
		name:   name,
		model:  cfg.Model,
		client: openai.NewClientWithConfig(clientConfig),
		logger: cfg.Logger,
	}
}

func (o *OpenAI) Name() string { return o.name }

// Healthy lists models to verify the endpoint and key.
func (o *OpenAI) Healthy(ctx context.Context) error {
	if _, err := o.client.ListModels(ctx); err != nil {
		if status := statusCode(err); status == http.StatusUnauthorized {
			return fmt.Errorf("%s: invalid API key", o.name)
		}
		return fmt.Errorf("%s not reachable: %w", o.name, err)
	}
	return nil
}

func (o *OpenAI) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = o.model
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    toOpenAIMessages(req.Messages),
		Tools:       toOpenAITools(req.Tools),
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
	}

	ctx, hint := withRetryAfterHint(ctx)
	start := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, classifyError(o.name, err, hint.after)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s: empty response", o.name)
	}

	choice := resp.Choices[0]
	out := &domain.ChatResponse{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		LatencyMs:    time.Since(start).Milliseconds(),
		Usage: domain.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		call := domain.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: map[string]any{}}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &call.Arguments); err != nil {
				o.logger.Warn("unparseable tool arguments", "tool", tc.Function.Name, "err", err)
				call.Arguments = map[string]any{}
				call.ArgumentsError = fmt.Sprintf("arguments are not a JSON object: %v", err)
			} else if call.Arguments == nil {
				call.Arguments = map[string]any{}
			}
		}
		out.ToolCalls = append(out.ToolCalls, call)
	}
	return out, nil
}

func toOpenAIMessages(msgs []domain.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		msg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			argsJSON, _ := json.Marshal(tc.Arguments)
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(argsJSON),
				},
			})
		}
		out = append(out, msg)
	}
	return out
}

func toOpenAITools(tools []domain.WireTool) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.Tool, len(tools))
	for i, t := range tools {
		out[i] = openai.Tool{
			Type: openai.ToolType(t.Type),
			Function: &openai.FunctionDefinition{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			},
		}
	}
	return out
}

// retryAfterPattern matches the hint Azure puts in 429 messages:
// "... Please retry after 20 seconds."
var retryAfterPattern = regexp.MustCompile(`(?i)retry after (\d+) second`)

// classifyError turns HTTP 429 responses into *domain.RateLimitError so the
// conversation loop can back off. Other errors are returned wrapped. The
// Retry-After header wins over a hint in the message text.
func classifyError(name string, err error, headerHint time.Duration) error {
	if statusCode(err) != http.StatusTooManyRequests {
		return fmt.Errorf("%s api error: %w", name, err)
	}
	rl := &domain.RateLimitError{Err: fmt.Errorf("%s: %w", name, err), RetryAfter: headerHint}
	if headerHint > 0 {
		return rl
	}
	if m := retryAfterPattern.FindStringSubmatch(err.Error()); m != nil {
		if secs, convErr := strconv.Atoi(m[1]); convErr == nil {
			rl.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return rl
}

func statusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
