package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/phrazzld/orchestrator/internal/llm"
)

// DefaultEndpoint is the hosted OpenAI API base URL.
const DefaultEndpoint = "https://api.openai.com/v1"

// Config configures an OpenAI-compatible provider.
type Config struct {
	Name       string
	APIKey     string
	Model      string
	Endpoint   string
	MaxRetries int
	RetryDelay time.Duration
}

type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Client implements llm.Client against a chat completions API.
type Client struct {
	api    chatCompleter
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

var _ llm.Client = (*Client)(nil)

// NewClient creates a client. An empty endpoint selects the hosted API; local
// endpoints usually accept any API key.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", llm.ErrInvalidConfig)
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Endpoint == DefaultEndpoint && cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: API key required for %s", llm.ErrInvalidConfig, DefaultEndpoint)
	}
	if cfg.Name == "" {
		cfg.Name = "openai"
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = cfg.Endpoint

	return &Client{
		api:    openai.NewClientWithConfig(oc),
		cfg:    cfg,
		logger: logger.With("component", "openai", "provider", cfg.Name),
		now:    time.Now,
	}, nil
}

// Endpoint returns the base URL the client talks to.
func (c *Client) Endpoint() string { return c.cfg.Endpoint }

// Complete sends the conversation as a chat completion.
func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("%w: request has no messages", llm.ErrInvalidConfig)
	}

	chatReq := openai.ChatCompletionRequest{
		Model:     model,
		Messages:  toMessages(req),
		MaxTokens: req.MaxTokens,
	}
	if req.Temperature != nil {
		chatReq.Temperature = *req.Temperature
	}

	var out *llm.Response
	start := c.now()
	err := llm.WithRetry(ctx, llm.RetryConfig{MaxRetries: c.cfg.MaxRetries, BaseDelay: c.cfg.RetryDelay}, c.logger,
		func(ctx context.Context) error {
			resp, err := c.api.CreateChatCompletion(ctx, chatReq)
			if err != nil {
				return classifyError(err)
			}
			if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
				return fmt.Errorf("%w: empty completion", llm.ErrInvalidResponse)
			}
			if resp.Choices[0].FinishReason == openai.FinishReasonContentFilter {
				return llm.ErrContentBlocked
			}
			out = &llm.Response{
				Text: resp.Choices[0].Message.Content,
				Usage: llm.Usage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				},
				Provider: c.cfg.Name,
				Model:    model,
			}
			return nil
		})
	if err != nil {
		c.logger.ErrorContext(ctx, "chat completion failed", "model", model, "error", err)
		return nil, err
	}
	out.Latency = c.now().Sub(start)
	c.logger.DebugContext(ctx, "chat completion finished",
		"model", model,
		"latency_ms", out.Latency.Milliseconds(),
		"total_tokens", out.Usage.TotalTokens)
	return out, nil
}

func toMessages(req llm.Request) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		if m.Role == llm.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return msgs
}

func classifyError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return llm.StatusError(apiErr.HTTPStatusCode, 0, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return llm.StatusError(reqErr.HTTPStatusCode, 0, reqErr.Error())
	}
	return llm.TransportError(err)
}
