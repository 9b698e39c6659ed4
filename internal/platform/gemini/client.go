package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/phrazzld/orchestrator/internal/llm"
)

// DefaultEndpoint is the public Gemini API base URL.
const DefaultEndpoint = "https://generativelanguage.googleapis.com"

// Config configures the Gemini provider.
type Config struct {
	APIKey     string
	Model      string
	Endpoint   string
	MaxRetries int
	RetryDelay time.Duration
}

// contentGenerator is the slice of genai.Models used by Client.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Client implements llm.Client using the Gemini API.
type Client struct {
	models contentGenerator
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

var _ llm.Client = (*Client)(nil)

// NewClient creates a Gemini client.
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", llm.ErrInvalidConfig)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", llm.ErrInvalidConfig)
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.Endpoint != "" && cfg.Endpoint != DefaultEndpoint {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.Endpoint}
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", llm.ErrInvalidConfig, err)
	}
	return newClient(client.Models, cfg, logger), nil
}

func newClient(models contentGenerator, cfg Config, logger *slog.Logger) *Client {
	return &Client{
		models: models,
		cfg:    cfg,
		logger: logger.With("component", "gemini"),
		now:    time.Now,
	}
}

// Endpoint returns the base URL the client talks to.
func (c *Client) Endpoint() string {
	if c.cfg.Endpoint == "" {
		return DefaultEndpoint
	}
	return c.cfg.Endpoint
}

// Complete sends the conversation to Gemini, retrying transient failures.
func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}
	contents := toContents(req.Messages)
	if len(contents) == 0 {
		return nil, fmt.Errorf("%w: request has no messages", llm.ErrInvalidConfig)
	}
	genConfig := &genai.GenerateContentConfig{Temperature: req.Temperature}
	if req.System != "" {
		genConfig.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}

	var out *llm.Response
	start := c.now()
	err := llm.WithRetry(ctx, llm.RetryConfig{MaxRetries: c.cfg.MaxRetries, BaseDelay: c.cfg.RetryDelay}, c.logger,
		func(ctx context.Context) error {
			resp, err := c.models.GenerateContent(ctx, model, contents, genConfig)
			if err != nil {
				return classifyError(err)
			}
			text, err := extractText(resp)
			if err != nil {
				return err
			}
			out = &llm.Response{Text: text, Usage: usageOf(resp), Provider: "gemini", Model: model}
			return nil
		})
	if err != nil {
		c.logger.ErrorContext(ctx, "gemini request failed", "model", model, "error", err)
		return nil, err
	}
	out.Latency = c.now().Sub(start)
	c.logger.DebugContext(ctx, "gemini request completed",
		"model", model,
		"latency_ms", out.Latency.Milliseconds(),
		"total_tokens", out.Usage.TotalTokens)
	return out, nil
}

func toContents(msgs []llm.Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		role := "user"
		if m.Role == llm.RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []*genai.Part{{Text: m.Content}}})
	}
	return contents
}

func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", fmt.Errorf("%w: nil response", llm.ErrInvalidResponse)
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("%w: %s", llm.ErrContentBlocked, resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return "", fmt.Errorf("%w: no candidates", llm.ErrInvalidResponse)
	}
	cand := resp.Candidates[0]
	if cand.FinishReason == genai.FinishReasonSafety {
		return "", llm.ErrContentBlocked
	}
	if cand.Content == nil {
		return "", fmt.Errorf("%w: candidate has no content", llm.ErrInvalidResponse)
	}
	var b strings.Builder
	for _, p := range cand.Content.Parts {
		if p != nil {
			b.WriteString(p.Text)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("%w: empty text", llm.ErrInvalidResponse)
	}
	return b.String(), nil
}

func usageOf(resp *genai.GenerateContentResponse) llm.Usage {
	if resp.UsageMetadata == nil {
		return llm.Usage{}
	}
	u := resp.UsageMetadata
	return llm.Usage{
		PromptTokens:     int(u.PromptTokenCount),
		CompletionTokens: int(u.CandidatesTokenCount),
		TotalTokens:      int(u.TotalTokenCount),
	}
}
