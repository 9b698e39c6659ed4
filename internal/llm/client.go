package llm

import (
	"context"
	"time"
)

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one conversation turn.
type Message struct {
	Role    string
	Content string
}

// Request is a provider-neutral completion request.
type Request struct {
	// Provider selects a Router entry; empty means the router default.
	Provider    string
	Model       string
	System      string
	Messages    []Message
	Temperature *float32
	MaxTokens   int
}

// Usage counts tokens for one call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Add returns the element-wise sum.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
	}
}

// Response is a provider-neutral completion.
type Response struct {
	Text     string
	Usage    Usage
	Latency  time.Duration
	Provider string
	Model    string
}

// Client is implemented by every provider and by Router.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}
