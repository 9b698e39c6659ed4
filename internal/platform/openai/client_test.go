package openai

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/orchestrator/internal/llm"
	"github.com/phrazzld/orchestrator/internal/task"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newServer serves /v1/chat/completions, answering each call with the next
// status from statuses (200 once exhausted).
func newServer(t *testing.T, statuses ...int) (*httptest.Server, *int32, *[]map[string]any) {
	t.Helper()
	var calls int32
	var bodies []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(atomic.AddInt32(&calls, 1))
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)

		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		bodies = append(bodies, body)

		w.Header().Set("Content-Type", "application/json")
		if n <= len(statuses) && statuses[n-1] != http.StatusOK {
			w.WriteHeader(statuses[n-1])
			_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"server_error"}}`))
			return
		}
		_, _ = w.Write([]byte(`{
			"id":"chatcmpl-1","object":"chat.completion","model":"llama3",
			"choices":[{"index":0,"message":{"role":"assistant","content":"pong"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}
		}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls, &bodies
}

func TestNewClientValidation(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{}, discardLogger())
	assert.ErrorIs(t, err, llm.ErrInvalidConfig)

	_, err = NewClient(Config{Model: "gpt-4o-mini"}, discardLogger())
	assert.ErrorIs(t, err, llm.ErrInvalidConfig, "hosted endpoint needs a key")

	c, err := NewClient(Config{Model: "llama3", Endpoint: "http://localhost:11434/v1"}, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:11434/v1", c.Endpoint())
}

func TestComplete(t *testing.T) {
	t.Parallel()
	srv, calls, bodies := newServer(t)

	c, err := NewClient(Config{Name: "ollama", Model: "llama3", Endpoint: srv.URL + "/v1"}, discardLogger())
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), llm.Request{
		System:   "system prompt",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "ping"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "pong", resp.Text)
	assert.Equal(t, llm.Usage{PromptTokens: 3, CompletionTokens: 1, TotalTokens: 4}, resp.Usage)
	assert.Equal(t, "ollama", resp.Provider)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))

	msgs, ok := (*bodies)[0]["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
}

func TestCompleteErrors(t *testing.T) {
	t.Parallel()
	req := llm.Request{Messages: []llm.Message{{Role: llm.RoleUser, Content: "ping"}}}

	t.Run("server error retried", func(t *testing.T) {
		t.Parallel()
		srv, calls, _ := newServer(t, http.StatusBadGateway)
		c, err := NewClient(Config{Model: "m", Endpoint: srv.URL + "/v1", MaxRetries: 1, RetryDelay: time.Millisecond}, discardLogger())
		require.NoError(t, err)

		resp, err := c.Complete(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "pong", resp.Text)
		assert.Equal(t, int32(2), atomic.LoadInt32(calls))
	})

	t.Run("rate limited", func(t *testing.T) {
		t.Parallel()
		srv, calls, _ := newServer(t, http.StatusTooManyRequests)
		c, err := NewClient(Config{Model: "m", Endpoint: srv.URL + "/v1", MaxRetries: 3, RetryDelay: time.Millisecond}, discardLogger())
		require.NoError(t, err)

		_, err = c.Complete(context.Background(), req)
		assert.ErrorIs(t, err, task.ErrRateLimitExceeded)
		assert.Equal(t, int32(1), atomic.LoadInt32(calls))
	})

	t.Run("unauthorized is fatal", func(t *testing.T) {
		t.Parallel()
		srv, _, _ := newServer(t, http.StatusUnauthorized)
		c, err := NewClient(Config{Model: "m", Endpoint: srv.URL + "/v1", MaxRetries: 3}, discardLogger())
		require.NoError(t, err)

		_, err = c.Complete(context.Background(), req)
		assert.True(t, task.IsFatal(err))
		assert.Equal(t, "llm_http_401", task.Code(err))
	})
}
