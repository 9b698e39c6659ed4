package task

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"plain", errors.New("boom"), "error"},
		{"sentinel", fmt.Errorf("wrapped: %w", ErrToolCallLimit), CodeToolCallLimit},
		{"fatal default", Fatal(errors.New("boom")), CodeFatal},
		{"fatal keeps code", Fatal(ErrStructuredParse), CodeStructuredParse},
		{"fatalf", Fatalf(CodeNoAgent, "role %s", "x"), CodeNoAgent},
		{"rate limited", RateLimited(time.Second, nil), CodeRateLimitExceeded},
		{"http", &HTTPStatusError{StatusCode: 503}, "llm_http_503"},
		{"fatal http", Fatal(&HTTPStatusError{StatusCode: 400}), "llm_http_400"},
		{"timeout", fmt.Errorf("call: %w", ErrLLMTimeout), CodeLLMTimeout},
		{"invalid payload", ErrInvalidPayload, CodeInvalidTask},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Code(tt.err))
		})
	}
}

func TestFatalClassification(t *testing.T) {
	t.Parallel()

	fatal := Fatal(ErrToolCallLimit)
	assert.True(t, IsFatal(fatal))
	assert.ErrorIs(t, fatal, ErrToolCallLimit)
	assert.Same(t, fatal, Fatal(fatal), "wrapping twice is a no-op")
	assert.Nil(t, Fatal(nil))

	assert.False(t, IsFatal(errors.New("transient")))
	assert.False(t, IsFatal(context.DeadlineExceeded))
}

func TestRateLimitedError(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("agent: %w", RateLimited(3*time.Second, errors.New("slow down")))
	var rl *RateLimitedError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 3*time.Second, rl.RetryAfter)
	assert.ErrorIs(t, err, ErrRateLimitExceeded)
	assert.False(t, IsFatal(err))
	assert.Contains(t, err.Error(), "slow down")
}

func TestTelemetryError(t *testing.T) {
	t.Parallel()
	tel := map[string]any{"model_calls": 2}

	assert.Nil(t, WithTelemetry(nil, tel))
	plain := errors.New("boom")
	assert.Same(t, plain, WithTelemetry(plain, nil))

	err := WithTelemetry(Fatalf(CodeStructuredParse, "no json"), tel)
	assert.True(t, IsFatal(err))
	assert.Equal(t, CodeStructuredParse, Code(err))
	assert.Equal(t, tel, TelemetryOf(err))
	assert.Nil(t, TelemetryOf(plain))

	wrapped := fmt.Errorf("invoke: %w", RateLimited(time.Second, WithTelemetry(plain, tel)))
	assert.Equal(t, CodeRateLimitExceeded, Code(wrapped))
	assert.Equal(t, tel, TelemetryOf(wrapped))
}
