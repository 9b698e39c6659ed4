package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/phrazzld/orchestrator/internal/task"
)

// Common errors returned by the llm package and its providers
var (
	// ErrInvalidConfig is returned when a provider configuration is invalid
	ErrInvalidConfig = errors.New("invalid model provider configuration")

	// ErrInvalidResponse is returned when the model response is empty or malformed
	ErrInvalidResponse = errors.New("invalid response from language model")

	// ErrContentBlocked is returned when the provider's safety filters block the content
	ErrContentBlocked = errors.New("content blocked by language model safety filters")

	// ErrEndpointNotAllowed is returned when a provider endpoint violates the endpoint policy
	ErrEndpointNotAllowed = errors.New("model endpoint not allowed by policy")

	// ErrUnknownProvider is returned when a request names a provider that was never registered
	ErrUnknownProvider = errors.New("unknown model provider")
)

// DefaultRateLimitWait is used when a 429 carries no Retry-After.
const DefaultRateLimitWait = 30 * time.Second

// StatusError classifies a non-2xx HTTP status from a model endpoint:
//
//   - 429 becomes a rate-limited error carrying retryAfter (or the default)
//   - 408 and 5xx stay retryable
//   - every other 4xx is fatal
func StatusError(status int, retryAfter time.Duration, body string) error {
	httpErr := &task.HTTPStatusError{StatusCode: status, Body: body}
	switch {
	case status == 429:
		if retryAfter <= 0 {
			retryAfter = DefaultRateLimitWait
		}
		return task.RateLimited(retryAfter, httpErr)
	case status == 408 || status >= 500:
		return httpErr
	case status >= 400:
		return task.Fatal(httpErr)
	}
	return httpErr
}

// TransportError maps deadline and network timeouts to llm_timeout and
// leaves other errors unchanged.
func TransportError(err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", task.ErrLLMTimeout, err)
	}
	return err
}

// IsTransient reports whether a provider may retry err locally. Rate limits
// are left to the worker, which waits exactly the reported delay.
func IsTransient(err error) bool {
	if err == nil || task.IsFatal(err) || errors.Is(err, task.ErrRateLimitExceeded) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrContentBlocked) ||
		errors.Is(err, ErrInvalidResponse) || errors.Is(err, ErrInvalidConfig) {
		return false
	}
	return true
}
