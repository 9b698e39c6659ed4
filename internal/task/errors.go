package task

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Error codes surfaced in task history, dead-letter records and API responses.
const (
	CodeInvalidTask        = "invalid_task"
	CodeNoAgent            = "no_agent"
	CodeRateLimitExceeded  = "rate_limit_exceeded"
	CodeFatal              = "fatal_error"
	CodeMaxRetriesExceeded = "max_retries_exceeded"
	CodeToolCallLimit      = "tool_call_limit_exceeded"
	CodeStructuredParse    = "structured_response_parse_failed"
	CodeCommandNotAllowed  = "command_not_allowed"
	CodeCwdNotAllowed      = "cwd_not_allowed"
	CodeLLMTimeout         = "llm_timeout"
	codeLLMHTTPPrefix      = "llm_http_"
	codeUnknown            = "error"
)

// Sentinel errors, one per code that has no parameters.
var (
	ErrInvalidTask        = errors.New(CodeInvalidTask)
	ErrNoAgent            = errors.New(CodeNoAgent)
	ErrRateLimitExceeded  = errors.New(CodeRateLimitExceeded)
	ErrFatal              = errors.New(CodeFatal)
	ErrMaxRetriesExceeded = errors.New(CodeMaxRetriesExceeded)
	ErrToolCallLimit      = errors.New(CodeToolCallLimit)
	ErrStructuredParse    = errors.New(CodeStructuredParse)
	ErrCommandNotAllowed  = errors.New(CodeCommandNotAllowed)
	ErrCwdNotAllowed      = errors.New(CodeCwdNotAllowed)
	ErrLLMTimeout         = errors.New(CodeLLMTimeout)
	ErrUnknownStatus      = errors.New("unknown status")
	ErrInvalidPayload     = fmt.Errorf("%w: payload", ErrInvalidTask)
)

// HTTPStatusError reports a non-2xx response from a model endpoint. Its code
// is llm_http_<status>.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body == "" {
		return e.Code()
	}
	return fmt.Sprintf("%s: %s", e.Code(), e.Body)
}

// Code returns llm_http_<status>.
func (e *HTTPStatusError) Code() string {
	return codeLLMHTTPPrefix + strconv.Itoa(e.StatusCode)
}

// FatalError marks an error as non-retryable. The worker dead-letters the task
// on the first occurrence.
type FatalError struct {
	// Code is the specific reason, e.g. tool_call_limit_exceeded.
	Code string
	Err  error
}

func (e *FatalError) Error() string {
	if e.Err == nil {
		return e.Code
	}
	if strings.HasPrefix(e.Err.Error(), e.Code) {
		return e.Err.Error()
	}
	return e.Code + ": " + e.Err.Error()
}

func (e *FatalError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrFatal) match every fatal error.
func (e *FatalError) Is(target error) bool { return target == ErrFatal }

// Fatal wraps err as non-retryable. The code is derived from err when it
// carries one, otherwise fatal_error.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	var fe *FatalError
	if errors.As(err, &fe) {
		return err
	}
	code := Code(err)
	if code == codeUnknown {
		code = CodeFatal
	}
	return &FatalError{Code: code, Err: err}
}

// Fatalf builds a fatal error with an explicit code.
func Fatalf(code string, format string, args ...any) error {
	return &FatalError{Code: code, Err: fmt.Errorf(format, args...)}
}

// RateLimitedError tells the worker to retry after exactly RetryAfter.
type RateLimitedError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitedError) Error() string {
	msg := fmt.Sprintf("%s: retry after %s", CodeRateLimitExceeded, e.RetryAfter)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RateLimitedError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrRateLimitExceeded) match.
func (e *RateLimitedError) Is(target error) bool { return target == ErrRateLimitExceeded }

// RateLimited wraps err with a required wait.
func RateLimited(wait time.Duration, err error) error {
	return &RateLimitedError{RetryAfter: wait, Err: err}
}

// TelemetryError carries the usage an invocation spent before failing with
// Err, so model calls are accounted for even when no result is produced.
type TelemetryError struct {
	Telemetry map[string]any
	Err       error
}

func (e *TelemetryError) Error() string { return e.Err.Error() }

func (e *TelemetryError) Unwrap() error { return e.Err }

// WithTelemetry attaches tel to err. A nil err or empty tel returns err
// unchanged.
func WithTelemetry(err error, tel map[string]any) error {
	if err == nil || len(tel) == 0 {
		return err
	}
	return &TelemetryError{Telemetry: tel, Err: err}
}

// TelemetryOf returns the telemetry attached to err, or nil.
func TelemetryOf(err error) map[string]any {
	var te *TelemetryError
	if errors.As(err, &te) {
		return te.Telemetry
	}
	return nil
}

// IsFatal reports whether err must not be retried.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}

// Code extracts the taxonomy code from err. Unclassified errors yield "error".
func Code(err error) string {
	if err == nil {
		return ""
	}
	var fe *FatalError
	if errors.As(err, &fe) && fe.Code != "" {
		return fe.Code
	}
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return CodeRateLimitExceeded
	}
	var he *HTTPStatusError
	if errors.As(err, &he) {
		return he.Code()
	}
	for _, sentinel := range []error{
		ErrToolCallLimit, ErrStructuredParse, ErrCommandNotAllowed, ErrCwdNotAllowed,
		ErrLLMTimeout, ErrNoAgent, ErrInvalidTask, ErrMaxRetriesExceeded, ErrRateLimitExceeded,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return codeUnknown
}
