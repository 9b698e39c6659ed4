package shared

import (
	"context"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// ContextKey is the key type for request-scoped values.
type ContextKey string

// Context keys for request-scoped values
const (
	// PrincipalContextKey holds the authenticated caller.
	PrincipalContextKey ContextKey = "principal"

	// TraceIDKey holds the request's trace ID.
	TraceIDKey ContextKey = "traceID"
)

// TraceIDHeader carries a caller-supplied trace ID and echoes the one used.
const TraceIDHeader = "X-Trace-ID"

var traceIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{8,64}$`)

// Principal identifies an authenticated caller.
type Principal struct {
	// Subject is the token subject or the API key name.
	Subject string
	// Method is "jwt", "api_key" or "anonymous".
	Method string
}

// NewTraceID returns a random 32 character hex trace ID.
func NewTraceID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ValidTraceID reports whether a caller-supplied trace ID may be reused.
func ValidTraceID(id string) bool {
	return traceIDPattern.MatchString(id)
}

// WithTraceID stores id in ctx.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TraceIDKey, id)
}

// GetTraceID retrieves the trace ID from the context.
// If no trace ID exists, it returns an empty string.
func GetTraceID(ctx context.Context) string {
	traceID, _ := ctx.Value(TraceIDKey).(string)
	return traceID
}

// WithPrincipal stores the authenticated caller in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, PrincipalContextKey, p)
}

// GetPrincipal returns the authenticated caller, if any.
func GetPrincipal(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(PrincipalContextKey).(Principal)
	return p, ok
}
