package middleware

import (
	"log/slog"
	"net/http"

	"github.com/phrazzld/orchestrator/internal/api/shared"
	"github.com/phrazzld/orchestrator/internal/platform/logger"
)

// NewTraceMiddleware assigns each request a trace ID, reusing a well-formed
// X-Trace-ID from the caller, echoes it on the response and stores a logger
// carrying trace_id in the request context.
func NewTraceMiddleware(base *slog.Logger) func(http.Handler) http.Handler {
	if base == nil {
		base = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			traceID := r.Header.Get(shared.TraceIDHeader)
			if !shared.ValidTraceID(traceID) {
				traceID = shared.NewTraceID()
			}
			w.Header().Set(shared.TraceIDHeader, traceID)

			log := base.With("trace_id", traceID)
			ctx := shared.WithTraceID(r.Context(), traceID)
			ctx = logger.WithContext(ctx, log)

			log.Debug("request started",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr))

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
