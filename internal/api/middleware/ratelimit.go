package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/phrazzld/orchestrator/internal/api/shared"
	"github.com/phrazzld/orchestrator/internal/platform/logger"
	"github.com/phrazzld/orchestrator/internal/ratelimit"
	"github.com/phrazzld/orchestrator/internal/task"
)

// Rate limit response headers
const (
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRetryAfter         = "Retry-After"
)

// NewRateLimitMiddleware admits requests through limiter under the key
// requester:feature, where requester is the authenticated subject or the
// client IP. Rejected requests get 429. Limiter failures let the request
// through and are logged.
func NewRateLimitMiddleware(limiter ratelimit.Limiter, feature string) func(http.Handler) http.Handler {
	return newRateLimitMiddleware(limiter, feature, time.Now)
}

func newRateLimitMiddleware(limiter ratelimit.Limiter, feature string, now func() time.Time) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ratelimit.Key(requester(r), feature)
			res, err := limiter.Check(r.Context(), key)
			if err != nil {
				logger.FromContext(r.Context()).Warn("rate limiter unavailable, admitting request",
					"error", err, "key", key)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set(HeaderRateLimitRemaining, strconv.Itoa(res.Remaining))
			w.Header().Set(HeaderRateLimitReset, strconv.FormatInt(res.ResetAt.Unix(), 10))
			if !res.Allowed {
				wait := res.ResetAt.Sub(now())
				seconds := int(math.Ceil(wait.Seconds()))
				if seconds < 1 {
					seconds = 1
				}
				w.Header().Set(HeaderRetryAfter, strconv.Itoa(seconds))
				shared.RespondWithError(w, r, http.StatusTooManyRequests, task.CodeRateLimitExceeded, "Rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requester(r *http.Request) string {
	if p, ok := shared.GetPrincipal(r.Context()); ok && p.Subject != "" {
		return p.Subject
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
