package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/orchestrator/internal/api/shared"
	"github.com/phrazzld/orchestrator/internal/platform/logger"
	"github.com/phrazzld/orchestrator/internal/ratelimit"
	"github.com/phrazzld/orchestrator/internal/service/auth"
)

// principalEcho writes the authenticated subject.
var principalEcho = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	p, _ := shared.GetPrincipal(r.Context())
	_, _ = w.Write([]byte(p.Method + ":" + p.Subject))
})

type stubKeys map[string]string

func (s stubKeys) Verify(key string) (string, error) {
	if name, ok := s[key]; ok {
		return name, nil
	}
	return "", auth.ErrInvalidAPIKey
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()

	jwtSvc := auth.NewMockJWTService()
	jwtSvc.ValidateTokenFunc = func(_ context.Context, token string) (*auth.Claims, error) {
		switch token {
		case "good":
			return &auth.Claims{Subject: "operator", TokenType: auth.TokenTypeAccess}, nil
		case "expired":
			return nil, auth.ErrExpiredToken
		case "broken":
			return nil, errors.New("keystore offline")
		}
		return nil, auth.ErrInvalidToken
	}
	mw := NewAuthMiddleware(jwtSvc, stubKeys{"ci:s3cret": "ci"})

	tests := []struct {
		name       string
		headers    map[string]string
		wantStatus int
		wantBody   string
	}{
		{name: "valid bearer", headers: map[string]string{"Authorization": "Bearer good"}, wantStatus: http.StatusOK, wantBody: "jwt:operator"},
		{name: "lowercase scheme", headers: map[string]string{"Authorization": "bearer good"}, wantStatus: http.StatusOK, wantBody: "jwt:operator"},
		{name: "valid api key", headers: map[string]string{APIKeyHeader: "ci:s3cret"}, wantStatus: http.StatusOK, wantBody: "api_key:ci"},
		{name: "no credentials", wantStatus: http.StatusUnauthorized},
		{name: "bad scheme", headers: map[string]string{"Authorization": "Basic abc"}, wantStatus: http.StatusUnauthorized},
		{name: "expired", headers: map[string]string{"Authorization": "Bearer expired"}, wantStatus: http.StatusUnauthorized},
		{name: "invalid", headers: map[string]string{"Authorization": "Bearer forged"}, wantStatus: http.StatusUnauthorized},
		{name: "bad api key", headers: map[string]string{APIKeyHeader: "ci:wrong"}, wantStatus: http.StatusUnauthorized},
		{name: "validator failure", headers: map[string]string{"Authorization": "Bearer broken"}, wantStatus: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			mw.Authenticate(principalEcho).ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, w.Body.String())
			}
			if tt.wantStatus == http.StatusUnauthorized {
				assert.Contains(t, w.Body.String(), CodeUnauthenticated)
			}
		})
	}
}

func TestAuthenticateWithoutVerifiers(t *testing.T) {
	t.Parallel()
	mw := NewAuthMiddleware(nil, nil)

	for _, h := range []map[string]string{
		{APIKeyHeader: "ci:s3cret"},
		{"Authorization": "Bearer good"},
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		for k, v := range h {
			req.Header.Set(k, v)
		}
		w := httptest.NewRecorder()
		mw.Authenticate(principalEcho).ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}
}

func TestTraceMiddleware(t *testing.T) {
	t.Parallel()
	log, buf := logger.NewTestLogger(t)

	var seen string
	h := NewTraceMiddleware(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = shared.GetTraceID(r.Context())
		logger.FromContext(r.Context()).Info("inside handler")
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Len(t, seen, 32)
	assert.Equal(t, seen, w.Header().Get(shared.TraceIDHeader))
	assert.Contains(t, buf.String(), seen)

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(shared.TraceIDHeader, "caller-trace-0001")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, "caller-trace-0001", seen)

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(shared.TraceIDHeader, "bad id!")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.NotEqual(t, "bad id!", seen)
}

func TestRateLimitMiddleware(t *testing.T) {
	t.Parallel()

	limiter := ratelimit.NewSlidingWindow(5, time.Minute)
	now := time.Now()
	h := newRateLimitMiddleware(limiter, "submit", func() time.Time { return now })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusAccepted) }))

	send := func(remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/tasks", nil)
		req.RemoteAddr = remote
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w
	}

	for i := 0; i < 5; i++ {
		w := send("10.0.0.1:1234")
		require.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, strconv.Itoa(4-i), w.Header().Get(HeaderRateLimitRemaining))
	}

	w := send("10.0.0.1:5678")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get(HeaderRateLimitRemaining))
	assert.NotEmpty(t, w.Header().Get(HeaderRateLimitReset))
	retry, err := strconv.Atoi(w.Header().Get(HeaderRetryAfter))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, retry, 1)
	assert.Contains(t, w.Body.String(), "rate_limit_exceeded")

	assert.Equal(t, http.StatusAccepted, send("10.0.0.2:1234").Code)
}

type failingLimiter struct{}

func (failingLimiter) Check(context.Context, string) (ratelimit.Result, error) {
	return ratelimit.Result{}, errors.New("redis down")
}

func TestRateLimitMiddlewareFailsOpen(t *testing.T) {
	t.Parallel()
	h := NewRateLimitMiddleware(failingLimiter{}, "submit")(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusAccepted) }))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/tasks", nil))
	assert.Equal(t, http.StatusAccepted, w.Code)
}
