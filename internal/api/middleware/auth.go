package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/phrazzld/orchestrator/internal/api/shared"
	"github.com/phrazzld/orchestrator/internal/platform/logger"
	"github.com/phrazzld/orchestrator/internal/redact"
	"github.com/phrazzld/orchestrator/internal/service/auth"
)

// APIKeyHeader carries a "name:secret" API key.
const APIKeyHeader = "X-API-Key"

// CodeUnauthenticated is the error code of 401 responses.
const CodeUnauthenticated = "unauthenticated"

// APIKeyVerifier checks presented API keys and returns the key name.
type APIKeyVerifier interface {
	Verify(key string) (string, error)
}

// AuthMiddleware authenticates requests with a bearer JWT or an API key.
type AuthMiddleware struct {
	jwtService auth.JWTService
	apiKeys    APIKeyVerifier
}

// NewAuthMiddleware creates an AuthMiddleware. Either verifier may be nil, in
// which case that credential type is rejected.
func NewAuthMiddleware(jwtService auth.JWTService, apiKeys APIKeyVerifier) *AuthMiddleware {
	return &AuthMiddleware{jwtService: jwtService, apiKeys: apiKeys}
}

// Authenticate requires a valid credential and stores the caller in the
// request context. An API key takes precedence over an Authorization header.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromContext(r.Context())

		if key := r.Header.Get(APIKeyHeader); key != "" {
			if m.apiKeys == nil {
				shared.RespondWithError(w, r, http.StatusUnauthorized, CodeUnauthenticated, "API keys are not accepted")
				return
			}
			name, err := m.apiKeys.Verify(key)
			if err != nil {
				log.Warn("api key rejected", "error", redact.Error(err))
				shared.RespondWithError(w, r, http.StatusUnauthorized, CodeUnauthenticated, "Invalid API key")
				return
			}
			ctx := shared.WithPrincipal(r.Context(), shared.Principal{Subject: name, Method: "api_key"})
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			shared.RespondWithError(w, r, http.StatusUnauthorized, CodeUnauthenticated, "Authorization header required")
			return
		}
		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			shared.RespondWithError(w, r, http.StatusUnauthorized, CodeUnauthenticated, "Invalid authorization format")
			return
		}
		if m.jwtService == nil {
			shared.RespondWithError(w, r, http.StatusUnauthorized, CodeUnauthenticated, "Bearer tokens are not accepted")
			return
		}

		claims, err := m.jwtService.ValidateToken(r.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrExpiredToken):
				shared.RespondWithError(w, r, http.StatusUnauthorized, CodeUnauthenticated, "Token expired")
			case errors.Is(err, auth.ErrInvalidToken),
				errors.Is(err, auth.ErrWrongTokenType),
				errors.Is(err, auth.ErrTokenNotYetValid),
				errors.Is(err, auth.ErrMissingToken):
				shared.RespondWithError(w, r, http.StatusUnauthorized, CodeUnauthenticated, "Invalid token")
			default:
				log.Error("failed to validate token", "error", redact.Error(err))
				shared.RespondWithError(w, r, http.StatusInternalServerError, "", "Authentication error")
			}
			return
		}

		ctx := shared.WithPrincipal(r.Context(), shared.Principal{Subject: claims.Subject, Method: "jwt"})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
