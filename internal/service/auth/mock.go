package auth

import (
	"context"
	"time"
)

// MockJWTService is a JWTService whose behaviour is set per test.
type MockJWTService struct {
	GenerateTokenFunc func(ctx context.Context, subject string) (string, error)
	ValidateTokenFunc func(ctx context.Context, tokenString string) (*Claims, error)

	Token           string
	TokenError      error
	ValidationError error
	Claims          *Claims
}

// NewMockJWTService returns a mock that accepts any token as subject "test".
func NewMockJWTService() *MockJWTService {
	now := time.Now()
	return &MockJWTService{
		Token: "mock-jwt-token",
		Claims: &Claims{
			Subject:   "test",
			TokenType: TokenTypeAccess,
			IssuedAt:  now,
			ExpiresAt: now.Add(time.Hour),
			ID:        "mock-token-id",
		},
	}
}

// GenerateToken implements JWTService.
func (m *MockJWTService) GenerateToken(ctx context.Context, subject string) (string, error) {
	if m.GenerateTokenFunc != nil {
		return m.GenerateTokenFunc(ctx, subject)
	}
	return m.Token, m.TokenError
}

// ValidateToken implements JWTService.
func (m *MockJWTService) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	if m.ValidateTokenFunc != nil {
		return m.ValidateTokenFunc(ctx, tokenString)
	}
	if m.ValidationError != nil {
		return nil, m.ValidationError
	}
	return m.Claims, nil
}
