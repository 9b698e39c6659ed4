package ratelimit

import (
	"context"
	"time"
)

// Result is the outcome of one admission check.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter decides whether a request identified by key may proceed.
type Limiter interface {
	Check(ctx context.Context, key string) (Result, error)
}

// Key builds the canonical requester:feature key.
func Key(requester, feature string) string {
	return requester + ":" + feature
}
