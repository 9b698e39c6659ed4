package llm

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// RetryConfig bounds provider-local retries of transient failures.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// WithRetry calls fn until it succeeds, returns a non-transient error, or the
// retry budget is spent. Delays grow exponentially with jitter:
// base * 2^attempt * [0.5, 1.0).
func WithRetry(ctx context.Context, cfg RetryConfig, logger *slog.Logger, fn func(ctx context.Context) error) error {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var err error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		err = fn(ctx)
		if err == nil || !IsTransient(err) || attempt == cfg.MaxRetries {
			return err
		}

		backoff := float64(cfg.BaseDelay) * math.Pow(2, float64(attempt))
		delay := time.Duration(backoff * (0.5 + rng.Float64()*0.5))
		logger.WarnContext(ctx, "model call failed, retrying",
			"attempt", attempt+1,
			"delay_ms", delay.Milliseconds(),
			"error", err)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return TransportError(ctx.Err())
		}
	}
	return err
}
