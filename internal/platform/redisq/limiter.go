package redisq

import (
	"context"
	"fmt"
	"time"

	"github.com/phrazzld/orchestrator/internal/ratelimit"
	"github.com/redis/go-redis/v9"
)

// fixedWindowScript increments the counter and starts the window TTL only
// when this call created the key (or the key somehow lost its TTL). It returns
// the post-increment count and the remaining TTL in milliseconds.
var fixedWindowScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if count == 1 or ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// FixedWindow is a ratelimit.Limiter whose counters live in Redis, so every
// orchestrator instance shares them.
type FixedWindow struct {
	client redis.Scripter
	prefix string
	max    int
	window time.Duration
	now    func() time.Time
}

var _ ratelimit.Limiter = (*FixedWindow)(nil)

// NewFixedWindow creates a limiter admitting max requests per key per window.
func NewFixedWindow(client redis.Scripter, prefix string, max int, window time.Duration) *FixedWindow {
	return &FixedWindow{client: client, prefix: prefix, max: max, window: window, now: time.Now}
}

// Check increments the key's counter atomically.
func (l *FixedWindow) Check(ctx context.Context, key string) (ratelimit.Result, error) {
	vals, err := fixedWindowScript.Run(ctx, l.client, []string{l.prefix + key}, l.window.Milliseconds()).Int64Slice()
	if err != nil {
		return ratelimit.Result{}, fmt.Errorf("rate limit check failed: %w", err)
	}
	if len(vals) != 2 {
		return ratelimit.Result{}, fmt.Errorf("rate limit check returned %d values", len(vals))
	}
	count, ttl := int(vals[0]), time.Duration(vals[1])*time.Millisecond

	res := ratelimit.Result{
		Allowed: count <= l.max,
		ResetAt: l.now().Add(ttl),
	}
	if res.Allowed {
		res.Remaining = l.max - count
	}
	return res, nil
}
