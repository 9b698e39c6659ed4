package ratelimit

import (
	"context"
	"sync"
	"time"
)

// SlidingWindow admits at most max requests per key within any trailing window.
type SlidingWindow struct {
	max    int
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	hits map[string][]time.Time
}

var _ Limiter = (*SlidingWindow)(nil)

// NewSlidingWindow creates an in-process sliding window limiter.
func NewSlidingWindow(max int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		max:    max,
		window: window,
		now:    time.Now,
		hits:   make(map[string][]time.Time),
	}
}

// Check records the request when it is admitted. ResetAt is when the oldest
// retained request leaves the window.
func (l *SlidingWindow) Check(_ context.Context, key string) (Result, error) {
	now := l.now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	retained := l.hits[key]
	drop := 0
	for drop < len(retained) && !retained[drop].After(cutoff) {
		drop++
	}
	retained = retained[drop:]

	allowed := len(retained) < l.max
	if allowed {
		retained = append(retained, now)
	}
	if len(retained) == 0 {
		delete(l.hits, key)
	} else {
		l.hits[key] = retained
	}

	res := Result{Allowed: allowed, ResetAt: now.Add(l.window)}
	if len(retained) > 0 {
		res.ResetAt = retained[0].Add(l.window)
	}
	if allowed {
		res.Remaining = l.max - len(retained)
	}
	return res, nil
}
