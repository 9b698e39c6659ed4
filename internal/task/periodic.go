package task

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Periodic runs a function on a fixed interval until stopped. Start and Stop
// are idempotent. Stop halts future ticks and waits for a tick already in
// progress to return; it never cancels the tick's context.
type Periodic struct {
	interval time.Duration
	fn       func(ctx context.Context)
	logger   *slog.Logger

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewPeriodic creates a stopped Periodic. A non-positive interval defaults to
// one second.
func NewPeriodic(interval time.Duration, fn func(ctx context.Context), logger *slog.Logger) *Periodic {
	if interval <= 0 {
		interval = time.Second
	}
	return &Periodic{interval: interval, fn: fn, logger: logger}
}

// Start begins ticking. It reports false when already running.
func (p *Periodic) Start() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop != nil {
		return false
	}
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	go p.loop(p.stop, p.done)
	p.logger.Debug("periodic loop started", "interval", p.interval)
	return true
}

// Stop halts the loop. It reports false when the loop was not running.
func (p *Periodic) Stop() bool {
	p.mu.Lock()
	stop, done := p.stop, p.done
	p.stop, p.done = nil, nil
	p.mu.Unlock()

	if stop == nil {
		return false
	}
	close(stop)
	<-done
	p.logger.Debug("periodic loop stopped")
	return true
}

// Running reports whether the loop is active.
func (p *Periodic) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stop != nil
}

func (p *Periodic) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			select {
			case <-stop:
				return
			default:
			}
			p.fn(context.Background())
		}
	}
}
