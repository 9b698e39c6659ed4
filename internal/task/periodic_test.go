package task

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPeriodicStartStopIdempotent(t *testing.T) {
	t.Parallel()
	var ticks atomic.Int32
	p := NewPeriodic(5*time.Millisecond, func(context.Context) { ticks.Add(1) }, setupTestLogger())

	assert.False(t, p.Stop(), "stopping a stopped loop is a no-op")
	assert.True(t, p.Start())
	assert.False(t, p.Start(), "second start is a no-op")
	assert.True(t, p.Running())

	assert.Eventually(t, func() bool { return ticks.Load() >= 2 }, time.Second, time.Millisecond)

	assert.True(t, p.Stop())
	assert.False(t, p.Stop())
	assert.False(t, p.Running())

	after := ticks.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, ticks.Load(), "no ticks after stop")

	assert.True(t, p.Start(), "restart after stop")
	p.Stop()
}

func TestPeriodicStopWaitsForInFlightTick(t *testing.T) {
	t.Parallel()
	started := make(chan struct{})
	var finished atomic.Bool
	var once atomic.Bool
	p := NewPeriodic(time.Millisecond, func(ctx context.Context) {
		if !once.CompareAndSwap(false, true) {
			return
		}
		close(started)
		time.Sleep(30 * time.Millisecond)
		finished.Store(ctx.Err() == nil)
	}, setupTestLogger())

	p.Start()
	<-started
	p.Stop()
	assert.True(t, finished.Load(), "in-flight tick completes with a live context")
}
