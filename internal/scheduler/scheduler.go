package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/phrazzld/orchestrator/internal/events"
	"github.com/phrazzld/orchestrator/internal/task"
)

// DefaultInterval applies when a scheduler is configured without one.
const DefaultInterval = time.Hour

// ErrNoEmitter is returned by constructors given a nil emitter.
var ErrNoEmitter = errors.New("scheduler requires an event emitter")

// loop is the start/stop plumbing shared by every scheduler.
type loop struct {
	name     string
	periodic *task.Periodic
	emitter  events.EventEmitter
	logger   *slog.Logger
	now      func() time.Time
}

func newLoop(name string, interval time.Duration, emitter events.EventEmitter, logger *slog.Logger, tick func(ctx context.Context) (int, error)) *loop {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	l := &loop{
		name:    name,
		emitter: emitter,
		logger:  logger.With("component", "scheduler", "scheduler", name),
		now:     time.Now,
	}
	l.periodic = task.NewPeriodic(interval, func(ctx context.Context) {
		if n, err := tick(ctx); err != nil {
			l.logger.Warn("scheduler tick failed", "error", err, "tasks", n)
		}
	}, l.logger)
	return l
}

// Start begins ticking. It reports false when already running.
func (l *loop) Start() bool {
	started := l.periodic.Start()
	if started {
		l.logger.Info("scheduler started")
	}
	return started
}

// Stop halts future ticks. A tick in progress is allowed to finish.
func (l *loop) Stop() bool {
	stopped := l.periodic.Stop()
	if stopped {
		l.logger.Info("scheduler stopped")
	}
	return stopped
}

// Running reports whether the scheduler is ticking.
func (l *loop) Running() bool {
	return l.periodic.Running()
}

// emit publishes tasks as one run. Nothing is emitted for an empty slice.
func (l *loop) emit(ctx context.Context, tasks []task.Task, runPayload map[string]any) error {
	if len(tasks) == 0 {
		return nil
	}
	event, err := events.NewTaskRequestEvent("scheduler:"+l.name, task.RunTypeSchedule, tasks, runPayload)
	if err != nil {
		return err
	}
	if err := l.emitter.EmitEvent(ctx, event); err != nil {
		return err
	}
	l.logger.Info("scheduled tasks emitted", "run_id", event.RunID, "tasks", len(tasks))
	return nil
}

// acceptedTasks reports, per task, whether a handler took it despite err. A
// nil err accepts everything; an error that does not name individual tasks
// accepts nothing.
func acceptedTasks(tasks []task.Task, err error) []bool {
	ok := make([]bool, len(tasks))
	var partial *events.PartialError
	switch {
	case err == nil:
		for i := range ok {
			ok[i] = true
		}
	case errors.As(err, &partial):
		for i, t := range tasks {
			ok[i] = partial.Accepted(t.ID)
		}
	}
	return ok
}

func countTrue(flags []bool) int {
	n := 0
	for _, f := range flags {
		if f {
			n++
		}
	}
	return n
}
