package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/phrazzld/orchestrator/internal/task"
)

// Recovery counts the tasks put back on the queue by Recover or ResetStuck.
type Recovery struct {
	Requeued int
	Reset    int
}

// Recover puts unfinished tasks from a previous process back on the queue.
// It must run before Start.
//
// With an in-process queue nothing survived the restart, so every task the
// store still lists as queued is re-enqueued and every running task is reset.
// With a shared queue the queued tasks are still in it, and running tasks are
// only reset once they are older than the stuck age, since another instance
// may be working on them.
func (w *Worker) Recover(ctx context.Context) (Recovery, error) {
	var rec Recovery
	all, err := w.tasks.All(ctx)
	if err != nil {
		return rec, fmt.Errorf("listing tasks for recovery: %w", err)
	}

	stuckAge := w.cfg.StuckAge
	if w.cfg.InProcessQueue {
		stuckAge = 0
	}
	now := w.now()

	var errs []error
	for _, tt := range all {
		switch {
		case tt.Status == task.StatusQueued && w.cfg.InProcessQueue:
			if err := w.queue.Enqueue(ctx, tt.Task); err != nil {
				errs = append(errs, fmt.Errorf("requeue %s: %w", tt.ID, err))
				continue
			}
			rec.Requeued++
		case tt.Status == task.StatusRunning && now.Sub(tt.UpdatedAt) >= stuckAge:
			if err := w.resetStuck(ctx, tt, now); err != nil {
				errs = append(errs, err)
				continue
			}
			rec.Reset++
		}
	}

	w.refreshQueueDepth(ctx)
	if rec.Requeued > 0 || rec.Reset > 0 {
		w.logger.Info("recovered unfinished tasks",
			"requeued", rec.Requeued,
			"reset", rec.Reset)
	}
	return rec, errors.Join(errs...)
}

// ResetStuck re-enqueues tasks that have been running for at least the
// stuck age. Their worker is assumed to have died; an invocation cannot
// outlive the task timeout, which is always shorter.
func (w *Worker) ResetStuck(ctx context.Context) (int, error) {
	all, err := w.tasks.All(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing tasks: %w", err)
	}
	now := w.now()
	reset := 0
	var errs []error
	for _, tt := range all {
		if tt.Status != task.StatusRunning || now.Sub(tt.UpdatedAt) < w.cfg.StuckAge {
			continue
		}
		if err := w.resetStuck(ctx, tt, now); err != nil {
			errs = append(errs, err)
			continue
		}
		reset++
	}
	if reset > 0 {
		w.refreshQueueDepth(ctx)
		w.logger.Warn("reset stuck tasks", "count", reset, "stuck_age", w.cfg.StuckAge)
	}
	return reset, errors.Join(errs...)
}

func (w *Worker) resetStuck(ctx context.Context, tt *task.TrackedTask, now time.Time) error {
	notes := fmt.Sprintf("reset after %s in running", now.Sub(tt.UpdatedAt).Round(time.Second))
	if _, err := w.tasks.SetStatus(ctx, tt.ID, task.StatusQueued, map[string]any{"notes": notes}); err != nil {
		return fmt.Errorf("reset %s: %w", tt.ID, err)
	}
	if err := w.queue.Enqueue(ctx, tt.Task); err != nil {
		return fmt.Errorf("requeue %s: %w", tt.ID, err)
	}
	w.syncRun(ctx, tt.Task)
	w.logger.Warn("requeued stuck task", "task_id", tt.ID, "attempts", tt.Attempts)
	return nil
}
