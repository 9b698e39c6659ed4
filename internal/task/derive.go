package task

import (
	"context"
	"fmt"
)

// DeriveRunStatus computes a run's status from its members' statuses:
//
//   - no tasks: queued
//   - every task terminal: failed if any failed, else completed
//   - any task running or completed: running
//   - otherwise: queued
func DeriveRunStatus(statuses []Status) Status {
	if len(statuses) == 0 {
		return StatusQueued
	}
	allTerminal := true
	anyFailed := false
	anyProgress := false
	for _, s := range statuses {
		if !s.Terminal() {
			allTerminal = false
		}
		if s == StatusFailed {
			anyFailed = true
		}
		if s == StatusRunning || s == StatusCompleted {
			anyProgress = true
		}
	}
	switch {
	case allTerminal && anyFailed:
		return StatusFailed
	case allTerminal:
		return StatusCompleted
	case anyProgress:
		return StatusRunning
	default:
		return StatusQueued
	}
}

// SyncRunStatus re-derives the run's status from the task store and persists
// it. It is idempotent and is also the repair path after a crash between a
// task write and its run write.
func SyncRunStatus(ctx context.Context, tasks TaskStore, runs RunStore, runID string) (Status, error) {
	if runID == "" {
		return "", nil
	}
	members, err := tasks.ListByRunID(ctx, runID)
	if err != nil {
		return "", fmt.Errorf("listing tasks for run %s: %w", runID, err)
	}
	statuses := make([]Status, 0, len(members))
	for _, t := range members {
		statuses = append(statuses, t.Status)
	}
	status := DeriveRunStatus(statuses)
	if err := runs.UpdateStatus(ctx, runID, status, nil); err != nil {
		return "", fmt.Errorf("updating run %s: %w", runID, err)
	}
	return status, nil
}
