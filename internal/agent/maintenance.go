package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/orchestrator/internal/task"
)

// Maintenance is the model-free agent for housekeeping tasks. Its only action
// re-derives run statuses from their member tasks, repairing any run whose
// stored status drifted after a crash between the task and run writes.
type Maintenance struct {
	tasks  task.TaskStore
	runs   task.RunStore
	logger *slog.Logger
}

var _ Agent = (*Maintenance)(nil)

// NewMaintenance creates the maintenance agent.
func NewMaintenance(tasks task.TaskStore, runs task.RunStore, logger *slog.Logger) *Maintenance {
	return &Maintenance{tasks: tasks, runs: runs, logger: logger.With("component", "agent", "role", task.RoleMaintenance)}
}

// Invoke implements Agent.
func (m *Maintenance) Invoke(ctx context.Context, t task.Task) (task.Result, error) {
	p, err := task.ParsePayload(t)
	if err != nil {
		return task.Result{}, task.Fatal(err)
	}
	mp := p.(task.MaintenancePayload)

	ids := mp.RunIDs
	if len(ids) == 0 {
		ids, err = m.allRunIDs(ctx)
		if err != nil {
			return task.Result{}, err
		}
	}

	statuses := make(map[string]any, len(ids))
	changed := 0
	for _, id := range ids {
		before, err := m.runs.Get(ctx, id)
		if err != nil {
			return task.Result{}, fmt.Errorf("reconcile run %s: %w", id, err)
		}
		after, err := task.SyncRunStatus(ctx, m.tasks, m.runs, id)
		if err != nil {
			return task.Result{}, fmt.Errorf("reconcile run %s: %w", id, err)
		}
		if after != before.Status {
			changed++
			m.logger.InfoContext(ctx, "run status repaired",
				"run_id", id,
				"from", before.Status,
				"to", after)
		}
		statuses[id] = string(after)
	}

	return task.Result{
		Status: task.StatusCompleted,
		Notes:  fmt.Sprintf("reconciled %d run(s), %d changed", len(ids), changed),
		Output: map[string]any{"runs": statuses, "changed": changed},
	}, nil
}

func (m *Maintenance) allRunIDs(ctx context.Context) ([]string, error) {
	var ids []string
	for offset := 0; ; offset += task.DefaultRunListLimit {
		page, err := m.runs.List(ctx, task.RunFilter{Offset: offset, Limit: task.DefaultRunListLimit})
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		for _, r := range page {
			ids = append(ids, r.ID)
		}
		if len(page) < task.DefaultRunListLimit {
			return ids, nil
		}
	}
}
