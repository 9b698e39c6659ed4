package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/orchestrator/internal/task"
)

func TestMaintenanceReconcilesRuns(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tasks := task.NewMemoryTaskStore()
	runs := task.NewMemoryRunStore()

	// run-a drifted: its only task completed but the run still says running.
	require.NoError(t, runs.Add(ctx, task.Run{ID: "run-a", Status: task.StatusRunning}))
	require.NoError(t, tasks.Add(ctx, task.Task{ID: "a1", RunID: "run-a", Role: task.RoleWriter, Description: "d"}))
	require.NoError(t, runs.AppendTask(ctx, "run-a", "a1"))
	_, err := tasks.SetStatus(ctx, "a1", task.StatusCompleted, nil)
	require.NoError(t, err)

	// run-b is already consistent.
	require.NoError(t, runs.Add(ctx, task.Run{ID: "run-b"}))

	m := NewMaintenance(tasks, runs, discardLogger())

	t.Run("all runs", func(t *testing.T) {
		res, err := m.Invoke(ctx, task.Task{ID: "m1", Role: task.RoleMaintenance, Description: "reconcile"})
		require.NoError(t, err)
		assert.Equal(t, task.StatusCompleted, res.Status)
		assert.Equal(t, 1, res.Output["changed"])
		assert.Equal(t, map[string]any{"run-a": "completed", "run-b": "queued"}, res.Output["runs"])

		r, err := runs.Get(ctx, "run-a")
		require.NoError(t, err)
		assert.Equal(t, task.StatusCompleted, r.Status)
	})

	t.Run("explicit ids", func(t *testing.T) {
		res, err := m.Invoke(ctx, task.Task{
			ID: "m2", Role: task.RoleMaintenance, Description: "reconcile",
			Payload: map[string]any{"action": "reconcile_runs", "run_ids": []any{"run-b"}},
		})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"run-b": "queued"}, res.Output["runs"])
		assert.Equal(t, 0, res.Output["changed"])
	})

	t.Run("unknown run", func(t *testing.T) {
		_, err := m.Invoke(ctx, task.Task{
			ID: "m3", Role: task.RoleMaintenance, Description: "reconcile",
			Payload: map[string]any{"run_ids": []any{"missing"}},
		})
		assert.Error(t, err)
	})

	t.Run("invalid action is fatal", func(t *testing.T) {
		_, err := m.Invoke(ctx, task.Task{
			ID: "m4", Role: task.RoleMaintenance, Description: "reconcile",
			Payload: map[string]any{"action": "vacuum"},
		})
		assert.True(t, task.IsFatal(err))
	})
}
