package task

import (
	"context"
	"testing"
	"time"

	"github.com/phrazzld/orchestrator/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryTaskStoreAdd(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryTaskStore()

	require.NoError(t, s.Add(ctx, Task{ID: "t1", Role: RoleWriter, Description: "d", Payload: map[string]any{"k": "v"}}))
	err := s.Add(ctx, Task{ID: "t1", Role: RoleWriter, Description: "again"})
	assert.ErrorIs(t, err, store.ErrDuplicate)

	got, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, got.Status)
	assert.Zero(t, got.Attempts)
	require.Len(t, got.History, 1)
	assert.Equal(t, StatusQueued, got.History[0].Status)
	assert.NotNil(t, got.Metadata)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMemoryTaskStoreSetStatusAttempts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryTaskStore()
	require.NoError(t, s.Add(ctx, newTestTask("t1")))

	steps := []struct {
		status   Status
		attempts int
	}{
		{StatusRunning, 1},
		{StatusQueued, 1},
		{StatusRunning, 2},
		{StatusFailed, 3},
		{StatusCompleted, 3},
	}
	for i, step := range steps {
		got, err := s.SetStatus(ctx, "t1", step.status, nil)
		require.NoError(t, err)
		assert.Equal(t, step.status, got.Status)
		assert.Equal(t, step.attempts, got.Attempts, "step %d", i)
		assert.Len(t, got.History, i+2)
	}

	_, err := s.SetStatus(ctx, "missing", StatusRunning, nil)
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

func TestMemoryTaskStoreSetStatusMergesTelemetryAndNotes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryTaskStore()
	require.NoError(t, s.Add(ctx, newTestTask("t1")))

	_, err := s.SetStatus(ctx, "t1", StatusRunning, map[string]any{
		"telemetry": map[string]any{"total_tokens": 10, "model": "a"},
	})
	require.NoError(t, err)
	got, err := s.SetStatus(ctx, "t1", StatusCompleted, map[string]any{
		"notes":     "done",
		"telemetry": map[string]any{"total_tokens": 5, "latency_ms": 1.5, "model": "b"},
	})
	require.NoError(t, err)

	assert.EqualValues(t, 15, got.Telemetry["total_tokens"])
	assert.EqualValues(t, 1.5, got.Telemetry["latency_ms"])
	assert.Equal(t, "b", got.Telemetry["model"])
	assert.Equal(t, "done", got.History[len(got.History)-1].Notes)
	assert.Equal(t, "done", got.Result["notes"])

	history, err := s.History(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestMemoryTaskStoreReturnsCopies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryTaskStore()
	require.NoError(t, s.Add(ctx, newTestTask("t1")))

	got, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	got.Metadata["owner"] = "mallory"
	got.History = append(got.History, HistoryEntry{Status: StatusFailed})

	fresh, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.NotContains(t, fresh.Metadata, "owner")
	assert.Len(t, fresh.History, 1)
}

func TestMemoryTaskStoreUpdateMetadataAndListByRun(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryTaskStore()
	for _, tk := range []Task{
		{ID: "a", RunID: "r1", Role: RoleTriage, Description: "a"},
		{ID: "b", RunID: "r2", Role: RoleTriage, Description: "b"},
		{ID: "c", RunID: "r1", Role: RoleTriage, Description: "c"},
	} {
		require.NoError(t, s.Add(ctx, tk))
	}

	_, err := s.UpdateMetadata(ctx, "a", map[string]any{"x": 1})
	require.NoError(t, err)
	got, err := s.UpdateMetadata(ctx, "a", map[string]any{"y": 2})
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.Metadata["x"])
	assert.EqualValues(t, 2, got.Metadata["y"])

	members, err := s.ListByRunID(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "a", members[0].ID)
	assert.Equal(t, "c", members[1].ID)

	all, err := s.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = s.UpdateMetadata(ctx, "missing", nil)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMemoryRunStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryRunStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Add(ctx, Run{ID: "r1", Type: RunTypeManual, CreatedAt: base}))
	require.NoError(t, s.Add(ctx, Run{ID: "r2", Type: RunTypeSchedule, CreatedAt: base.Add(time.Minute)}))
	require.NoError(t, s.Add(ctx, Run{ID: "r3", Type: RunTypeGitHub, CreatedAt: base.Add(2 * time.Minute)}))
	assert.ErrorIs(t, s.Add(ctx, Run{ID: "r1"}), store.ErrRunExists)

	require.NoError(t, s.AppendTask(ctx, "r1", "t1"))
	require.NoError(t, s.AppendTask(ctx, "r1", "t2"))
	require.NoError(t, s.AppendTask(ctx, "r1", "t1"))
	assert.ErrorIs(t, s.AppendTask(ctx, "nope", "t1"), store.ErrNotFound)

	require.NoError(t, s.UpdateStatus(ctx, "r1", StatusRunning, map[string]any{"a": 1}))
	require.NoError(t, s.UpdateStatus(ctx, "r1", StatusCompleted, map[string]any{"b": 2}))

	r1, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2"}, r1.TaskIDs)
	assert.Equal(t, StatusCompleted, r1.Status)
	assert.EqualValues(t, 1, r1.Metadata["a"])
	assert.EqualValues(t, 2, r1.Metadata["b"])

	listed, err := s.List(ctx, RunFilter{})
	require.NoError(t, err)
	require.Len(t, listed, 3)
	assert.Equal(t, "r3", listed[0].ID)
	assert.Equal(t, "r1", listed[2].ID)

	page, err := s.List(ctx, RunFilter{Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "r2", page[0].ID)

	completed, err := s.List(ctx, RunFilter{Status: "completed"})
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, "r1", completed[0].ID)

	_, err = s.List(ctx, RunFilter{Status: "exploded"})
	assert.ErrorIs(t, err, store.ErrInvalidFilter)

	beyond, err := s.List(ctx, RunFilter{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, beyond)
}
