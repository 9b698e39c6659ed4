package task

import "context"

// Queue is a FIFO work buffer. Dequeue never blocks: it reports ok=false when
// the queue is empty.
type Queue interface {
	Enqueue(ctx context.Context, t Task) error
	Dequeue(ctx context.Context) (Task, bool, error)
	Size(ctx context.Context) (int, error)
	// List returns up to limit tasks, oldest first, without removing them.
	// A limit <= 0 returns everything.
	List(ctx context.Context, limit int) ([]Task, error)
	// Purge removes every task and returns how many were dropped.
	Purge(ctx context.Context) (int, error)
}

// TaskStore is the per-task status ledger.
type TaskStore interface {
	// Add records a new task as queued. A duplicate id yields store.ErrTaskExists.
	Add(ctx context.Context, t Task) error
	// SetStatus atomically moves a task to status. Attempts increment when
	// status is running or failed, result["telemetry"] is merged additively
	// into the stored telemetry, and a history entry is appended with
	// result["notes"] as its notes.
	SetStatus(ctx context.Context, id string, status Status, result map[string]any) (*TrackedTask, error)
	// UpdateMetadata merges patch into the task's metadata.
	UpdateMetadata(ctx context.Context, id string, patch map[string]any) (*TrackedTask, error)
	Get(ctx context.Context, id string) (*TrackedTask, error)
	All(ctx context.Context) ([]*TrackedTask, error)
	ListByRunID(ctx context.Context, runID string) ([]*TrackedTask, error)
	History(ctx context.Context, id string) ([]HistoryEntry, error)
}

// RunFilter narrows RunStore.List.
type RunFilter struct {
	Offset int
	Limit  int
	// Status is optional. Unknown values yield store.ErrInvalidFilter.
	Status string
}

// DefaultRunListLimit applies when RunFilter.Limit is not positive.
const DefaultRunListLimit = 50

// RunStore holds runs and their ordered member task ids.
type RunStore interface {
	// Add records a run. A duplicate id yields store.ErrRunExists.
	Add(ctx context.Context, r Run) error
	// UpdateStatus sets the status and merges metadataPatch into metadata.
	UpdateStatus(ctx context.Context, id string, status Status, metadataPatch map[string]any) error
	// AppendTask appends taskID to the run's task list unless already present.
	AppendTask(ctx context.Context, id string, taskID string) error
	Get(ctx context.Context, id string) (*Run, error)
	// List returns runs newest first.
	List(ctx context.Context, filter RunFilter) ([]*Run, error)
}
