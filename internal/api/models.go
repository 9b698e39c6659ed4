package api

import "github.com/phrazzld/orchestrator/internal/task"

// SubmitTaskRequest is the body of POST /api/tasks.
type SubmitTaskRequest struct {
	ID          string         `json:"id"          validate:"required,max=200"`
	Role        string         `json:"role"        validate:"required"`
	Description string         `json:"description" validate:"required"`
	Payload     map[string]any `json:"payload,omitempty"`
	RunID       string         `json:"runId,omitempty"`
}

// Task converts the request into a task.
func (r SubmitTaskRequest) Task() task.Task {
	return task.Task{
		ID:          r.ID,
		RunID:       r.RunID,
		Role:        task.Role(r.Role),
		Description: r.Description,
		Payload:     r.Payload,
	}
}

// ReplayRequest is the optional body of POST /api/dlq/replay.
type ReplayRequest struct {
	// Limit bounds how many tasks are replayed. Zero replays everything.
	Limit int `json:"limit" validate:"gte=0"`
}

// CountResponse reports how many items an operation affected.
type CountResponse struct {
	Count int `json:"count"`
}

// TaskListResponse wraps a task listing.
type TaskListResponse struct {
	Tasks []*task.TrackedTask `json:"tasks"`
}

// RunListResponse wraps a run listing.
type RunListResponse struct {
	Runs   []*task.Run `json:"runs"`
	Offset int         `json:"offset"`
	Limit  int         `json:"limit"`
}

// DeadLetterResponse lists dead-lettered tasks.
type DeadLetterResponse struct {
	Tasks []task.Task `json:"tasks"`
}

// HistoryResponse lists the status transitions of a task.
type HistoryResponse struct {
	TaskID  string              `json:"task_id"`
	History []task.HistoryEntry `json:"history"`
}
