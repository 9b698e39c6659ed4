package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/orchestrator/internal/task"
)

// TaskRequestEvent asks for one or more tasks to be created under a run.
type TaskRequestEvent struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	// Source names the producer, e.g. "scheduler", "webhook:push" or "api"
	Source string `json:"source"`

	// RunType is the type of the run that groups the tasks
	RunType task.RunType `json:"run_type"`

	// RunID is the run the tasks join. The handler creates it when missing.
	RunID string `json:"run_id"`

	// Tasks are the work items to dispatch. Their RunID is overwritten with
	// the event's RunID.
	Tasks []task.Task `json:"tasks"`

	// Payload is stored on the run when the handler creates it
	Payload json.RawMessage `json:"payload,omitempty"`

	// CreatedAt is the timestamp when the event was created
	CreatedAt time.Time `json:"created_at"`
}

// UnmarshalPayload decodes the run payload into the provided structure.
func (e *TaskRequestEvent) UnmarshalPayload(v interface{}) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}

// NewTaskRequestEvent creates an event for tasks under a fresh run id.
func NewTaskRequestEvent(source string, runType task.RunType, tasks []task.Task, payload interface{}) (*TaskRequestEvent, error) {
	if len(tasks) == 0 {
		return nil, errors.New("task request event needs at least one task")
	}
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return &TaskRequestEvent{
		ID:        uuid.New(),
		Source:    source,
		RunType:   runType,
		RunID:     uuid.NewString(),
		Tasks:     tasks,
		Payload:   raw,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// EventHandler defines an interface for components that can handle events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event *TaskRequestEvent) error
}

// EventEmitter defines an interface for components that can emit events.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	EmitEvent(ctx context.Context, event *TaskRequestEvent) error
}

// PartialError is returned by a handler that accepted some of an event's
// tasks but not others. Tasks absent from Failed were accepted.
type PartialError struct {
	// Failed maps task id to the reason it was not accepted
	Failed map[string]error
}

// Error lists the failed tasks in id order.
func (e *PartialError) Error() string {
	ids := make([]string, 0, len(e.Failed))
	for id := range e.Failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("task %s: %v", id, e.Failed[id])
	}
	return fmt.Sprintf("%d task(s) not accepted: %s", len(ids), strings.Join(parts, "; "))
}

// Unwrap exposes the per-task causes to errors.Is and errors.As.
func (e *PartialError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, err := range e.Failed {
		errs = append(errs, err)
	}
	return errs
}

// Accepted reports whether the task with id was accepted.
func (e *PartialError) Accepted(id string) bool {
	_, failed := e.Failed[id]
	return !failed
}
