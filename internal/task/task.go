package task

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state shared by tasks and runs.
type Status string

// Possible status values
const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s is completed or failed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ParseStatus validates a status received from outside the process.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", ErrUnknownStatus
	}
	return s, nil
}

// Role routes a task to the agent that handles it.
type Role string

// Known roles
const (
	RoleResearcher  Role = "researcher"
	RoleWriter      Role = "writer"
	RoleDeveloper   Role = "developer"
	RoleReviewer    Role = "reviewer"
	RoleTriage      Role = "triage"
	RoleMaintenance Role = "maintenance"
)

// Roles lists every known role in a stable order.
func Roles() []Role {
	return []Role{RoleResearcher, RoleWriter, RoleDeveloper, RoleReviewer, RoleTriage, RoleMaintenance}
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	for _, known := range Roles() {
		if r == known {
			return true
		}
	}
	return false
}

// RunType records which producer created a run.
type RunType string

// Run types
const (
	RunTypeManual   RunType = "manual"
	RunTypeSchedule RunType = "schedule"
	RunTypeGitHub   RunType = "github"
)

// Valid reports whether t is a known run type.
func (t RunType) Valid() bool {
	return t == RunTypeManual || t == RunTypeSchedule || t == RunTypeGitHub
}

// Task is one unit of dispatchable work. It is immutable once enqueued.
type Task struct {
	ID          string         `json:"id"`
	RunID       string         `json:"run_id,omitempty"`
	Role        Role           `json:"role"`
	Description string         `json:"description"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// HistoryEntry records one status transition.
type HistoryEntry struct {
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Notes     string    `json:"notes,omitempty"`
}

// MetadataAttemptsBeforeReplay records, on a replayed task, the attempts it
// had used when it was dead-lettered. The retry budget counts from there.
const MetadataAttemptsBeforeReplay = "attempts_before_replay"

// TrackedTask is a Task plus its execution state as held by a TaskStore.
type TrackedTask struct {
	Task
	Status    Status         `json:"status"`
	Attempts  int            `json:"attempts"`
	Result    map[string]any `json:"result,omitempty"`
	Telemetry map[string]any `json:"telemetry,omitempty"`
	Metadata  map[string]any `json:"metadata"`
	History   []HistoryEntry `json:"history"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Clone returns a deep copy so callers cannot mutate store-owned state.
func (t *TrackedTask) Clone() *TrackedTask {
	if t == nil {
		return nil
	}
	c := *t
	c.Payload = cloneMap(t.Payload)
	c.Result = cloneMap(t.Result)
	c.Telemetry = cloneMap(t.Telemetry)
	c.Metadata = cloneMap(t.Metadata)
	c.History = append([]HistoryEntry(nil), t.History...)
	return &c
}

// Run groups tasks whose aggregate status is derived from their members.
type Run struct {
	ID        string         `json:"id"`
	Type      RunType        `json:"type"`
	Status    Status         `json:"status"`
	TaskIDs   []string       `json:"task_ids"`
	Payload   map[string]any `json:"payload,omitempty"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Clone returns a deep copy of the run.
func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	c := *r
	c.TaskIDs = append([]string(nil), r.TaskIDs...)
	c.Payload = cloneMap(r.Payload)
	c.Metadata = cloneMap(r.Metadata)
	return &c
}

// Result is what an agent reports back for a task.
type Result struct {
	Status    Status
	Notes     string
	Output    map[string]any
	Telemetry map[string]any
}

// Map renders the result in the opaque form persisted by task stores. The
// "notes" and "telemetry" keys are interpreted by SetStatus.
func (r Result) Map() map[string]any {
	m := map[string]any{"status": string(r.Status)}
	if r.Notes != "" {
		m["notes"] = r.Notes
	}
	if len(r.Output) > 0 {
		m["output"] = r.Output
	}
	if len(r.Telemetry) > 0 {
		m["telemetry"] = r.Telemetry
	}
	return m
}

// cloneMap deep-copies JSON-shaped maps. Values that do not survive a JSON
// round trip are copied shallowly.
func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	raw, err := json.Marshal(m)
	if err == nil {
		var out map[string]any
		if json.Unmarshal(raw, &out) == nil {
			return out
		}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
