package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/phrazzld/orchestrator/internal/events"
	"github.com/phrazzld/orchestrator/internal/task"
)

// Frequency is how often a recurring entity becomes due.
type Frequency string

// Frequencies
const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// Window returns the minimum time between two runs. Unknown frequencies
// report ok=false and are never due.
func (f Frequency) Window() (time.Duration, bool) {
	switch f {
	case FrequencyDaily:
		return 24 * time.Hour, true
	case FrequencyWeekly:
		return 7 * 24 * time.Hour, true
	case FrequencyMonthly:
		return 30 * 24 * time.Hour, true
	}
	return 0, false
}

// Entity is one subscription, e.g. a saved job search for a subscriber.
type Entity struct {
	ID          string         `yaml:"id"`
	Role        task.Role      `yaml:"role"`
	Frequency   Frequency      `yaml:"frequency"`
	Description string         `yaml:"description"`
	Payload     map[string]any `yaml:"payload,omitempty"`
}

func (e Entity) task(now time.Time) task.Task {
	desc := e.Description
	if desc == "" {
		desc = fmt.Sprintf("recurring %s for %s", e.Role, e.ID)
	}
	return task.Task{
		ID:          fmt.Sprintf("%s-%s", e.ID, uuid.NewString()),
		Role:        e.Role,
		Description: desc,
		Payload:     e.Payload,
	}
}

type entityFile struct {
	Entities []Entity `yaml:"entities"`
}

// LoadEntities reads a YAML subscription file of the form
//
//	entities:
//	  - id: alice-search
//	    role: researcher
//	    frequency: daily
//	    payload: {query: "platform engineer"}
func LoadEntities(path string) ([]Entity, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading entities file: %w", err)
	}
	var file entityFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parsing entities file %s: %w", path, err)
	}
	return file.Entities, nil
}

// Recurring emits tasks for entities whose frequency window has elapsed
// since their last run.
type Recurring struct {
	*loop
	entities []Entity

	mu      sync.Mutex
	lastRun map[string]time.Time
}

// NewRecurring creates a stopped Recurring scheduler. Entities are checked up
// front: ids must be unique and the task each one would produce must be valid.
// An unknown frequency is accepted and never becomes due.
func NewRecurring(interval time.Duration, entities []Entity, emitter events.EventEmitter, logger *slog.Logger) (*Recurring, error) {
	if emitter == nil {
		return nil, ErrNoEmitter
	}
	seen := make(map[string]bool, len(entities))
	for _, e := range entities {
		if e.ID == "" {
			return nil, fmt.Errorf("recurring entity without id")
		}
		if seen[e.ID] {
			return nil, fmt.Errorf("duplicate recurring entity %q", e.ID)
		}
		seen[e.ID] = true
		if err := task.Validate(e.task(time.Now())); err != nil {
			return nil, fmt.Errorf("recurring entity %q: %w", e.ID, err)
		}
	}
	r := &Recurring{
		entities: append([]Entity(nil), entities...),
		lastRun:  make(map[string]time.Time, len(entities)),
	}
	r.loop = newLoop("recurring", interval, emitter, logger, r.TickOnce)
	return r, nil
}

// TickOnce emits one task per due entity. No run is created when nothing is
// due. Last-run times advance only for entities whose task was accepted, so a
// partially failed emit retries just the rejected entities on the next tick.
func (r *Recurring) TickOnce(ctx context.Context) (int, error) {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	var due []string
	var tasks []task.Task
	for _, e := range r.entities {
		if !r.isDue(e, now) {
			continue
		}
		due = append(due, e.ID)
		tasks = append(tasks, e.task(now))
	}
	if len(tasks) == 0 {
		r.logger.Debug("no recurring entities due")
		return 0, nil
	}

	err := r.emit(ctx, tasks, map[string]any{
		"scheduler":   "recurring",
		"entities":    due,
		"scheduledAt": now.UTC().Format(time.RFC3339),
	})
	accepted := acceptedTasks(tasks, err)
	for i, id := range due {
		if accepted[i] {
			r.lastRun[id] = now
		}
	}
	return countTrue(accepted), err
}

func (r *Recurring) isDue(e Entity, now time.Time) bool {
	window, ok := e.Frequency.Window()
	if !ok {
		return false
	}
	last, ran := r.lastRun[e.ID]
	return !ran || now.Sub(last) >= window
}

// LastRun reports when the entity last had a task emitted.
func (r *Recurring) LastRun(id string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.lastRun[id]
	return t, ok
}
