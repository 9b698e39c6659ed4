package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/orchestrator/internal/events"
	"github.com/phrazzld/orchestrator/internal/task"
)

// GenericConfig configures a Generic scheduler.
type GenericConfig struct {
	Interval    time.Duration
	Roles       []task.Role
	Description string
}

// Generic emits one task per configured role every interval, grouped under a
// single new run.
type Generic struct {
	*loop
	roles       []task.Role
	description string
}

// NewGeneric creates a stopped Generic scheduler.
func NewGeneric(cfg GenericConfig, emitter events.EventEmitter, logger *slog.Logger) (*Generic, error) {
	if emitter == nil {
		return nil, ErrNoEmitter
	}
	if len(cfg.Roles) == 0 {
		return nil, fmt.Errorf("generic scheduler requires at least one role")
	}
	for _, role := range cfg.Roles {
		if !role.Valid() {
			return nil, fmt.Errorf("generic scheduler: unknown role %q", role)
		}
	}
	if cfg.Description == "" {
		cfg.Description = "scheduled run"
	}
	g := &Generic{
		roles:       append([]task.Role(nil), cfg.Roles...),
		description: cfg.Description,
	}
	g.loop = newLoop("generic", cfg.Interval, emitter, logger, g.TickOnce)
	return g, nil
}

// TickOnce emits one task per role and returns how many were emitted.
func (g *Generic) TickOnce(ctx context.Context) (int, error) {
	now := g.now().UTC()
	tasks := make([]task.Task, 0, len(g.roles))
	for _, role := range g.roles {
		tasks = append(tasks, task.Task{
			ID:          fmt.Sprintf("%s-%s", role, uuid.NewString()),
			Role:        role,
			Description: fmt.Sprintf("%s: %s", g.description, role),
		})
	}
	err := g.emit(ctx, tasks, map[string]any{
		"scheduler":   "generic",
		"scheduledAt": now.Format(time.RFC3339),
	})
	if err != nil {
		return 0, err
	}
	return len(tasks), nil
}
