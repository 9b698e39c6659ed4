package agent

import (
	"context"
	"fmt"
	"sort"

	"github.com/phrazzld/orchestrator/internal/task"
)

// Agent executes one task and reports its result. Errors are classified with
// the task error taxonomy; the worker decides whether to retry.
type Agent interface {
	Invoke(ctx context.Context, t task.Task) (task.Result, error)
}

// Func adapts a function to Agent.
type Func func(ctx context.Context, t task.Task) (task.Result, error)

// Invoke implements Agent.
func (f Func) Invoke(ctx context.Context, t task.Task) (task.Result, error) { return f(ctx, t) }

// Registry maps each role to its agent. It is built once at startup and is
// read-only afterwards.
type Registry struct {
	agents map[task.Role]Agent
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[task.Role]Agent)}
}

// Register binds a to role, replacing any previous binding.
func (r *Registry) Register(role task.Role, a Agent) error {
	if !role.Valid() {
		return fmt.Errorf("%w: unknown role %q", task.ErrInvalidTask, role)
	}
	if a == nil {
		return fmt.Errorf("agent for role %s cannot be nil", role)
	}
	r.agents[role] = a
	return nil
}

// Lookup returns the agent for role.
func (r *Registry) Lookup(role task.Role) (Agent, bool) {
	a, ok := r.agents[role]
	return a, ok
}

// Roles lists the roles that have an agent.
func (r *Registry) Roles() []task.Role {
	roles := make([]task.Role, 0, len(r.agents))
	for role := range r.agents {
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}
