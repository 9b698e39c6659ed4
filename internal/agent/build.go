package agent

import (
	"fmt"
	"log/slog"

	"github.com/phrazzld/orchestrator/internal/llm"
	"github.com/phrazzld/orchestrator/internal/task"
	"github.com/phrazzld/orchestrator/internal/tool"
)

// DefaultModes is the mode each model-driven role runs in unless overridden.
var DefaultModes = map[task.Role]Mode{
	task.RoleResearcher: ModeStructured,
	task.RoleWriter:     ModeText,
	task.RoleDeveloper:  ModeStructured,
	task.RoleReviewer:   ModeStructured,
	task.RoleTriage:     ModeText,
}

// Deps are the collaborators needed to build the standard registry.
type Deps struct {
	// Model may be nil, in which case only the maintenance agent is
	// registered and model-driven roles fail with no_agent.
	Model  llm.Client
	Tools  tool.Config
	Tasks  task.TaskStore
	Runs   task.RunStore
	Logger *slog.Logger

	// Base is applied to every executor; Role and Mode are filled per role.
	Base  ExecutorConfig
	Modes map[task.Role]Mode
}

// BuildRegistry registers an agent for every known role. Roles without tool
// commands get no tool runner.
func BuildRegistry(deps Deps) (*Registry, error) {
	reg := NewRegistry()
	if err := reg.Register(task.RoleMaintenance, NewMaintenance(deps.Tasks, deps.Runs, deps.Logger)); err != nil {
		return nil, err
	}
	if deps.Model == nil {
		deps.Logger.Warn("no model provider configured, model-driven roles are disabled")
		return reg, nil
	}

	for _, role := range task.Roles() {
		if role == task.RoleMaintenance {
			continue
		}
		cfg := deps.Base
		cfg.Role = role
		cfg.Mode = DefaultModes[role]
		if m, ok := deps.Modes[role]; ok {
			cfg.Mode = m
		}

		var tools tool.Executor
		runner, err := tool.ForRole(role, deps.Tools, deps.Logger)
		if err != nil {
			return nil, fmt.Errorf("tool runner for %s: %w", role, err)
		}
		if runner != nil {
			tools = runner
		}

		exec, err := NewExecutor(cfg, deps.Model, tools, deps.Logger)
		if err != nil {
			return nil, fmt.Errorf("agent for %s: %w", role, err)
		}
		if err := reg.Register(role, exec); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
