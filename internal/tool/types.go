package tool

import (
	"context"
	"time"

	"github.com/phrazzld/orchestrator/internal/task"
)

// Call is one command a model asked to run.
type Call struct {
	Command   string   `json:"command"`
	Args      []string `json:"args,omitempty"`
	Cwd       string   `json:"cwd,omitempty"`
	TimeoutMS int      `json:"timeout_ms,omitempty"`
}

// Result describes what happened to a Call. Killed is set when the timeout
// cut the process off; Error is set when the command could not run or exited
// non-zero for any other reason.
type Result struct {
	Command    string        `json:"command"`
	Success    bool          `json:"success"`
	ExitCode   int           `json:"exit_code"`
	Stdout     string        `json:"stdout,omitempty"`
	Stderr     string        `json:"stderr,omitempty"`
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"duration_ms"`
	Killed     bool          `json:"killed,omitempty"`
	Error      string        `json:"error,omitempty"`
	Code       string        `json:"code,omitempty"`
	Truncated  bool          `json:"truncated,omitempty"`
}

// Rejected reports whether the sandbox refused the call without running it.
func (r Result) Rejected() bool {
	return r.Code == task.CodeCommandNotAllowed || r.Code == task.CodeCwdNotAllowed
}

// Definition advertises a tool to the model.
type Definition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Executor is what agents depend on. *Runner implements it.
type Executor interface {
	Run(ctx context.Context, call Call) Result
	ListTools() []Definition
}
