package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/phrazzld/orchestrator/internal/llm"
	"github.com/phrazzld/orchestrator/internal/task"
	"github.com/phrazzld/orchestrator/internal/tool"
)

// Mode selects how an Executor talks to the model.
type Mode string

const (
	// ModeText makes one call and returns the reply as notes.
	ModeText Mode = "text"
	// ModeStructured runs the tool loop and expects a structured final reply.
	ModeStructured Mode = "structured"
)

// ErrorMode selects how invocation errors are reported.
type ErrorMode string

const (
	// ErrorModeError returns errors to the caller.
	ErrorModeError ErrorMode = "error"
	// ErrorModeResult converts errors into a failed result.
	ErrorModeResult ErrorMode = "result"
)

// Defaults for ExecutorConfig
const (
	DefaultMaxToolIterations = 4
	DefaultDisplayBudget     = 4000
)

// ExecutorConfig configures one model-driven agent.
type ExecutorConfig struct {
	Role              task.Role
	Mode              Mode
	Provider          string
	Model             string
	Temperature       *float32
	MaxTokens         int
	MaxToolIterations int
	// DisplayBudget caps the characters of model text copied into notes.
	DisplayBudget int
	ErrorMode     ErrorMode
}

// Executor is the Agent for model-driven roles.
type Executor struct {
	cfg    ExecutorConfig
	model  llm.Client
	tools  tool.Executor
	logger *slog.Logger
	now    func() time.Time
}

var _ Agent = (*Executor)(nil)

// NewExecutor creates an Executor. tools may be nil for text-only roles; a
// structured role without tools must answer directly.
func NewExecutor(cfg ExecutorConfig, model llm.Client, tools tool.Executor, logger *slog.Logger) (*Executor, error) {
	if model == nil {
		return nil, fmt.Errorf("%w: model client cannot be nil", llm.ErrInvalidConfig)
	}
	if !cfg.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", task.ErrInvalidTask, cfg.Role)
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeText
	}
	if cfg.Mode != ModeText && cfg.Mode != ModeStructured {
		return nil, fmt.Errorf("%w: unknown agent mode %q", llm.ErrInvalidConfig, cfg.Mode)
	}
	if cfg.MaxToolIterations <= 0 {
		cfg.MaxToolIterations = DefaultMaxToolIterations
	}
	if cfg.DisplayBudget <= 0 {
		cfg.DisplayBudget = DefaultDisplayBudget
	}
	if cfg.ErrorMode == "" {
		cfg.ErrorMode = ErrorModeError
	}
	return &Executor{
		cfg:    cfg,
		model:  model,
		tools:  tools,
		logger: logger.With("component", "agent", "role", cfg.Role, "mode", cfg.Mode),
		now:    time.Now,
	}, nil
}

// usage accumulates model telemetry across iterations.
type usage struct {
	calls     int
	toolCalls int
	tokens    llm.Usage
	latency   time.Duration
}

func (u *usage) add(r *llm.Response) {
	u.calls++
	u.tokens = u.tokens.Add(r.Usage)
	u.latency += r.Latency
}

func (u *usage) telemetry() map[string]any {
	return map[string]any{
		"model_calls":       u.calls,
		"tool_calls":        u.toolCalls,
		"prompt_tokens":     u.tokens.PromptTokens,
		"completion_tokens": u.tokens.CompletionTokens,
		"total_tokens":      u.tokens.TotalTokens,
		"latency_ms":        u.latency.Milliseconds(),
	}
}

// Invoke runs the task against the model.
func (e *Executor) Invoke(ctx context.Context, t task.Task) (task.Result, error) {
	u := &usage{}
	var (
		res task.Result
		err error
	)
	payload, perr := task.ParsePayload(t)
	switch {
	case perr != nil:
		err = task.Fatal(perr)
	case e.cfg.Mode == ModeStructured:
		res, err = e.structured(ctx, t, payload, u)
	default:
		res, err = e.text(ctx, t, payload, u)
	}
	if err == nil {
		return res, nil
	}

	e.logger.WarnContext(ctx, "agent invocation failed",
		"task_id", t.ID,
		"code", task.Code(err),
		"error", err)
	if e.cfg.ErrorMode == ErrorModeResult {
		return task.Result{
			Status:    task.StatusFailed,
			Notes:     fmt.Sprintf("%s: %v", task.Code(err), err),
			Output:    map[string]any{"error_code": task.Code(err)},
			Telemetry: u.telemetry(),
		}, nil
	}
	if u.calls > 0 {
		err = task.WithTelemetry(err, u.telemetry())
	}
	return task.Result{}, err
}

func (e *Executor) text(ctx context.Context, t task.Task, p task.Payload, u *usage) (task.Result, error) {
	system, err := renderSystem(systemData{Role: t.Role})
	if err != nil {
		return task.Result{}, task.Fatal(err)
	}
	prompt, err := renderTask(t, p)
	if err != nil {
		return task.Result{}, task.Fatal(err)
	}

	resp, err := e.complete(ctx, system, []llm.Message{{Role: llm.RoleUser, Content: prompt}}, u)
	if err != nil {
		return task.Result{}, err
	}
	return task.Result{
		Status:    task.StatusCompleted,
		Notes:     truncate(resp.Text, e.cfg.DisplayBudget),
		Output:    map[string]any{"text": resp.Text},
		Telemetry: u.telemetry(),
	}, nil
}

func (e *Executor) structured(ctx context.Context, t task.Task, p task.Payload, u *usage) (task.Result, error) {
	sd := systemData{Role: t.Role, Structured: true, MaxToolIterations: e.cfg.MaxToolIterations}
	if e.tools != nil {
		sd.Tools = e.tools.ListTools()
	}
	system, err := renderSystem(sd)
	if err != nil {
		return task.Result{}, task.Fatal(err)
	}
	prompt, err := renderTask(t, p)
	if err != nil {
		return task.Result{}, task.Fatal(err)
	}

	messages := []llm.Message{{Role: llm.RoleUser, Content: prompt}}
	var toolResults []tool.Result
	for iteration := 0; ; iteration++ {
		resp, err := e.complete(ctx, system, messages, u)
		if err != nil {
			return task.Result{}, err
		}

		calls, requested := ParseToolCalls(resp.Text)
		if !requested {
			final, err := ParseStructured(resp.Text)
			if err != nil {
				return task.Result{}, task.Fatal(err)
			}
			out := final.Map()
			out["tool_results"] = toolResults
			return task.Result{
				Status:    task.StatusCompleted,
				Notes:     truncate(final.DeliverableSummary, e.cfg.DisplayBudget),
				Output:    out,
				Telemetry: u.telemetry(),
			}, nil
		}

		if e.tools == nil || iteration >= e.cfg.MaxToolIterations {
			return task.Result{}, task.Fatalf(task.CodeToolCallLimit,
				"%s: model still requested %d tool call(s) after %d iteration(s)",
				task.CodeToolCallLimit, len(calls), iteration)
		}

		results := make([]tool.Result, 0, len(calls))
		for _, call := range calls {
			r := e.tools.Run(ctx, call)
			u.toolCalls++
			e.logger.DebugContext(ctx, "tool call finished",
				"task_id", t.ID,
				"command", call.Command,
				"success", r.Success,
				"code", r.Code)
			results = append(results, r)
		}
		toolResults = append(toolResults, results...)

		observation, err := json.Marshal(map[string]any{"tool_results": results})
		if err != nil {
			return task.Result{}, task.Fatal(err)
		}
		messages = append(messages,
			llm.Message{Role: llm.RoleAssistant, Content: resp.Text},
			llm.Message{Role: llm.RoleUser, Content: string(observation)})
	}
}

func (e *Executor) complete(ctx context.Context, system string, messages []llm.Message, u *usage) (*llm.Response, error) {
	start := e.now()
	resp, err := e.model.Complete(ctx, llm.Request{
		Provider:    e.cfg.Provider,
		Model:       e.cfg.Model,
		System:      system,
		Messages:    messages,
		Temperature: e.cfg.Temperature,
		MaxTokens:   e.cfg.MaxTokens,
	})
	if err != nil {
		if errors.Is(err, llm.ErrInvalidConfig) || errors.Is(err, llm.ErrUnknownProvider) ||
			errors.Is(err, llm.ErrContentBlocked) {
			return nil, task.Fatal(err)
		}
		return nil, llm.TransportError(err)
	}
	if resp.Latency == 0 {
		resp.Latency = e.now().Sub(start)
	}
	u.add(resp)
	return resp, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8Start(s[cut]) {
		cut--
	}
	return strings.TrimSpace(s[:cut]) + "…"
}

func utf8Start(b byte) bool { return b&0xC0 != 0x80 }
