package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/phrazzld/orchestrator/internal/agent"
	"github.com/phrazzld/orchestrator/internal/metrics"
	"github.com/phrazzld/orchestrator/internal/platform/logger"
	"github.com/phrazzld/orchestrator/internal/store"
	"github.com/phrazzld/orchestrator/internal/task"
)

// Defaults applied when Config leaves a field zero.
const (
	DefaultPollInterval = 500 * time.Millisecond
	DefaultMaxRetries   = 3
	DefaultBackoff      = 2 * time.Second
	DefaultTaskTimeout  = 5 * time.Minute
	DefaultStuckAge     = 30 * time.Minute
	DefaultStuckCheck   = 5 * time.Minute
)

// Config holds the worker's tuning knobs.
type Config struct {
	// PollInterval is the time between ticks
	PollInterval time.Duration

	// MaxRetries is how many times a generic failure is retried before the
	// task is dead-lettered. Zero means DefaultMaxRetries; use a negative
	// value to disable retries.
	MaxRetries int

	// Backoff is the base delay of the exponential retry schedule
	Backoff time.Duration

	// TaskTimeout bounds each agent invocation
	TaskTimeout time.Duration

	// StuckAge is how long a task may stay running before it is reset and
	// re-enqueued. It is raised to twice TaskTimeout when shorter.
	StuckAge time.Duration

	// StuckCheckInterval is how often running tasks are checked against
	// StuckAge while the worker is started
	StuckCheckInterval time.Duration

	// InProcessQueue marks a queue that does not survive a restart, so
	// Recover re-enqueues every task the store lists as queued
	InProcessQueue bool
}

// AgentLookup resolves the agent for a role. *agent.Registry implements it.
type AgentLookup interface {
	Lookup(role task.Role) (agent.Agent, bool)
}

// Deps are the worker's collaborators.
type Deps struct {
	Queue   task.Queue
	DLQ     task.Queue
	Tasks   task.TaskStore
	Runs    task.RunStore
	Agents  AgentLookup
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Worker polls the queue on a fixed interval.
type Worker struct {
	cfg     Config
	queue   task.Queue
	dlq     task.Queue
	tasks   task.TaskStore
	runs    task.RunStore
	agents  AgentLookup
	metrics *metrics.Metrics
	logger  *slog.Logger

	// periodic drives TickOnce between Start and Stop
	periodic *task.Periodic

	// monitor drives ResetStuck between Start and Stop
	monitor *task.Periodic

	now func() time.Time

	// afterFunc schedules delayed re-enqueues; time.AfterFunc outside tests
	afterFunc func(d time.Duration, f func())

	// jitter returns a random duration in [0, max)
	jitter func(max time.Duration) time.Duration

	// pending tracks scheduled re-enqueues that have not fired yet
	pending sync.WaitGroup
}

// New creates a stopped Worker.
func New(cfg Config, deps Deps) (*Worker, error) {
	if deps.Queue == nil || deps.DLQ == nil || deps.Tasks == nil || deps.Runs == nil || deps.Agents == nil {
		return nil, errors.New("worker requires queue, dead-letter queue, task store, run store and agents")
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = DefaultTaskTimeout
	}
	if cfg.StuckAge <= 0 {
		cfg.StuckAge = DefaultStuckAge
	}
	if cfg.StuckAge < 2*cfg.TaskTimeout {
		cfg.StuckAge = 2 * cfg.TaskTimeout
	}
	if cfg.StuckCheckInterval <= 0 {
		cfg.StuckCheckInterval = DefaultStuckCheck
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var rngMu sync.Mutex

	w := &Worker{
		cfg:     cfg,
		queue:   deps.Queue,
		dlq:     deps.DLQ,
		tasks:   deps.Tasks,
		runs:    deps.Runs,
		agents:  deps.Agents,
		metrics: deps.Metrics,
		logger:  deps.Logger.With("component", "worker"),
		now:     time.Now,
		afterFunc: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
		jitter: func(max time.Duration) time.Duration {
			if max <= 0 {
				return 0
			}
			rngMu.Lock()
			defer rngMu.Unlock()
			return time.Duration(rng.Int63n(int64(max)))
		},
	}
	w.periodic = task.NewPeriodic(cfg.PollInterval, func(ctx context.Context) {
		if _, err := w.TickOnce(ctx); err != nil {
			w.logger.Error("worker tick failed", "error", err)
		}
	}, w.logger)
	w.monitor = task.NewPeriodic(cfg.StuckCheckInterval, func(ctx context.Context) {
		if _, err := w.ResetStuck(ctx); err != nil {
			w.logger.Error("stuck task check failed", "error", err)
		}
	}, w.logger)
	return w, nil
}

// Start begins polling. It reports false when already running.
func (w *Worker) Start() bool {
	started := w.periodic.Start()
	if started {
		w.monitor.Start()
		w.logger.Info("worker started",
			"poll_interval", w.cfg.PollInterval,
			"max_retries", w.cfg.MaxRetries)
	}
	return started
}

// Stop halts polling after any in-flight task finishes. Scheduled
// re-enqueues still fire.
func (w *Worker) Stop() bool {
	stopped := w.periodic.Stop()
	if stopped {
		w.monitor.Stop()
		w.logger.Info("worker stopped")
	}
	return stopped
}

// Running reports whether the worker is polling.
func (w *Worker) Running() bool { return w.periodic.Running() }

// WaitPending blocks until every scheduled re-enqueue has fired.
func (w *Worker) WaitPending() { w.pending.Wait() }

// TickOnce processes at most one task. It reports whether a task was
// dequeued. Errors are infrastructure failures; agent failures are handled
// by the retry path and never returned.
func (w *Worker) TickOnce(ctx context.Context) (bool, error) {
	defer w.refreshQueueDepth(ctx)

	t, ok, err := w.queue.Dequeue(ctx)
	if err != nil {
		return false, fmt.Errorf("dequeue: %w", err)
	}
	if !ok {
		return false, nil
	}
	return true, w.process(ctx, t)
}

func (w *Worker) process(ctx context.Context, t task.Task) error {
	tt, err := w.tasks.SetStatus(ctx, t.ID, task.StatusRunning, nil)
	if errors.Is(err, store.ErrNotFound) {
		// Tasks enqueued directly on a shared queue may be unknown to this store.
		if addErr := w.tasks.Add(ctx, t); addErr != nil && !errors.Is(addErr, store.ErrDuplicate) {
			return fmt.Errorf("registering task %s: %w", t.ID, addErr)
		}
		tt, err = w.tasks.SetStatus(ctx, t.ID, task.StatusRunning, nil)
	}
	if err != nil {
		return fmt.Errorf("marking task %s running: %w", t.ID, err)
	}

	ctx, log := logger.With(logger.WithContext(ctx, w.logger),
		"task_id", t.ID,
		"role", t.Role,
		"run_id", t.RunID,
		"attempt", tt.Attempts)
	w.syncRun(ctx, t)
	w.metrics.IncDispatched()
	log.DebugContext(ctx, "task dispatched")

	a, ok := w.agents.Lookup(t.Role)
	if !ok {
		return w.deadLetter(ctx, t, task.CodeNoAgent, fmt.Errorf("%w: no agent registered for role %q", task.ErrNoAgent, t.Role))
	}

	res, err := w.invoke(ctx, a, t)
	if err != nil {
		w.observeTelemetry(task.TelemetryOf(err))
		return w.handleError(ctx, t, budgetAttempts(tt), err)
	}
	return w.complete(ctx, t, res)
}

func (w *Worker) invoke(ctx context.Context, a agent.Agent, t task.Task) (res task.Result, err error) {
	invokeCtx, cancel := context.WithTimeout(ctx, w.cfg.TaskTimeout)
	defer cancel()
	defer func() {
		if p := recover(); p != nil {
			err = task.Fatalf(task.CodeFatal, "agent panicked: %v", p)
		}
	}()
	return a.Invoke(invokeCtx, t)
}

func (w *Worker) complete(ctx context.Context, t task.Task, res task.Result) error {
	log := logger.FromContext(ctx)
	if res.Status != task.StatusFailed {
		res.Status = task.StatusCompleted
	}
	if _, err := w.tasks.SetStatus(ctx, t.ID, res.Status, res.Map()); err != nil {
		return fmt.Errorf("recording result of task %s: %w", t.ID, err)
	}
	w.syncRun(ctx, t)
	w.observeTelemetry(res.Telemetry)

	if res.Status == task.StatusFailed {
		w.metrics.IncFailed()
		log.WarnContext(ctx, "task reported failure", "notes", res.Notes)
		return nil
	}
	w.metrics.IncCompleted()
	log.InfoContext(ctx, "task completed")
	return nil
}

func (w *Worker) handleError(ctx context.Context, t task.Task, attempts int, err error) error {
	log := logger.FromContext(ctx)
	code := task.Code(err)

	if task.IsFatal(err) || errors.Is(err, task.ErrNoAgent) {
		return w.deadLetter(ctx, t, code, err)
	}
	if attempts > w.cfg.MaxRetries {
		return w.deadLetter(ctx, t, task.CodeMaxRetriesExceeded,
			fmt.Errorf("%w after %d attempt(s): %w", task.ErrMaxRetriesExceeded, attempts, err))
	}

	var delay time.Duration
	var notes string
	var rl *task.RateLimitedError
	if errors.As(err, &rl) {
		delay = rl.RetryAfter
		w.metrics.IncRateLimited()
		notes = fmt.Sprintf("retry %d/%d after %s: %v", attempts, w.cfg.MaxRetries, delay, err)
	} else {
		delay = w.backoff(attempts)
		notes = fmt.Sprintf("retry %d/%d: %s: %v", attempts, w.cfg.MaxRetries, code, err)
	}

	if _, serr := w.tasks.SetStatus(ctx, t.ID, task.StatusQueued, failureResult(notes, code, err)); serr != nil {
		return fmt.Errorf("recording retry of task %s: %w", t.ID, serr)
	}
	w.syncRun(ctx, t)
	w.metrics.IncRetried()
	log.WarnContext(ctx, "task failed, retry scheduled",
		"code", code,
		"delay_ms", delay.Milliseconds(),
		"error", err)
	w.schedule(t, delay)
	return nil
}

// backoff returns base*2^(attempts-1) plus jitter in [0, base/2).
func (w *Worker) backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := time.Duration(float64(w.cfg.Backoff) * math.Pow(2, float64(attempts-1)))
	return d + w.jitter(w.cfg.Backoff/2)
}

func (w *Worker) schedule(t task.Task, delay time.Duration) {
	w.pending.Add(1)
	w.afterFunc(delay, func() {
		defer w.pending.Done()
		if err := w.queue.Enqueue(context.Background(), t); err != nil {
			w.logger.Error("failed to re-enqueue task", "task_id", t.ID, "error", err)
		}
	})
}

func (w *Worker) deadLetter(ctx context.Context, t task.Task, code string, cause error) error {
	log := logger.FromContext(ctx)
	notes := cause.Error()
	if code != "" && !strings.HasPrefix(notes, code) {
		notes = code + ": " + notes
	}
	result := failureResult(notes, code, cause)
	result["status"] = string(task.StatusFailed)
	if _, err := w.tasks.SetStatus(ctx, t.ID, task.StatusFailed, result); err != nil {
		return fmt.Errorf("marking task %s failed: %w", t.ID, err)
	}
	w.syncRun(ctx, t)
	if err := w.dlq.Enqueue(ctx, t); err != nil {
		return fmt.Errorf("dead-lettering task %s: %w", t.ID, err)
	}
	w.metrics.IncDeadLettered()
	w.metrics.IncFailed()
	log.ErrorContext(ctx, "task dead-lettered", "code", code, "error", cause)
	return nil
}

// failureResult is the result recorded for a retry or dead-letter. Usage
// attached to err is merged into the task's telemetry.
func failureResult(notes, code string, err error) map[string]any {
	result := map[string]any{
		"notes":      notes,
		"error_code": code,
	}
	if tel := task.TelemetryOf(err); tel != nil {
		result["telemetry"] = tel
	}
	return result
}

// budgetAttempts is the attempt count the retry budget is charged with. A
// replayed task starts a fresh budget; the attempts it used before being
// dead-lettered are kept in its metadata.
func budgetAttempts(tt *task.TrackedTask) int {
	return tt.Attempts - toInt(tt.Metadata[task.MetadataAttemptsBeforeReplay])
}

// syncRun re-derives the parent run's status. Failures are logged, not
// returned: the derivation can be repaired later by the maintenance agent.
func (w *Worker) syncRun(ctx context.Context, t task.Task) {
	if t.RunID == "" {
		return
	}
	if _, err := task.SyncRunStatus(ctx, w.tasks, w.runs, t.RunID); err != nil {
		logger.FromContext(ctx).ErrorContext(ctx, "failed to sync run status", "error", err)
	}
}

func (w *Worker) refreshQueueDepth(ctx context.Context) {
	if n, err := w.queue.Size(ctx); err == nil {
		w.metrics.SetQueueDepth(n)
	}
}

func (w *Worker) observeTelemetry(tel map[string]any) {
	if len(tel) == 0 {
		return
	}
	w.metrics.ObserveModel(
		toInt(tel["model_calls"]),
		time.Duration(toInt(tel["latency_ms"]))*time.Millisecond,
		toInt(tel["prompt_tokens"]),
		toInt(tel["completion_tokens"]),
		toInt(tel["total_tokens"]),
	)
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
