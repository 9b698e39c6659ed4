package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/phrazzld/orchestrator/internal/events"
	"github.com/phrazzld/orchestrator/internal/metrics"
	"github.com/phrazzld/orchestrator/internal/platform/logger"
	"github.com/phrazzld/orchestrator/internal/store"
	"github.com/phrazzld/orchestrator/internal/task"
)

// ReplayNotes is the history note written when a dead-lettered task is
// re-queued.
const ReplayNotes = "replayed from dead-letter queue"

// Receipt acknowledges an accepted submission.
type Receipt struct {
	TaskID     string `json:"task_id"`
	RunID      string `json:"run_id"`
	QueueDepth int    `json:"queue_depth"`
}

// RunDetail is a run together with its member tasks in run order.
type RunDetail struct {
	*task.Run
	Tasks []*task.TrackedTask `json:"tasks"`
}

// TaskService provides dispatch and inspection operations.
type TaskService interface {
	events.EventHandler

	// Submit validates t, ensures its run exists, records and enqueues it.
	// An empty t.RunID creates a new run of runType with runPayload.
	Submit(ctx context.Context, t task.Task, runType task.RunType, runPayload map[string]any) (*Receipt, error)

	GetTask(ctx context.Context, id string) (*task.TrackedTask, error)
	ListTasks(ctx context.Context) ([]*task.TrackedTask, error)
	History(ctx context.Context, id string) ([]task.HistoryEntry, error)
	UpdateMetadata(ctx context.Context, id string, patch map[string]any) (*task.TrackedTask, error)

	GetRun(ctx context.Context, id string) (*RunDetail, error)
	ListRuns(ctx context.Context, filter task.RunFilter) ([]*task.Run, error)

	// DeadLetters lists up to limit dead-lettered tasks, oldest first.
	DeadLetters(ctx context.Context, limit int) ([]task.Task, error)
	// Replay moves up to limit tasks from the dead-letter queue back onto the
	// work queue. A limit <= 0 replays everything.
	Replay(ctx context.Context, limit int) (int, error)
	PurgeDeadLetters(ctx context.Context) (int, error)

	QueueDepth(ctx context.Context) (int, error)
	// RefreshGauges recomputes the queue depth and tracked task gauges.
	RefreshGauges(ctx context.Context) error
}

// Deps are the collaborators of the dispatch service.
type Deps struct {
	Queue   task.Queue
	DLQ     task.Queue
	Tasks   task.TaskStore
	Runs    task.RunStore
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

type taskServiceImpl struct {
	queue   task.Queue
	dlq     task.Queue
	tasks   task.TaskStore
	runs    task.RunStore
	metrics *metrics.Metrics
	logger  *slog.Logger
}

var _ TaskService = (*taskServiceImpl)(nil)

// NewTaskService creates a TaskService.
// It returns an error if any of the required dependencies are nil.
func NewTaskService(deps Deps) (TaskService, error) {
	if deps.Queue == nil || deps.DLQ == nil {
		return nil, errors.New("task service requires a queue and a dead-letter queue")
	}
	if deps.Tasks == nil || deps.Runs == nil {
		return nil, errors.New("task service requires a task store and a run store")
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &taskServiceImpl{
		queue:   deps.Queue,
		dlq:     deps.DLQ,
		tasks:   deps.Tasks,
		runs:    deps.Runs,
		metrics: deps.Metrics,
		logger:  deps.Logger.With("component", "task_service"),
	}, nil
}

func (s *taskServiceImpl) Submit(
	ctx context.Context,
	t task.Task,
	runType task.RunType,
	runPayload map[string]any,
) (*Receipt, error) {
	if err := task.Validate(t); err != nil {
		return nil, err
	}
	if runType == "" {
		runType = task.RunTypeManual
	}
	if !runType.Valid() {
		return nil, fmt.Errorf("%w: unknown run type %q", task.ErrInvalidTask, runType)
	}
	if t.RunID == "" {
		t.RunID = uuid.NewString()
	}

	ctx, log := logger.With(logger.WithContext(ctx, s.logger),
		"task_id", t.ID,
		"role", string(t.Role),
		"run_id", t.RunID)

	if err := s.tasks.Add(ctx, t); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, err
		}
		return nil, NewTaskServiceError("submit", "failed to record task", err)
	}
	if err := s.ensureRun(ctx, t.RunID, runType, runPayload); err != nil {
		return nil, NewTaskServiceError("submit", "failed to prepare run", err)
	}
	if err := s.runs.AppendTask(ctx, t.RunID, t.ID); err != nil {
		return nil, NewTaskServiceError("submit", "failed to append task to run", err)
	}

	if err := s.queue.Enqueue(ctx, t); err != nil {
		log.Error("failed to enqueue task", "error", err)
		notes := fmt.Sprintf("%s: %v", ErrEnqueueFailed, err)
		if _, setErr := s.tasks.SetStatus(ctx, t.ID, task.StatusFailed, map[string]any{"notes": notes}); setErr != nil {
			log.Error("failed to mark unqueued task failed", "error", setErr)
		}
		s.syncRun(ctx, t.RunID)
		return nil, fmt.Errorf("%w: %v", ErrEnqueueFailed, err)
	}
	s.syncRun(ctx, t.RunID)

	depth, err := s.queue.Size(ctx)
	if err != nil {
		log.Warn("failed to read queue depth", "error", err)
	} else {
		s.metrics.SetQueueDepth(depth)
	}

	log.Info("task submitted", "queue_depth", depth, "run_type", string(runType))
	return &Receipt{TaskID: t.ID, RunID: t.RunID, QueueDepth: depth}, nil
}

// ensureRun creates the run unless it already exists. A concurrent creator
// winning the race is not an error.
func (s *taskServiceImpl) ensureRun(ctx context.Context, id string, runType task.RunType, payload map[string]any) error {
	_, err := s.runs.Get(ctx, id)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	err = s.runs.Add(ctx, task.Run{ID: id, Type: runType, Payload: payload})
	if err != nil && !errors.Is(err, store.ErrDuplicate) {
		return err
	}
	return nil
}

func (s *taskServiceImpl) syncRun(ctx context.Context, runID string) {
	if _, err := task.SyncRunStatus(ctx, s.tasks, s.runs, runID); err != nil {
		logger.FromContext(ctx).Error("failed to recompute run status", "error", err)
	}
}

// HandleEvent submits every task of the event under the event's run. A
// failing task does not prevent the others from being submitted; the
// failures come back as an *events.PartialError naming each rejected task.
func (s *taskServiceImpl) HandleEvent(ctx context.Context, event *events.TaskRequestEvent) error {
	if event == nil {
		return errors.New("nil task request event")
	}
	var payload map[string]any
	if err := event.UnmarshalPayload(&payload); err != nil {
		return NewTaskServiceError("handle_event", "invalid run payload", err)
	}

	failed := make(map[string]error)
	for _, t := range event.Tasks {
		t.RunID = event.RunID
		if _, err := s.Submit(ctx, t, event.RunType, payload); err != nil {
			failed[t.ID] = err
		}
	}
	s.logger.Info("handled task request event",
		"event_id", event.ID,
		"source", event.Source,
		"run_id", event.RunID,
		"submitted", len(event.Tasks)-len(failed),
		"failed", len(failed))
	if len(failed) > 0 {
		return &events.PartialError{Failed: failed}
	}
	return nil
}

func (s *taskServiceImpl) GetTask(ctx context.Context, id string) (*task.TrackedTask, error) {
	return s.tasks.Get(ctx, id)
}

func (s *taskServiceImpl) ListTasks(ctx context.Context) ([]*task.TrackedTask, error) {
	return s.tasks.All(ctx)
}

func (s *taskServiceImpl) History(ctx context.Context, id string) ([]task.HistoryEntry, error) {
	return s.tasks.History(ctx, id)
}

func (s *taskServiceImpl) UpdateMetadata(ctx context.Context, id string, patch map[string]any) (*task.TrackedTask, error) {
	if len(patch) == 0 {
		return nil, fmt.Errorf("%w: metadata patch is empty", store.ErrInvalidEntity)
	}
	return s.tasks.UpdateMetadata(ctx, id, patch)
}

func (s *taskServiceImpl) GetRun(ctx context.Context, id string) (*RunDetail, error) {
	run, err := s.runs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	members, err := s.tasks.ListByRunID(ctx, id)
	if err != nil {
		return nil, NewTaskServiceError("get_run", "failed to list run tasks", err)
	}
	byID := make(map[string]*task.TrackedTask, len(members))
	for _, m := range members {
		byID[m.ID] = m
	}
	ordered := make([]*task.TrackedTask, 0, len(run.TaskIDs))
	for _, taskID := range run.TaskIDs {
		if m, ok := byID[taskID]; ok {
			ordered = append(ordered, m)
		}
	}
	return &RunDetail{Run: run, Tasks: ordered}, nil
}

func (s *taskServiceImpl) ListRuns(ctx context.Context, filter task.RunFilter) ([]*task.Run, error) {
	return s.runs.List(ctx, filter)
}

func (s *taskServiceImpl) DeadLetters(ctx context.Context, limit int) ([]task.Task, error) {
	return s.dlq.List(ctx, limit)
}

func (s *taskServiceImpl) Replay(ctx context.Context, limit int) (int, error) {
	replayed := 0
	for limit <= 0 || replayed < limit {
		t, ok, err := s.dlq.Dequeue(ctx)
		if err != nil {
			return replayed, NewTaskServiceError("replay", "failed to read dead-letter queue", err)
		}
		if !ok {
			break
		}
		if err := s.requeue(ctx, t); err != nil {
			if pushErr := s.dlq.Enqueue(ctx, t); pushErr != nil {
				s.logger.Error("failed to return task to dead-letter queue", "task_id", t.ID, "error", pushErr)
			}
			return replayed, NewTaskServiceError("replay", "failed to requeue task "+t.ID, err)
		}
		replayed++
	}
	if replayed > 0 {
		s.logger.Info("replayed dead-lettered tasks", "count", replayed)
		_ = s.RefreshGauges(ctx)
	}
	return replayed, nil
}

func (s *taskServiceImpl) requeue(ctx context.Context, t task.Task) error {
	tt, err := s.tasks.SetStatus(ctx, t.ID, task.StatusQueued, map[string]any{"notes": ReplayNotes})
	if err == nil {
		_, err = s.tasks.UpdateMetadata(ctx, t.ID, map[string]any{
			task.MetadataAttemptsBeforeReplay: tt.Attempts,
		})
	}
	if errors.Is(err, store.ErrNotFound) {
		err = s.tasks.Add(ctx, t)
		if err == nil && t.RunID != "" {
			if runErr := s.ensureRun(ctx, t.RunID, task.RunTypeManual, nil); runErr != nil {
				return runErr
			}
			err = s.runs.AppendTask(ctx, t.RunID, t.ID)
		}
	}
	if err != nil {
		return err
	}
	if err := s.queue.Enqueue(ctx, t); err != nil {
		return err
	}
	s.syncRun(ctx, t.RunID)
	return nil
}

func (s *taskServiceImpl) PurgeDeadLetters(ctx context.Context) (int, error) {
	n, err := s.dlq.Purge(ctx)
	if err != nil {
		return 0, NewTaskServiceError("purge", "failed to purge dead-letter queue", err)
	}
	s.logger.Info("purged dead-letter queue", "count", n)
	return n, nil
}

func (s *taskServiceImpl) QueueDepth(ctx context.Context) (int, error) {
	return s.queue.Size(ctx)
}

func (s *taskServiceImpl) RefreshGauges(ctx context.Context) error {
	depth, err := s.queue.Size(ctx)
	if err != nil {
		return err
	}
	s.metrics.SetQueueDepth(depth)
	all, err := s.tasks.All(ctx)
	if err != nil {
		return err
	}
	s.metrics.SetTrackedTasks(len(all))
	return nil
}
