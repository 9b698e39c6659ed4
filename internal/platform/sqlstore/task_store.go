package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/phrazzld/orchestrator/internal/platform/logger"
	"github.com/phrazzld/orchestrator/internal/store"
	"github.com/phrazzld/orchestrator/internal/task"
)

const taskColumns = `id, run_id, role, description, payload, status, attempts, result, telemetry,
		metadata, history, version, created_at, updated_at`

// TaskStore implements task.TaskStore on a SQL database.
type TaskStore struct {
	db      store.DBTX
	dialect Dialect
	retries int
	now     func() time.Time
}

var _ task.TaskStore = (*TaskStore)(nil)

// NewTaskStore creates a TaskStore. db may be a *sql.DB or a *sql.Tx.
func NewTaskStore(db store.DBTX, dialect Dialect) *TaskStore {
	return &TaskStore{db: db, dialect: dialect, retries: store.DefaultConflictRetries, now: time.Now}
}

// WithTx returns a TaskStore that runs its statements inside tx.
func (s *TaskStore) WithTx(tx *sql.Tx) *TaskStore {
	c := *s
	c.db = tx
	return &c
}

// taskRow is a task plus the optimistic-lock version it was read at.
type taskRow struct {
	task.TrackedTask
	version int64
}

// Add inserts t as queued.
func (s *TaskStore) Add(ctx context.Context, t task.Task) error {
	log := logger.FromContext(ctx)
	now := s.now().UTC()

	payload := t.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	payloadJSON, err := marshalJSON(payload)
	if err != nil {
		return store.NewStoreError("task", "add", "invalid payload", err)
	}
	historyJSON, err := marshalJSON([]task.HistoryEntry{{Status: task.StatusQueued, Timestamp: now}})
	if err != nil {
		return store.NewStoreError("task", "add", "invalid history", err)
	}

	query := rebind(s.dialect, `
		INSERT INTO tasks (id, run_id, role, description, payload, status, attempts,
			metadata, history, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, '{}', ?, 0, ?, ?)
	`)
	_, err = s.db.ExecContext(ctx, query,
		t.ID,
		sql.NullString{String: t.RunID, Valid: t.RunID != ""},
		string(t.Role),
		t.Description,
		payloadJSON,
		string(task.StatusQueued),
		historyJSON,
		formatTime(now),
		formatTime(now),
	)
	if err != nil {
		mapped := MapError(err)
		if errors.Is(mapped, store.ErrDuplicate) {
			return store.ErrTaskExists
		}
		log.Error("failed to insert task", "task_id", t.ID, "error", err)
		return store.NewStoreError("task", "add", "insert failed", mapped)
	}
	return nil
}

// SetStatus applies the transition with a compare-and-swap on version.
func (s *TaskStore) SetStatus(
	ctx context.Context,
	id string,
	status task.Status,
	result map[string]any,
) (*task.TrackedTask, error) {
	var updated *task.TrackedTask
	err := store.RetryOnConflict(ctx, s.retries, func(ctx context.Context) error {
		row, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		task.ApplyStatus(&row.TrackedTask, status, result, s.now().UTC())
		if err := s.compareAndSwap(ctx, row); err != nil {
			return err
		}
		updated = &row.TrackedTask
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// UpdateMetadata merges patch into the stored metadata.
func (s *TaskStore) UpdateMetadata(ctx context.Context, id string, patch map[string]any) (*task.TrackedTask, error) {
	var updated *task.TrackedTask
	err := store.RetryOnConflict(ctx, s.retries, func(ctx context.Context) error {
		row, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		row.Metadata = task.MergeMetadata(row.Metadata, patch)
		row.UpdatedAt = s.now().UTC()
		if err := s.compareAndSwap(ctx, row); err != nil {
			return err
		}
		updated = &row.TrackedTask
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Get loads one task.
func (s *TaskStore) Get(ctx context.Context, id string) (*task.TrackedTask, error) {
	row, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return &row.TrackedTask, nil
}

// All returns every task, oldest first.
func (s *TaskStore) All(ctx context.Context) ([]*task.TrackedTask, error) {
	return s.list(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at ASC, id ASC`)
}

// ListByRunID returns the run's tasks, oldest first.
func (s *TaskStore) ListByRunID(ctx context.Context, runID string) ([]*task.TrackedTask, error) {
	return s.list(ctx, `SELECT `+taskColumns+` FROM tasks WHERE run_id = ? ORDER BY created_at ASC, id ASC`, runID)
}

// History returns the task's status history.
func (s *TaskStore) History(ctx context.Context, id string) ([]task.HistoryEntry, error) {
	row, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return row.History, nil
}

func (s *TaskStore) load(ctx context.Context, id string) (*taskRow, error) {
	query := rebind(s.dialect, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`)
	row, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTaskNotFound
		}
		logger.FromContext(ctx).Error("failed to load task", "task_id", id, "error", err)
		return nil, store.NewStoreError("task", "get", "query failed", MapError(err))
	}
	return row, nil
}

func (s *TaskStore) list(ctx context.Context, query string, args ...any) ([]*task.TrackedTask, error) {
	rows, err := s.db.QueryContext(ctx, rebind(s.dialect, query), args...)
	if err != nil {
		return nil, store.NewStoreError("task", "list", "query failed", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var out []*task.TrackedTask
	for rows.Next() {
		row, err := scanTask(rows)
		if err != nil {
			return nil, store.NewStoreError("task", "list", "scan failed", err)
		}
		out = append(out, &row.TrackedTask)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("task", "list", "iteration failed", err)
	}
	return out, nil
}

// compareAndSwap writes row back iff nobody bumped the version since load.
func (s *TaskStore) compareAndSwap(ctx context.Context, row *taskRow) error {
	resultJSON, err := marshalNullable(row.Result)
	if err != nil {
		return err
	}
	telemetryJSON, err := marshalNullable(row.Telemetry)
	if err != nil {
		return err
	}
	metadataJSON, err := marshalJSON(nonNilMap(row.Metadata))
	if err != nil {
		return err
	}
	historyJSON, err := marshalJSON(row.History)
	if err != nil {
		return err
	}

	query := rebind(s.dialect, `
		UPDATE tasks
		SET status = ?, attempts = ?, result = ?, telemetry = ?, metadata = ?, history = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`)
	res, err := s.db.ExecContext(ctx, query,
		string(row.Status),
		row.Attempts,
		resultJSON,
		telemetryJSON,
		metadataJSON,
		historyJSON,
		formatTime(row.UpdatedAt),
		row.ID,
		row.version,
	)
	if err != nil {
		return store.NewStoreError("task", "update", "update failed", MapError(err))
	}
	if err := checkRowsAffected(res, store.ErrConflict); err != nil {
		return err
	}
	row.version++
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(sc scanner) (*taskRow, error) {
	var (
		row                        taskRow
		runID, result, telemetry   sql.NullString
		payload, metadata, history sql.NullString
		role, status               string
		createdAt, updatedAt       string
	)
	if err := sc.Scan(
		&row.ID, &runID, &role, &row.Description, &payload, &status, &row.Attempts,
		&result, &telemetry, &metadata, &history, &row.version, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	row.RunID = runID.String
	row.Role = task.Role(role)
	row.Status = task.Status(status)

	for _, col := range []struct {
		raw  sql.NullString
		into any
	}{
		{payload, &row.Payload},
		{result, &row.Result},
		{telemetry, &row.Telemetry},
		{metadata, &row.Metadata},
		{history, &row.History},
	} {
		if err := unmarshalJSON(col.raw, col.into); err != nil {
			return nil, fmt.Errorf("task %s: %w", row.ID, err)
		}
	}
	if row.Metadata == nil {
		row.Metadata = map[string]any{}
	}

	var err error
	if row.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("task %s: created_at: %w", row.ID, err)
	}
	if row.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("task %s: updated_at: %w", row.ID, err)
	}
	return &row, nil
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
