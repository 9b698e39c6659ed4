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

const runColumns = `id, type, status, task_ids, payload, metadata, version, created_at, updated_at`

// RunStore implements task.RunStore on a SQL database.
type RunStore struct {
	db      store.DBTX
	dialect Dialect
	retries int
	now     func() time.Time
}

var _ task.RunStore = (*RunStore)(nil)

// NewRunStore creates a RunStore. db may be a *sql.DB or a *sql.Tx.
func NewRunStore(db store.DBTX, dialect Dialect) *RunStore {
	return &RunStore{db: db, dialect: dialect, retries: store.DefaultConflictRetries, now: time.Now}
}

// WithTx returns a RunStore that runs its statements inside tx.
func (s *RunStore) WithTx(tx *sql.Tx) *RunStore {
	c := *s
	c.db = tx
	return &c
}

type runRow struct {
	task.Run
	version int64
}

// Add inserts r, defaulting status to queued.
func (s *RunStore) Add(ctx context.Context, r task.Run) error {
	c := r.Clone()
	task.NormalizeNewRun(c, s.now().UTC())

	taskIDs, err := marshalJSON(c.TaskIDs)
	if err != nil {
		return store.NewStoreError("run", "add", "invalid task ids", err)
	}
	payload, err := marshalNullable(c.Payload)
	if err != nil {
		return store.NewStoreError("run", "add", "invalid payload", err)
	}
	metadata, err := marshalJSON(c.Metadata)
	if err != nil {
		return store.NewStoreError("run", "add", "invalid metadata", err)
	}

	query := rebind(s.dialect, `
		INSERT INTO runs (id, type, status, task_ids, payload, metadata, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)
	`)
	_, err = s.db.ExecContext(ctx, query,
		c.ID,
		string(c.Type),
		string(c.Status),
		taskIDs,
		payload,
		metadata,
		formatTime(c.CreatedAt),
		formatTime(c.UpdatedAt),
	)
	if err != nil {
		mapped := MapError(err)
		if errors.Is(mapped, store.ErrDuplicate) {
			return store.ErrRunExists
		}
		logger.FromContext(ctx).Error("failed to insert run", "run_id", c.ID, "error", err)
		return store.NewStoreError("run", "add", "insert failed", mapped)
	}
	return nil
}

// UpdateStatus sets status and merges metadataPatch.
func (s *RunStore) UpdateStatus(ctx context.Context, id string, status task.Status, metadataPatch map[string]any) error {
	return s.mutate(ctx, id, func(r *task.Run) bool {
		r.Status = status
		r.Metadata = task.MergeMetadata(r.Metadata, metadataPatch)
		return true
	})
}

// AppendTask adds taskID to the run once, preserving order.
func (s *RunStore) AppendTask(ctx context.Context, id string, taskID string) error {
	return s.mutate(ctx, id, func(r *task.Run) bool {
		for _, existing := range r.TaskIDs {
			if existing == taskID {
				return false
			}
		}
		r.TaskIDs = append(r.TaskIDs, taskID)
		return true
	})
}

// Get loads one run.
func (s *RunStore) Get(ctx context.Context, id string) (*task.Run, error) {
	row, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return &row.Run, nil
}

// List returns runs newest first.
func (s *RunStore) List(ctx context.Context, filter task.RunFilter) ([]*task.Run, error) {
	offset, limit, status, err := task.NormalizeRunFilter(filter)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + runColumns + ` FROM runs`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, rebind(s.dialect, query), args...)
	if err != nil {
		return nil, store.NewStoreError("run", "list", "query failed", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	out := []*task.Run{}
	for rows.Next() {
		row, err := scanRun(rows)
		if err != nil {
			return nil, store.NewStoreError("run", "list", "scan failed", err)
		}
		out = append(out, &row.Run)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("run", "list", "iteration failed", err)
	}
	return out, nil
}

// mutate applies fn under compare-and-swap. fn returns false to skip the write.
func (s *RunStore) mutate(ctx context.Context, id string, fn func(r *task.Run) bool) error {
	return store.RetryOnConflict(ctx, s.retries, func(ctx context.Context) error {
		row, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if !fn(&row.Run) {
			return nil
		}
		row.UpdatedAt = s.now().UTC()

		taskIDs, err := marshalJSON(row.TaskIDs)
		if err != nil {
			return err
		}
		metadata, err := marshalJSON(nonNilMap(row.Metadata))
		if err != nil {
			return err
		}
		query := rebind(s.dialect, `
			UPDATE runs
			SET status = ?, task_ids = ?, metadata = ?, version = version + 1, updated_at = ?
			WHERE id = ? AND version = ?
		`)
		res, err := s.db.ExecContext(ctx, query,
			string(row.Status),
			taskIDs,
			metadata,
			formatTime(row.UpdatedAt),
			row.ID,
			row.version,
		)
		if err != nil {
			return store.NewStoreError("run", "update", "update failed", MapError(err))
		}
		return checkRowsAffected(res, store.ErrConflict)
	})
}

func (s *RunStore) load(ctx context.Context, id string) (*runRow, error) {
	query := rebind(s.dialect, `SELECT `+runColumns+` FROM runs WHERE id = ?`)
	row, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrRunNotFound
		}
		return nil, store.NewStoreError("run", "get", "query failed", MapError(err))
	}
	return row, nil
}

func scanRun(sc scanner) (*runRow, error) {
	var (
		row                        runRow
		runType, status            string
		taskIDs, payload, metadata sql.NullString
		createdAt, updatedAt       string
	)
	if err := sc.Scan(&row.ID, &runType, &status, &taskIDs, &payload, &metadata,
		&row.version, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	row.Type = task.RunType(runType)
	row.Status = task.Status(status)
	if err := unmarshalJSON(taskIDs, &row.TaskIDs); err != nil {
		return nil, fmt.Errorf("run %s: %w", row.ID, err)
	}
	if err := unmarshalJSON(payload, &row.Payload); err != nil {
		return nil, fmt.Errorf("run %s: %w", row.ID, err)
	}
	if err := unmarshalJSON(metadata, &row.Metadata); err != nil {
		return nil, fmt.Errorf("run %s: %w", row.ID, err)
	}
	if row.TaskIDs == nil {
		row.TaskIDs = []string{}
	}
	if row.Metadata == nil {
		row.Metadata = map[string]any{}
	}

	var err error
	if row.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("run %s: created_at: %w", row.ID, err)
	}
	if row.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("run %s: updated_at: %w", row.ID, err)
	}
	return &row, nil
}
