package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/orchestrator/internal/platform/logger"
	"github.com/phrazzld/orchestrator/internal/store"
	"github.com/phrazzld/orchestrator/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backend is one database the shared store tests run against.
type backend struct {
	name    string
	db      *sql.DB
	dialect Dialect
}

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()
	db, err := Open(ctx, DialectSQLite, ":memory:", PoolConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, Migrate(ctx, db, DialectSQLite, "up", logger.Discard()))
	return db
}

// backends returns SQLite always and PostgreSQL when DATABASE_URL is set.
func backends(t *testing.T) []backend {
	t.Helper()
	out := []backend{{name: "sqlite", db: openSQLite(t), dialect: DialectSQLite}}

	if url := os.Getenv("DATABASE_URL"); url != "" {
		ctx := context.Background()
		db, err := Open(ctx, DialectPostgres, url, PoolConfig{MaxOpenConns: 10})
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })
		require.NoError(t, Migrate(ctx, db, DialectPostgres, "up", logger.Discard()))
		out = append(out, backend{name: "postgres", db: db, dialect: DialectPostgres})
	}
	return out
}

// uid keeps ids unique across runs against a shared PostgreSQL database.
func uid(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}

func TestRebind(t *testing.T) {
	t.Parallel()
	q := "UPDATE t SET a = ?, b = ? WHERE id = ?"
	assert.Equal(t, q, rebind(DialectSQLite, q))
	assert.Equal(t, "UPDATE t SET a = $1, b = $2 WHERE id = $3", rebind(DialectPostgres, q))
}

func TestParseDialect(t *testing.T) {
	t.Parallel()
	d, err := ParseDialect("PostgreSQL")
	require.NoError(t, err)
	assert.Equal(t, DialectPostgres, d)
	d, err = ParseDialect("sqlite3")
	require.NoError(t, err)
	assert.Equal(t, DialectSQLite, d)
	_, err = ParseDialect("oracle")
	assert.Error(t, err)
}

func TestTaskStoreLifecycle(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			s := NewTaskStore(b.db, b.dialect)
			runID := uid("run")
			id := uid("task")

			require.NoError(t, s.Add(ctx, task.Task{
				ID: id, RunID: runID, Role: task.RoleWriter, Description: "draft",
				Payload: map[string]any{"action": "draft"},
			}))
			assert.ErrorIs(t, s.Add(ctx, task.Task{ID: id, Role: task.RoleWriter, Description: "x"}), store.ErrDuplicate)

			got, err := s.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, task.StatusQueued, got.Status)
			assert.Equal(t, runID, got.RunID)
			assert.Equal(t, "draft", got.Payload["action"])
			require.Len(t, got.History, 1)

			_, err = s.SetStatus(ctx, id, task.StatusRunning, map[string]any{
				"telemetry": map[string]any{"total_tokens": 7},
			})
			require.NoError(t, err)
			done, err := s.SetStatus(ctx, id, task.StatusCompleted, map[string]any{
				"notes":     "all good",
				"telemetry": map[string]any{"total_tokens": 3, "provider": "gemini"},
			})
			require.NoError(t, err)
			assert.Equal(t, 1, done.Attempts)
			assert.EqualValues(t, 10, done.Telemetry["total_tokens"])
			assert.Equal(t, "gemini", done.Telemetry["provider"])

			history, err := s.History(ctx, id)
			require.NoError(t, err)
			require.Len(t, history, 3)
			assert.Equal(t, task.StatusCompleted, history[2].Status)
			assert.Equal(t, "all good", history[2].Notes)

			_, err = s.UpdateMetadata(ctx, id, map[string]any{"owner": "ops"})
			require.NoError(t, err)
			meta, err := s.UpdateMetadata(ctx, id, map[string]any{"priority": "high"})
			require.NoError(t, err)
			assert.Equal(t, "ops", meta.Metadata["owner"])
			assert.Equal(t, "high", meta.Metadata["priority"])

			members, err := s.ListByRunID(ctx, runID)
			require.NoError(t, err)
			require.Len(t, members, 1)
			assert.Equal(t, id, members[0].ID)

			_, err = s.Get(ctx, uid("missing"))
			assert.ErrorIs(t, err, store.ErrTaskNotFound)
			_, err = s.SetStatus(ctx, uid("missing"), task.StatusRunning, nil)
			assert.ErrorIs(t, err, store.ErrNotFound)
		})
	}
}

func TestTaskStoreConcurrentSetStatusLosesNoAttempts(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			s := NewTaskStore(b.db, b.dialect)
			s.retries = 100
			id := uid("task")
			require.NoError(t, s.Add(ctx, task.Task{ID: id, Role: task.RoleTriage, Description: "d"}))

			const writers = 8
			var wg sync.WaitGroup
			errs := make(chan error, writers)
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := s.SetStatus(ctx, id, task.StatusRunning, nil)
					errs <- err
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				require.NoError(t, err)
			}

			got, err := s.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, writers, got.Attempts)
			assert.Len(t, got.History, writers+1)
		})
	}
}

func TestTaskStoreStaleVersionConflicts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openSQLite(t)
	s := NewTaskStore(db, DialectSQLite)
	require.NoError(t, s.Add(ctx, task.Task{ID: "t1", Role: task.RoleTriage, Description: "d"}))

	row, err := s.load(ctx, "t1")
	require.NoError(t, err)
	_, err = s.SetStatus(ctx, "t1", task.StatusRunning, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, s.compareAndSwap(ctx, row), store.ErrConflict)
}

func TestRunStoreLifecycle(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			s := NewRunStore(b.db, b.dialect)
			id := uid("run")

			require.NoError(t, s.Add(ctx, task.Run{ID: id, Type: task.RunTypeSchedule, Payload: map[string]any{"k": "v"}}))
			assert.ErrorIs(t, s.Add(ctx, task.Run{ID: id, Type: task.RunTypeManual}), store.ErrRunExists)

			require.NoError(t, s.AppendTask(ctx, id, "a"))
			require.NoError(t, s.AppendTask(ctx, id, "b"))
			require.NoError(t, s.AppendTask(ctx, id, "a"))
			require.NoError(t, s.UpdateStatus(ctx, id, task.StatusRunning, map[string]any{"source": "test"}))
			require.NoError(t, s.UpdateStatus(ctx, id, task.StatusCompleted, map[string]any{"finished": true}))

			got, err := s.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b"}, got.TaskIDs)
			assert.Equal(t, task.StatusCompleted, got.Status)
			assert.Equal(t, task.RunTypeSchedule, got.Type)
			assert.Equal(t, "test", got.Metadata["source"])
			assert.Equal(t, true, got.Metadata["finished"])
			assert.Equal(t, "v", got.Payload["k"])

			assert.ErrorIs(t, s.AppendTask(ctx, uid("missing"), "a"), store.ErrRunNotFound)
			assert.ErrorIs(t, s.UpdateStatus(ctx, uid("missing"), task.StatusFailed, nil), store.ErrNotFound)
		})
	}
}

func TestRunStoreList(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewRunStore(openSQLite(t), DialectSQLite)

	for i, status := range []task.Status{task.StatusQueued, task.StatusFailed, task.StatusCompleted, task.StatusFailed} {
		id := fmt.Sprintf("r%d", i)
		require.NoError(t, s.Add(ctx, task.Run{ID: id, Type: task.RunTypeManual}))
		require.NoError(t, s.UpdateStatus(ctx, id, status, nil))
	}

	all, err := s.List(ctx, task.RunFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "r3", all[0].ID, "newest first")

	failed, err := s.List(ctx, task.RunFilter{Status: "failed"})
	require.NoError(t, err)
	require.Len(t, failed, 2)
	assert.Equal(t, "r3", failed[0].ID)
	assert.Equal(t, "r1", failed[1].ID)

	page, err := s.List(ctx, task.RunFilter{Offset: 1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "r2", page[0].ID)

	_, err = s.List(ctx, task.RunFilter{Status: "bogus"})
	assert.ErrorIs(t, err, store.ErrInvalidFilter)
}

func TestSyncRunStatusOverSQL(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openSQLite(t)
	tasks := NewTaskStore(db, DialectSQLite)
	runs := NewRunStore(db, DialectSQLite)

	require.NoError(t, runs.Add(ctx, task.Run{ID: "r", Type: task.RunTypeManual}))
	for _, id := range []string{"a", "b"} {
		require.NoError(t, tasks.Add(ctx, task.Task{ID: id, RunID: "r", Role: task.RoleTriage, Description: id}))
		require.NoError(t, runs.AppendTask(ctx, "r", id))
	}
	_, err := tasks.SetStatus(ctx, "a", task.StatusCompleted, nil)
	require.NoError(t, err)

	status, err := task.SyncRunStatus(ctx, tasks, runs, "r")
	require.NoError(t, err)
	assert.Equal(t, task.StatusRunning, status)

	_, err = tasks.SetStatus(ctx, "b", task.StatusCompleted, nil)
	require.NoError(t, err)
	status, err = task.SyncRunStatus(ctx, tasks, runs, "r")
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, status)
}

func TestRunInTransactionRollsBack(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openSQLite(t)

	err := store.RunInTransaction(ctx, db, func(ctx context.Context, tx *sql.Tx) error {
		if err := NewTaskStore(db, DialectSQLite).WithTx(tx).Add(ctx, task.Task{ID: "t", Role: task.RoleTriage, Description: "d"}); err != nil {
			return err
		}
		return fmt.Errorf("abort")
	})
	require.Error(t, err)

	_, err = NewTaskStore(db, DialectSQLite).Get(ctx, "t")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
