package task

import (
	"context"
	"log/slog"
	"sync"
)

// MemoryQueue is the in-process Queue backend: a mutex-guarded slice.
type MemoryQueue struct {
	mu     sync.Mutex
	items  []Task
	logger *slog.Logger
}

// NewMemoryQueue creates an empty in-process queue.
func NewMemoryQueue(logger *slog.Logger) *MemoryQueue {
	return &MemoryQueue{logger: logger.With("component", "memory_queue")}
}

// Enqueue appends t to the tail of the queue.
func (q *MemoryQueue) Enqueue(_ context.Context, t Task) error {
	q.mu.Lock()
	q.items = append(q.items, t)
	depth := len(q.items)
	q.mu.Unlock()

	q.logger.Debug("task enqueued", "task_id", t.ID, "role", t.Role, "queue_len", depth)
	return nil
}

// Dequeue pops the head of the queue without blocking.
func (q *MemoryQueue) Dequeue(_ context.Context) (Task, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Task{}, false, nil
	}
	t := q.items[0]
	q.items[0] = Task{}
	q.items = q.items[1:]
	return t, true, nil
}

// Size returns the number of queued tasks.
func (q *MemoryQueue) Size(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items), nil
}

// List returns up to limit queued tasks, oldest first.
func (q *MemoryQueue) List(_ context.Context, limit int) ([]Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Task, n)
	copy(out, q.items[:n])
	return out, nil
}

// Purge drops every queued task.
func (q *MemoryQueue) Purge(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n, nil
}
