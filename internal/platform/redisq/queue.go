package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/phrazzld/orchestrator/internal/task"
	"github.com/redis/go-redis/v9"
)

// Queue is a task.Queue stored in a Redis list.
type Queue struct {
	client redis.UniversalClient
	key    string
	logger *slog.Logger
}

var _ task.Queue = (*Queue)(nil)

// NewQueue creates a queue stored under key.
func NewQueue(client redis.UniversalClient, key string, logger *slog.Logger) *Queue {
	return &Queue{
		client: client,
		key:    key,
		logger: logger.With("component", "redis_queue", "key", key),
	}
}

// Enqueue pushes t onto the head of the list.
func (q *Queue) Enqueue(ctx context.Context, t task.Task) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to encode task %s: %w", t.ID, err)
	}
	depth, err := q.client.LPush(ctx, q.key, raw).Result()
	if err != nil {
		return fmt.Errorf("failed to enqueue task %s: %w", t.ID, err)
	}
	q.logger.Debug("task enqueued", "task_id", t.ID, "role", t.Role, "queue_len", depth)
	return nil
}

// Dequeue pops the oldest task from the tail of the list. It never blocks.
func (q *Queue) Dequeue(ctx context.Context) (task.Task, bool, error) {
	raw, err := q.client.RPop(ctx, q.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return task.Task{}, false, nil
	}
	if err != nil {
		return task.Task{}, false, fmt.Errorf("failed to dequeue: %w", err)
	}
	var t task.Task
	if err := json.Unmarshal(raw, &t); err != nil {
		// The entry is gone from the list; surface it rather than loop on it.
		q.logger.Error("dropping undecodable queue entry", "error", err, "entry", string(raw))
		return task.Task{}, false, fmt.Errorf("failed to decode queued task: %w", err)
	}
	return t, true, nil
}

// Size returns the list length.
func (q *Queue) Size(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue length: %w", err)
	}
	return int(n), nil
}

// List returns up to limit tasks, oldest first, without removing them.
func (q *Queue) List(ctx context.Context, limit int) ([]task.Task, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	entries, err := q.client.LRange(ctx, q.key, start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}
	out := make([]task.Task, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		var t task.Task
		if err := json.Unmarshal([]byte(entries[i]), &t); err != nil {
			q.logger.Warn("skipping undecodable queue entry", "error", err)
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// Purge deletes the list and reports how many entries it held.
func (q *Queue) Purge(ctx context.Context) (int, error) {
	var length *redis.IntCmd
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		length = pipe.LLen(ctx, q.key)
		pipe.Del(ctx, q.key)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to purge queue: %w", err)
	}
	return int(length.Val()), nil
}
