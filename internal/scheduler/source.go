package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/orchestrator/internal/events"
	"github.com/phrazzld/orchestrator/internal/task"
)

// Target is one eligible item returned by a Source.
type Target struct {
	ID          string         `json:"id"`
	Description string         `json:"description,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// Source lists the targets that currently need a task.
type Source interface {
	Targets(ctx context.Context) ([]Target, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) ([]Target, error)

// Targets implements Source.
func (f SourceFunc) Targets(ctx context.Context) ([]Target, error) { return f(ctx) }

// HTTPSource fetches targets as JSON from a URL. The body may be a bare array
// of targets or an object with a "targets" array.
type HTTPSource struct {
	url    string
	client *http.Client
}

// NewHTTPSource creates an HTTPSource with a per-request timeout.
func NewHTTPSource(url string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSource{url: url, client: &http.Client{Timeout: timeout}}
}

// Targets implements Source.
func (s *HTTPSource) Targets(ctx context.Context) ([]Target, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("building source request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching targets: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("reading targets: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("target source returned %d", resp.StatusCode)
	}

	var targets []Target
	if err := json.Unmarshal(body, &targets); err == nil {
		return targets, nil
	}
	var wrapped struct {
		Targets []Target `json:"targets"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("decoding targets: %w", err)
	}
	return wrapped.Targets, nil
}

// SourceDriven emits one task of a fixed role per target. When the source
// fails the tick is skipped entirely and retried at the next interval.
type SourceDriven struct {
	*loop
	role   task.Role
	source Source
}

// NewSourceDriven creates a stopped SourceDriven scheduler.
func NewSourceDriven(interval time.Duration, role task.Role, source Source, emitter events.EventEmitter, logger *slog.Logger) (*SourceDriven, error) {
	if emitter == nil {
		return nil, ErrNoEmitter
	}
	if source == nil {
		return nil, fmt.Errorf("source scheduler requires a source")
	}
	if !role.Valid() {
		return nil, fmt.Errorf("source scheduler: unknown role %q", role)
	}
	s := &SourceDriven{role: role, source: source}
	s.loop = newLoop("source", interval, emitter, logger, s.TickOnce)
	return s, nil
}

// TickOnce fetches targets and emits one task per target. It reports how
// many of those tasks the handler accepted.
func (s *SourceDriven) TickOnce(ctx context.Context) (int, error) {
	targets, err := s.source.Targets(ctx)
	if err != nil {
		s.logger.Warn("target source unavailable, skipping tick", "error", err)
		return 0, fmt.Errorf("source unavailable: %w", err)
	}

	tasks := make([]task.Task, 0, len(targets))
	for _, target := range targets {
		if target.ID == "" {
			s.logger.Warn("skipping target without id")
			continue
		}
		desc := target.Description
		if desc == "" {
			desc = fmt.Sprintf("sync %s", target.ID)
		}
		tasks = append(tasks, task.Task{
			ID:          fmt.Sprintf("%s-%s", target.ID, uuid.NewString()),
			Role:        s.role,
			Description: desc,
			Payload:     target.Payload,
		})
	}

	err = s.emit(ctx, tasks, map[string]any{
		"scheduler":   "source",
		"scheduledAt": s.now().UTC().Format(time.RFC3339),
	})
	return countTrue(acceptedTasks(tasks, err)), err
}
