package task

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/phrazzld/orchestrator/internal/store"
)

// MemoryTaskStore is the in-process TaskStore backend.
type MemoryTaskStore struct {
	mu    sync.RWMutex
	tasks map[string]*TrackedTask
	order []string
	now   func() time.Time
}

// NewMemoryTaskStore creates an empty in-process task store.
func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{
		tasks: make(map[string]*TrackedTask),
		now:   time.Now,
	}
}

// Add records t as queued with a single history entry.
func (s *MemoryTaskStore) Add(_ context.Context, t Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[t.ID]; exists {
		return store.ErrTaskExists
	}
	now := s.now().UTC()
	s.tasks[t.ID] = &TrackedTask{
		Task:      Task{ID: t.ID, RunID: t.RunID, Role: t.Role, Description: t.Description, Payload: cloneMap(t.Payload)},
		Status:    StatusQueued,
		Metadata:  map[string]any{},
		History:   []HistoryEntry{{Status: StatusQueued, Timestamp: now}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.order = append(s.order, t.ID)
	return nil
}

// SetStatus applies a status transition under the store lock.
func (s *MemoryTaskStore) SetStatus(
	_ context.Context,
	id string,
	status Status,
	result map[string]any,
) (*TrackedTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	ApplyStatus(t, status, cloneMap(result), s.now().UTC())
	return t.Clone(), nil
}

// UpdateMetadata merges patch into the task's metadata.
func (s *MemoryTaskStore) UpdateMetadata(_ context.Context, id string, patch map[string]any) (*TrackedTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	t.Metadata = MergeMetadata(t.Metadata, cloneMap(patch))
	t.UpdatedAt = s.now().UTC()
	return t.Clone(), nil
}

// Get returns a copy of the tracked task.
func (s *MemoryTaskStore) Get(_ context.Context, id string) (*TrackedTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return t.Clone(), nil
}

// All returns every task in insertion order.
func (s *MemoryTaskStore) All(_ context.Context) ([]*TrackedTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*TrackedTask, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.tasks[id].Clone())
	}
	return out, nil
}

// ListByRunID returns the run's tasks in insertion order.
func (s *MemoryTaskStore) ListByRunID(_ context.Context, runID string) ([]*TrackedTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*TrackedTask
	for _, id := range s.order {
		if t := s.tasks[id]; t.RunID == runID {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

// History returns the task's status history.
func (s *MemoryTaskStore) History(_ context.Context, id string) ([]HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return append([]HistoryEntry(nil), t.History...), nil
}

// MemoryRunStore is the in-process RunStore backend.
type MemoryRunStore struct {
	mu   sync.RWMutex
	runs map[string]*Run
	seq  map[string]int
	next int
	now  func() time.Time
}

// NewMemoryRunStore creates an empty in-process run store.
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{
		runs: make(map[string]*Run),
		seq:  make(map[string]int),
		now:  time.Now,
	}
}

// Add records r. Missing status defaults to queued and timestamps to now.
func (s *MemoryRunStore) Add(_ context.Context, r Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[r.ID]; exists {
		return store.ErrRunExists
	}
	c := r.Clone()
	NormalizeNewRun(c, s.now().UTC())
	s.runs[r.ID] = c
	s.seq[r.ID] = s.next
	s.next++
	return nil
}

// UpdateStatus sets the status and merges metadataPatch.
func (s *MemoryRunStore) UpdateStatus(_ context.Context, id string, status Status, metadataPatch map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return store.ErrRunNotFound
	}
	r.Status = status
	r.Metadata = MergeMetadata(r.Metadata, cloneMap(metadataPatch))
	r.UpdatedAt = s.now().UTC()
	return nil
}

// AppendTask adds taskID once, preserving order.
func (s *MemoryRunStore) AppendTask(_ context.Context, id string, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return store.ErrRunNotFound
	}
	for _, existing := range r.TaskIDs {
		if existing == taskID {
			return nil
		}
	}
	r.TaskIDs = append(r.TaskIDs, taskID)
	r.UpdatedAt = s.now().UTC()
	return nil
}

// Get returns a copy of the run.
func (s *MemoryRunStore) Get(_ context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, store.ErrRunNotFound
	}
	return r.Clone(), nil
}

// List returns runs newest first, optionally filtered by status.
func (s *MemoryRunStore) List(_ context.Context, filter RunFilter) ([]*Run, error) {
	offset, limit, status, err := NormalizeRunFilter(filter)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]*Run, 0, len(s.runs))
	for _, r := range s.runs {
		if status != "" && r.Status != status {
			continue
		}
		matched = append(matched, r)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return s.seq[matched[i].ID] > s.seq[matched[j].ID]
	})

	if offset >= len(matched) {
		return []*Run{}, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	out := make([]*Run, 0, end-offset)
	for _, r := range matched[offset:end] {
		out = append(out, r.Clone())
	}
	return out, nil
}

// NormalizeNewRun fills defaults for a run about to be stored.
func NormalizeNewRun(r *Run, now time.Time) {
	if r.Status == "" {
		r.Status = StatusQueued
	}
	if r.Type == "" {
		r.Type = RunTypeManual
	}
	if r.Metadata == nil {
		r.Metadata = map[string]any{}
	}
	if r.TaskIDs == nil {
		r.TaskIDs = []string{}
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}
}

// NormalizeRunFilter validates a filter and applies the default limit. The
// returned status is empty when no filter was requested.
func NormalizeRunFilter(filter RunFilter) (int, int, Status, error) {
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultRunListLimit
	}
	var status Status
	if filter.Status != "" {
		s, err := ParseStatus(filter.Status)
		if err != nil {
			return 0, 0, "", store.NewStoreError("run", "list", "unrecognized status "+filter.Status, store.ErrInvalidFilter)
		}
		status = s
	}
	return offset, limit, status, nil
}
