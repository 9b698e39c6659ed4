package task

import "context"

// MockTaskStore implements TaskStore for testing. Each method delegates to its
// Fn field when set and to an in-memory store otherwise, so tests only stub
// the calls they care about.
type MockTaskStore struct {
	*MemoryTaskStore

	AddFn            func(ctx context.Context, t Task) error
	SetStatusFn      func(ctx context.Context, id string, status Status, result map[string]any) (*TrackedTask, error)
	UpdateMetadataFn func(ctx context.Context, id string, patch map[string]any) (*TrackedTask, error)
	GetFn            func(ctx context.Context, id string) (*TrackedTask, error)
	ListByRunIDFn    func(ctx context.Context, runID string) ([]*TrackedTask, error)
}

// NewMockTaskStore creates a MockTaskStore backed by a fresh in-memory store.
func NewMockTaskStore() *MockTaskStore {
	return &MockTaskStore{MemoryTaskStore: NewMemoryTaskStore()}
}

// Add delegates to AddFn when set.
func (m *MockTaskStore) Add(ctx context.Context, t Task) error {
	if m.AddFn != nil {
		return m.AddFn(ctx, t)
	}
	return m.MemoryTaskStore.Add(ctx, t)
}

// SetStatus delegates to SetStatusFn when set.
func (m *MockTaskStore) SetStatus(
	ctx context.Context,
	id string,
	status Status,
	result map[string]any,
) (*TrackedTask, error) {
	if m.SetStatusFn != nil {
		return m.SetStatusFn(ctx, id, status, result)
	}
	return m.MemoryTaskStore.SetStatus(ctx, id, status, result)
}

// UpdateMetadata delegates to UpdateMetadataFn when set.
func (m *MockTaskStore) UpdateMetadata(ctx context.Context, id string, patch map[string]any) (*TrackedTask, error) {
	if m.UpdateMetadataFn != nil {
		return m.UpdateMetadataFn(ctx, id, patch)
	}
	return m.MemoryTaskStore.UpdateMetadata(ctx, id, patch)
}

// Get delegates to GetFn when set.
func (m *MockTaskStore) Get(ctx context.Context, id string) (*TrackedTask, error) {
	if m.GetFn != nil {
		return m.GetFn(ctx, id)
	}
	return m.MemoryTaskStore.Get(ctx, id)
}

// ListByRunID delegates to ListByRunIDFn when set.
func (m *MockTaskStore) ListByRunID(ctx context.Context, runID string) ([]*TrackedTask, error) {
	if m.ListByRunIDFn != nil {
		return m.ListByRunIDFn(ctx, runID)
	}
	return m.MemoryTaskStore.ListByRunID(ctx, runID)
}
