package events

import (
	"context"
	"sync"
)

// MockEventHandler records events for tests.
type MockEventHandler struct {
	mu sync.Mutex

	// Events received, in order
	Events []*TaskRequestEvent

	// HandlerError is returned from HandleEvent when set
	HandlerError error

	// HandleFn, when set, decides the result instead of HandlerError
	HandleFn func(ctx context.Context, event *TaskRequestEvent) error
}

// HandleEvent implements EventHandler.
func (h *MockEventHandler) HandleEvent(ctx context.Context, event *TaskRequestEvent) error {
	h.mu.Lock()
	h.Events = append(h.Events, event)
	fn := h.HandleFn
	h.mu.Unlock()
	if fn != nil {
		return fn(ctx, event)
	}
	return h.HandlerError
}

// Count returns how many events were handled.
func (h *MockEventHandler) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.Events)
}

// Last returns the most recent event, or nil.
func (h *MockEventHandler) Last() *TaskRequestEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.Events) == 0 {
		return nil
	}
	return h.Events[len(h.Events)-1]
}
