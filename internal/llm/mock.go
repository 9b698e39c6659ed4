package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockClient is a scripted Client for tests. Replies are returned in order;
// CompleteFn, when set, takes precedence.
type MockClient struct {
	mu         sync.Mutex
	Replies    []MockReply
	CompleteFn func(ctx context.Context, req Request) (*Response, error)
	Requests   []Request
}

// MockReply is one scripted outcome.
type MockReply struct {
	Text  string
	Usage Usage
	Err   error
}

// Complete records req and returns the next scripted reply.
func (m *MockClient) Complete(ctx context.Context, req Request) (*Response, error) {
	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	call := len(m.Requests)
	fn := m.CompleteFn
	var reply *MockReply
	if fn == nil && call <= len(m.Replies) {
		r := m.Replies[call-1]
		reply = &r
	}
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if reply == nil {
		return nil, fmt.Errorf("mock client: no reply scripted for call %d", call)
	}
	if reply.Err != nil {
		return nil, reply.Err
	}
	return &Response{Text: reply.Text, Usage: reply.Usage, Provider: "mock", Model: req.Model}, nil
}

// Calls returns how many requests were made.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}
