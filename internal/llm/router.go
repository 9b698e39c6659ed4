package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Router dispatches requests to named providers. Registration enforces each
// provider's endpoint policy, so a disallowed endpoint is never called.
type Router struct {
	mu          sync.RWMutex
	providers   map[string]Client
	defaultName string
	logger      *slog.Logger
}

var _ Client = (*Router)(nil)

// NewRouter creates an empty Router. The first registered provider becomes
// the default unless SetDefault is called.
func NewRouter(logger *slog.Logger) *Router {
	return &Router{providers: make(map[string]Client), logger: logger.With("component", "llm_router")}
}

// Register adds a provider reachable at endpoint after checking policy.
func (r *Router) Register(name string, endpoint string, policy EndpointPolicy, client Client) error {
	if err := policy.Check(endpoint); err != nil {
		r.logger.Warn("provider rejected by endpoint policy", "provider", name, "error", err)
		return fmt.Errorf("provider %s: %w", name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = client
	if r.defaultName == "" {
		r.defaultName = name
	}
	r.logger.Info("model provider registered", "provider", name)
	return nil
}

// SetDefault selects the provider used when a request names none.
func (r *Router) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	r.defaultName = name
	return nil
}

// Providers lists registered provider names.
func (r *Router) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Complete forwards req to the selected provider.
func (r *Router) Complete(ctx context.Context, req Request) (*Response, error) {
	name := req.Provider
	r.mu.RLock()
	if name == "" {
		name = r.defaultName
	}
	client, ok := r.providers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}

	resp, err := client.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Provider == "" {
		resp.Provider = name
	}
	return resp, nil
}
