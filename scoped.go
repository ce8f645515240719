package pubsub

import (
	"context"
	"sort"
	"sync"
)

// ScopeRegistry hands out one shared bus per named scope. The first
// Instance call for a scope creates the bus with the options given on
// that call; later calls for the same scope return the same bus and their
// options are ignored. A scope whose bus has been shut down is removed,
// so the next Instance call creates a fresh one.
type ScopeRegistry struct {
	mu    sync.Mutex
	buses map[string]*Bus
}

// NewScopeRegistry creates an empty scope registry.
func NewScopeRegistry() *ScopeRegistry {
	return &ScopeRegistry{buses: make(map[string]*Bus)}
}

// Instance returns the shared bus for a scope, creating it on first use.
// The scope name must be non-empty. Configuration sticks on first use.
func (r *ScopeRegistry) Instance(scope string, opts ...Option) (*Bus, error) {
	if scope == "" {
		return nil, ErrEmptyScope
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if bus, ok := r.buses[scope]; ok && !bus.IsShutdown() {
		return bus, nil
	}
	bus, err := New(append([]Option{WithName(scope)}, opts...)...)
	if err != nil {
		return nil, err
	}
	r.buses[scope] = bus
	return bus, nil
}

// IsInitialized reports whether a scope currently holds a live bus.
func (r *ScopeRegistry) IsInitialized(scope string) bool {
	r.mu.Lock()
	bus, ok := r.buses[scope]
	r.mu.Unlock()
	return ok && !bus.IsShutdown()
}

// Scopes returns the names of scopes holding a live bus, sorted.
func (r *ScopeRegistry) Scopes() []string {
	r.mu.Lock()
	scopes := make([]string, 0, len(r.buses))
	for scope, bus := range r.buses {
		if !bus.IsShutdown() {
			scopes = append(scopes, scope)
		}
	}
	r.mu.Unlock()
	sort.Strings(scopes)
	return scopes
}

// Shutdown shuts down the bus for one scope and forgets it. Unknown or
// already-released scopes are a no-op.
func (r *ScopeRegistry) Shutdown(scope string) {
	r.mu.Lock()
	bus, ok := r.buses[scope]
	delete(r.buses, scope)
	r.mu.Unlock()
	if ok {
		bus.Shutdown()
	}
}

// ShutdownAll shuts down every scope's bus and empties the registry.
func (r *ScopeRegistry) ShutdownAll() {
	r.mu.Lock()
	buses := make([]*Bus, 0, len(r.buses))
	for _, bus := range r.buses {
		buses = append(buses, bus)
	}
	r.buses = make(map[string]*Bus)
	r.mu.Unlock()
	for _, bus := range buses {
		bus.Shutdown()
	}
}

// Subscribe registers a callback on a scope's bus, creating the bus on
// first use.
func (r *ScopeRegistry) Subscribe(scope, topic string, callback Callback, opts ...SubscribeOption) (string, error) {
	bus, err := r.Instance(scope)
	if err != nil {
		return "", err
	}
	return bus.Subscribe(topic, callback, opts...)
}

// On returns a registration function bound to a scope's bus.
func (r *ScopeRegistry) On(scope, topic string, opts ...SubscribeOption) func(Callback) (string, error) {
	return func(callback Callback) (string, error) {
		return r.Subscribe(scope, topic, callback, opts...)
	}
}

// Unsubscribe removes a subscription from a scope's bus.
func (r *ScopeRegistry) Unsubscribe(scope, topic, id string) error {
	bus, err := r.Instance(scope)
	if err != nil {
		return err
	}
	return bus.Unsubscribe(topic, id)
}

// Publish publishes on a scope's bus, creating the bus on first use.
func (r *ScopeRegistry) Publish(scope, topic string, data map[string]any, opts ...MessageOption) error {
	bus, err := r.Instance(scope)
	if err != nil {
		return err
	}
	return bus.Publish(topic, data, opts...)
}

// Clear removes subscriptions from a scope's bus. An uninitialized scope
// is a no-op.
func (r *ScopeRegistry) Clear(scope string, topics ...string) error {
	r.mu.Lock()
	bus, ok := r.buses[scope]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return bus.Clear(topics...)
}

// Drain drains one scope's bus. An uninitialized scope is idle.
func (r *ScopeRegistry) Drain(ctx context.Context, scope string) bool {
	r.mu.Lock()
	bus, ok := r.buses[scope]
	r.mu.Unlock()
	if !ok {
		return true
	}
	return bus.Drain(ctx)
}

// defaultScopes is the process-wide registry behind the package-level
// scope functions.
var defaultScopes = NewScopeRegistry()

// Scope returns the process-wide shared bus for a named scope, creating
// it on first use. Configuration sticks on first use.
func Scope(scope string, opts ...Option) (*Bus, error) {
	return defaultScopes.Instance(scope, opts...)
}

// ScopeInitialized reports whether the process-wide scope holds a live bus.
func ScopeInitialized(scope string) bool {
	return defaultScopes.IsInitialized(scope)
}

// AllScopes returns the names of live process-wide scopes, sorted.
func AllScopes() []string {
	return defaultScopes.Scopes()
}

// ShutdownScope shuts down and forgets a process-wide scope.
func ShutdownScope(scope string) {
	defaultScopes.Shutdown(scope)
}
