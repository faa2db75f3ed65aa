package resilience

import (
	"sync"
)

// Registry holds one [CircuitBreaker] per tool name, created lazily on first
// use. Lookup takes a read lock only; all state transitions are serialized
// inside each breaker, so concurrent dispatches to different tools never
// contend on a shared lock.
type Registry struct {
	cfg Config // template applied to every breaker; Name is set per tool

	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

// NewRegistry creates a Registry whose breakers are configured from cfg.
// The cfg.Name field is ignored — each breaker is named after its tool.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		cfg:      cfg,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for tool, creating it in the closed state on first
// use.
func (r *Registry) Get(tool string) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[tool]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[tool]; ok {
		return cb
	}
	cfg := r.cfg
	cfg.Name = tool
	cb = NewCircuitBreaker(cfg)
	r.breakers[tool] = cb
	return cb
}

// States returns a snapshot of every known tool's breaker state. Used by the
// readiness check and operator introspection.
func (r *Registry) States() map[string]State {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]State, len(r.breakers))
	for name, cb := range r.breakers {
		out[name] = cb.State()
	}
	return out
}
