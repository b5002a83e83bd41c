package breaker

import "sync"

// Registry holds named breakers so that every caller protecting the same
// dependency shares one instance. It is injected at startup rather than
// kept as a package global, so tests can construct isolated registries.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	opts     []Option
}

// NewRegistry creates a registry. opts are applied to every breaker the
// registry creates (shared store, clock, hooks).
func NewRegistry(opts ...Option) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		opts:     opts,
	}
}

// GetOrCreate returns the breaker registered under name, creating it with
// cfg on first use. cfg is ignored for an existing breaker.
func (r *Registry) GetOrCreate(name string, cfg Config) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := New(name, cfg, r.opts...)
	r.breakers[name] = b
	return b
}
