// Package pool provides a small registry of lazily-constructed, shared
// adapter handles (tabular/object/scheduler clients), so multiple sessions
// reuse one client per service instead of constructing a fresh one per
// call. Actual socket pooling is delegated to aws-sdk-go's transport; this
// mirrors the handle-caching half of
// bunsui.performance.connection_pool.AWSConnectionPool, not its
// raw-connection half, since Go's SDK clients are already safe for
// concurrent reuse.
package pool

import (
	"fmt"
	"sync"
)

// Stats mirrors ConnectionPool.get_stats: how many handles this registry
// has constructed versus handed back already-built.
type Stats struct {
	Created int
	Reused  int
	Errors  int
}

type handle struct {
	value any
	err   error
}

// Registry lazily builds and caches one handle per named service. Get is
// safe for concurrent use; a factory that returns an error is not cached,
// so the next Get retries construction.
type Registry struct {
	mu      sync.Mutex
	handles map[string]*handle
	stats   Stats
}

func NewRegistry() *Registry {
	return &Registry{handles: map[string]*handle{}}
}

// Get returns the cached handle for name, constructing it via factory on
// first use (or after a prior construction failed).
func (r *Registry) Get(name string, factory func() (any, error)) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.handles[name]; ok {
		r.stats.Reused++
		return h.value, nil
	}

	v, err := factory()
	if err != nil {
		r.stats.Errors++
		return nil, fmt.Errorf("pool: construct %q: %w", name, err)
	}
	r.handles[name] = &handle{value: v}
	r.stats.Created++
	return v, nil
}

// Evict drops a cached handle, forcing the next Get to reconstruct it.
func (r *Registry) Evict(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, name)
}

func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
