package courier

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Registry manages the courier-code to adapter bindings known to the system.
type Registry struct {
	couriers map[string]registration
	mu       sync.RWMutex
}

type registration struct {
	courier Courier
	enabled bool
}

// NewRegistry creates a new courier registry.
func NewRegistry() *Registry {
	return &Registry{
		couriers: make(map[string]registration),
	}
}

// Register adds a courier to the registry. Disabled couriers stay registered
// but are never resolvable.
func (r *Registry) Register(c Courier, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.couriers[c.Code()] = registration{courier: c, enabled: enabled}
}

// Resolve returns the adapter for a courier code. It fails with
// ErrCourierNotFound when the code is unregistered or disabled.
func (r *Registry) Resolve(code string) (Courier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.couriers[code]
	if !ok || !reg.enabled {
		return nil, fmt.Errorf("%w: %s", ErrCourierNotFound, code)
	}
	return reg.courier, nil
}

// Available returns the codes of all registered and enabled couriers,
// independent of circuit-breaker health.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	codes := make([]string, 0, len(r.couriers))
	for code, reg := range r.couriers {
		if reg.enabled {
			codes = append(codes, code)
		}
	}
	sort.Strings(codes)
	return codes
}

// Count returns the number of registered couriers, enabled or not.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.couriers)
}

// Health reports runtime availability for every enabled courier in parallel.
// A courier whose circuit breaker is open reports false.
func (r *Registry) Health(ctx context.Context) map[string]bool {
	r.mu.RLock()
	enabled := make(map[string]Courier)
	for code, reg := range r.couriers {
		if reg.enabled {
			enabled[code] = reg.courier
		}
	}
	r.mu.RUnlock()

	health := make(map[string]bool, len(enabled))
	mu := &sync.Mutex{}

	g, ctx := errgroup.WithContext(ctx)
	for code, c := range enabled {
		g.Go(func() error {
			available := c.IsAvailable(ctx)
			mu.Lock()
			health[code] = available
			mu.Unlock()
			return nil
		})
	}

	g.Wait()
	return health
}
