package provider

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// statusProbeLimit bounds concurrent probes; CLI probes spawn a process each.
const statusProbeLimit = 8

// Registry is the fixed, ordered set of providers the daemon was started with.
// Registration order is the tie-break order for ranking.
type Registry struct {
	mu        sync.RWMutex
	order     []string
	providers map[string]Provider
	avail     *AvailabilityCache
}

func NewRegistry(avail *AvailabilityCache) *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		avail:     avail,
	}
}

// Register adds p. Ids must be unique.
func (r *Registry) Register(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[p.ID()]; exists {
		return fmt.Errorf("provider %q already registered", p.ID())
	}
	r.providers[p.ID()] = p
	r.order = append(r.order, p.ID())
	return nil
}

func (r *Registry) Get(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// All returns providers in registration order.
func (r *Registry) All() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Provider, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.providers[id])
	}
	return out
}

// IDs returns provider ids in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	return ids
}

// IsAvailable probes p through the availability cache.
func (r *Registry) IsAvailable(ctx context.Context, p Provider) bool {
	return r.avail.IsAvailable(ctx, p)
}

// Statuses probes every provider and returns their status in registration order.
func (r *Registry) Statuses(ctx context.Context) []Status {
	all := r.All()
	out := make([]Status, len(all))

	var g errgroup.Group
	g.SetLimit(statusProbeLimit)
	for i, p := range all {
		i, p := i, p // per-iteration copies; go.mod targets go1.21 loop semantics
		g.Go(func() error {
			out[i] = Status{Info: p.Info(), Available: p.Enabled() && r.IsAvailable(ctx, p)}
			return nil
		})
	}
	_ = g.Wait()

	return out
}
