package progress

import (
	"sync"

	"github.com/google/uuid"
)

// Registry is the ordered set of active subscriptions replayed after a
// reconnect. Only Connection mutates it.
type Registry struct {
	mu    sync.RWMutex
	order []Subscription
	index map[Subscription]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{index: make(map[Subscription]struct{})}
}

// Add inserts sub and reports whether it was new.
func (r *Registry) Add(sub Subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.index[sub]; ok {
		return false
	}
	r.index[sub] = struct{}{}
	r.order = append(r.order, sub)
	return true
}

// Remove deletes sub and reports whether it was present.
func (r *Registry) Remove(sub Subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.index[sub]; !ok {
		return false
	}
	delete(r.index, sub)
	for i, s := range r.order {
		if s == sub {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Contains reports whether sub is active.
func (r *Registry) Contains(sub Subscription) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.index[sub]
	return ok
}

// Snapshot returns the active subscriptions in insertion order.
func (r *Registry) Snapshot() []Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Subscription, len(r.order))
	copy(out, r.order)
	return out
}

// ChannelsFor returns every active subscription for id.
func (r *Registry) ChannelsFor(id uuid.UUID) []Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Subscription
	for _, s := range r.order {
		if s.ID == id {
			out = append(out, s)
		}
	}
	return out
}

// Len returns the number of active subscriptions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
