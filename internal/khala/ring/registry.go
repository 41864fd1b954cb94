package ring

import (
	"sort"
	"sync"
)

// Registry is the concurrent container of per-topic Rings. Its mutex
// guards map membership only — it is never held while a Ring operation
// (Publish/Poll/Window) runs, so publishers and pollers on different
// topics never contend on this lock.
type Registry struct {
	mu       sync.RWMutex
	topics   map[string]*Ring
	capacity int
}

// NewRegistry creates a Registry whose topics are created on first use
// with the given per-topic retention capacity.
func NewRegistry(capacity int) *Registry {
	return &Registry{
		topics:   make(map[string]*Ring),
		capacity: capacity,
	}
}

// Get returns the Ring for topic, creating it if it does not yet exist.
func (reg *Registry) Get(topic string) *Ring {
	reg.mu.RLock()
	r, ok := reg.topics[topic]
	reg.mu.RUnlock()
	if ok {
		return r
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if r, ok := reg.topics[topic]; ok {
		return r
	}
	r = New(topic, reg.capacity)
	reg.topics[topic] = r
	return r
}

// Windows returns a Window snapshot for every topic that has been
// touched at least once, ordered by publication recency (most recently
// published first), truncated to limit entries when limit > 0. Ordering
// is what makes truncation meaningful: under a limit, the topics kept
// are the ones that published most recently, not an arbitrary subset.
func (reg *Registry) Windows(limit int) []Window {
	reg.mu.RLock()
	rings := make([]*Ring, 0, len(reg.topics))
	for _, r := range reg.topics {
		rings = append(rings, r)
	}
	reg.mu.RUnlock()

	sort.Slice(rings, func(i, j int) bool {
		return rings[i].LastPublishedAt().After(rings[j].LastPublishedAt())
	})

	if limit > 0 && limit < len(rings) {
		rings = rings[:limit]
	}
	out := make([]Window, 0, len(rings))
	for _, r := range rings {
		out = append(out, r.Window())
	}
	return out
}
