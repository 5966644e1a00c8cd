package engine

import (
	"sync"

	"routekit/internal/metrics"
)

// Handle is anything the registry can hand out an id for.
type Handle interface {
	HandleKey() string
}

type regEntry struct {
	handle Handle
	refs   int
}

// Registry maps handles to numeric ids. An id is stable per handle key for
// the lifetime of the engine; holders reference count it with Acquire and
// Release.
type Registry struct {
	mu      sync.Mutex
	ids     map[string]uint64
	entries map[uint64]*regEntry
	next    uint64
}

func newRegistry() *Registry {
	return &Registry{
		ids:     make(map[string]uint64),
		entries: make(map[uint64]*regEntry),
	}
}

// Acquire returns the id of h and takes a reference to it.
func (r *Registry) Acquire(h Handle) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := h.HandleKey()
	id, ok := r.ids[key]
	if !ok {
		r.next++
		id = r.next
		r.ids[key] = id
		r.entries[id] = &regEntry{}
	}
	ent := r.entries[id]
	ent.handle = h
	ent.refs++
	if ent.refs == 1 {
		metrics.EndpointHandles.Inc()
	}
	return id
}

// Resolve returns the handle for id while at least one reference is held.
func (r *Registry) Resolve(id uint64) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ent, ok := r.entries[id]
	if !ok || ent.refs == 0 {
		return nil, false
	}
	return ent.handle, true
}

// Release drops one reference. It reports false for unknown or
// already released ids.
func (r *Registry) Release(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ent, ok := r.entries[id]
	if !ok || ent.refs == 0 {
		return false
	}
	ent.refs--
	if ent.refs == 0 {
		metrics.EndpointHandles.Dec()
	}
	return true
}

// Refs returns the current reference count of id.
func (r *Registry) Refs(id uint64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ent, ok := r.entries[id]; ok {
		return ent.refs
	}
	return 0
}

// Live returns the number of ids with a positive reference count.
func (r *Registry) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ent := range r.entries {
		if ent.refs > 0 {
			n++
		}
	}
	return n
}
