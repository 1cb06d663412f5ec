package jserror

import "sync"

const registrySize = 1024

// Registry remembers host errors thrown into the engine so that a script
// rethrowing one surfaces the original value. It keeps the most recent
// errors only; older ids resolve to nothing.
type Registry struct {
	mu   sync.Mutex
	next int64
	ring [registrySize]struct {
		id  int64
		err error
	}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add records err and returns its id. Ids start at 1.
func (r *Registry) Add(err error) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	slot := &r.ring[r.next%registrySize]
	slot.id = r.next
	slot.err = err
	return r.next
}

// Lookup returns the error recorded under id.
func (r *Registry) Lookup(id int64) (error, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id <= 0 {
		return nil, false
	}
	slot := r.ring[id%registrySize]
	if slot.id != id {
		return nil, false
	}
	return slot.err, true
}

// Reset drops every recorded error.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.ring {
		r.ring[i].id = 0
		r.ring[i].err = nil
	}
}
