package processors

import (
	"fmt"
	"sync"
)

// Registry maps processor ids to implementations. It is filled at startup.
type Registry struct {
	mu    sync.RWMutex
	order []ID
	impls map[ID]Processor
}

func NewRegistry(ps ...Processor) (*Registry, error) {
	r := &Registry{impls: map[ID]Processor{}}
	for _, p := range ps {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(p Processor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := p.ID()
	if _, ok := r.impls[id]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, id)
	}
	r.order = append(r.order, id)
	r.impls[id] = p
	return nil
}

// Get returns the implementation for id; an unknown id is simply absent.
func (r *Registry) Get(id ID) (Processor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.impls[id]
	return p, ok
}

// All returns implementations in registration order.
func (r *Registry) All() []Processor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Processor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.impls[id])
	}
	return out
}
