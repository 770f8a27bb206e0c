package provider

import (
	"fmt"
	"sort"
)

// Registry resolves a provider identifier to its adapter. Registration
// happens once at boot; a lookup miss is a configuration error.
type Registry struct {
	adapters map[Type]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[Type]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Type()] = a
	}
	return r
}

func (r *Registry) Get(t Type) (Adapter, error) {
	a, ok := r.adapters[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotRegistered, t)
	}
	return a, nil
}

func (r *Registry) Types() []Type {
	out := make([]Type, 0, len(r.adapters))
	for t := range r.adapters {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
