package application

import (
	"fmt"
	"sort"

	"github.com/apascualco/foodgate/internal/domain"
)

// Registry maps service names to upstream endpoints. It is built once at
// startup and never mutated, so concurrent readers need no locking.
type Registry struct {
	endpoints map[string]domain.Endpoint
	names     []string
}

func NewRegistry(endpoints []domain.Endpoint) (*Registry, error) {
	r := &Registry{
		endpoints: make(map[string]domain.Endpoint, len(endpoints)),
		names:     make([]string, 0, len(endpoints)),
	}

	for _, e := range endpoints {
		if err := e.Validate(); err != nil {
			return nil, err
		}
		if _, exists := r.endpoints[e.Name]; exists {
			return nil, fmt.Errorf("%w: %s", domain.ErrDuplicateService, e.Name)
		}
		r.endpoints[e.Name] = e
		r.names = append(r.names, e.Name)
	}

	sort.Strings(r.names)
	return r, nil
}

func (r *Registry) Resolve(name string) (domain.Endpoint, error) {
	e, ok := r.endpoints[name]
	if !ok {
		return domain.Endpoint{}, fmt.Errorf("%w: %s", domain.ErrServiceNotFound, name)
	}
	return e, nil
}

// Names returns the registered service names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.names))
	copy(names, r.names)
	return names
}

func (r *Registry) Endpoints() []domain.Endpoint {
	endpoints := make([]domain.Endpoint, 0, len(r.names))
	for _, name := range r.names {
		endpoints = append(endpoints, r.endpoints[name])
	}
	return endpoints
}

func (r *Registry) Len() int {
	return len(r.names)
}
