package workflow

import (
	"fmt"
	"sort"
	"sync"
)

// VariableHandlerFactory creates the handler registered under a key.
type VariableHandlerFactory func() (VariableHandler, error)

// Registry maps the names used in serialized definitions to service object
// and variable handler factories. Names are resolved once, when a definition
// is decoded.
type Registry struct {
	mu       sync.RWMutex
	services map[string]ServiceObjectFactory
	handlers map[string]VariableHandlerFactory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		services: make(map[string]ServiceObjectFactory),
		handlers: make(map[string]VariableHandlerFactory),
	}
}

// RegisterServiceObject registers factory under name, replacing any previous one.
func (r *Registry) RegisterServiceObject(name string, factory ServiceObjectFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[name] = factory
}

// RegisterVariableHandler registers factory under name, replacing any previous one.
func (r *Registry) RegisterVariableHandler(name string, factory VariableHandlerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = factory
}

// ServiceObject returns the factory registered under name.
func (r *Registry) ServiceObject(name string) (ServiceObjectFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.services[name]
	return f, ok
}

// VariableHandler creates the handler registered under name.
func (r *Registry) VariableHandler(name string) (VariableHandler, error) {
	r.mu.RLock()
	f, ok := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrVariableHandlerNotFound, name)
	}
	return f()
}

// ServiceObjects returns the registered service object names, sorted.
func (r *Registry) ServiceObjects() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
