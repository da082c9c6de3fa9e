package project

import (
	"fmt"
	"sync"
)

// Registry manages the collection of loaded projects in configuration order.
// Every project given to NewRegistry is kept in All, including ones whose
// name repeats, so Validate can still report the duplicate.
type Registry struct {
	mu       sync.RWMutex
	order    []*Project
	projects map[string]*Project
}

// NewRegistry creates a new project registry
func NewRegistry(projects []*Project) *Registry {
	r := &Registry{
		order:    make([]*Project, 0, len(projects)),
		projects: make(map[string]*Project, len(projects)),
	}
	for _, p := range projects {
		r.order = append(r.order, p)
		r.projects[p.Name] = p
	}
	return r
}

// Get retrieves a project by name
func (r *Registry) Get(name string) (*Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	project, exists := r.projects[name]
	if !exists {
		return nil, fmt.Errorf("project '%s' not found", name)
	}

	return project, nil
}

// All returns the projects in configuration order.
func (r *Registry) All() []*Project {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Project, len(r.order))
	copy(out, r.order)
	return out
}

// List returns all project names in configuration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.order))
	for _, p := range r.order {
		names = append(names, p.Name)
	}

	return names
}

// Count returns the number of projects
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.order)
}
