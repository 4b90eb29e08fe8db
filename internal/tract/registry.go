package tract

import "sort"

// Registry tracks which generated index columns are currently live in the
// base geo table. Membership must match column presence exactly: every drop
// unregisters and every attach registers in the same mutation step.
type Registry struct {
	names map[string]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{names: make(map[string]struct{})}
}

// Register records a generated column as live.
func (r *Registry) Register(name string) {
	r.names[name] = struct{}{}
}

// Unregister removes a generated column from the live set.
func (r *Registry) Unregister(name string) {
	delete(r.names, name)
}

// IsRegistered reports whether a generated column is live.
func (r *Registry) IsRegistered(name string) bool {
	_, ok := r.names[name]
	return ok
}

// Names returns the live generated column names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.names))
	for n := range r.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of live generated columns.
func (r *Registry) Len() int {
	return len(r.names)
}
