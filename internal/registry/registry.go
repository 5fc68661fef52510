package registry

import (
	"fmt"
	"sort"
	"sync"

	"habitat/pkg/errors"
)

// Entry is a registered unit. Name is its canonical identity, shared by all
// aliases that resolve to it.
type Entry struct {
	Name  string
	Value interface{}
}

// Registry maps names to sinks, protocol modules, filters and sensors. It is
// populated at start-up by explicit registration only.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

func New() *Registry {
	return &Registry{
		entries: make(map[string]*Entry),
	}
}

// Register adds value under name and any aliases.
func (r *Registry) Register(name string, value interface{}, aliases ...string) error {
	if name == "" {
		return errors.ErrValidation.WithDetail("message", "registry name cannot be empty")
	}
	if value == nil {
		return errors.ErrValidation.WithDetail("message", fmt.Sprintf("registry entry %q is nil", name))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	names := append([]string{name}, aliases...)
	for _, n := range names {
		if _, exists := r.entries[n]; exists {
			return errors.ErrDuplicate.WithDetail("message", fmt.Sprintf("%q is already registered", n))
		}
	}

	entry := &Entry{Name: name, Value: value}
	for _, n := range names {
		r.entries[n] = entry
	}

	return nil
}

func (r *Registry) MustRegister(name string, value interface{}, aliases ...string) {
	if err := r.Register(name, value, aliases...); err != nil {
		panic(err)
	}
}

func (r *Registry) Lookup(name string) (Entry, error) {
	r.mu.RLock()
	entry, ok := r.entries[name]
	r.mu.RUnlock()

	if !ok {
		return Entry{}, errors.ErrNotFound.WithDetail("message", fmt.Sprintf("%q is not registered", name))
	}
	return *entry, nil
}

// Names lists canonical names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{}, len(r.entries))
	names := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		if _, ok := seen[e.Name]; ok {
			continue
		}
		seen[e.Name] = struct{}{}
		names = append(names, e.Name)
	}
	sort.Strings(names)
	return names
}

// Resolve looks name up and checks it has shape T. A miss is ErrNotFound; a
// hit of another shape is ErrWrongShape.
func Resolve[T any](r *Registry, name string) (T, string, error) {
	var zero T

	entry, err := r.Lookup(name)
	if err != nil {
		return zero, "", err
	}

	v, ok := entry.Value.(T)
	if !ok {
		return zero, entry.Name, errors.ErrWrongShape.WithDetail("message",
			fmt.Sprintf("%q is a %T, not a %T", name, entry.Value, zero))
	}

	return v, entry.Name, nil
}
