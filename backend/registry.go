package backend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// DefaultAlias is the alias designated as default until SetDefault picks another.
const DefaultAlias = "default"

var (
	ErrUnknownAlias = errors.New("backend: unknown alias")
	ErrNilBackend   = errors.New("backend: nil backend")
)

// Registry maps alias names to backends. It is process-local: nothing is
// propagated to other processes and there is no implicit teardown.
type Registry struct {
	mu  sync.RWMutex
	m   map[string]Backend
	def string
}

func NewRegistry() *Registry {
	return &Registry{m: make(map[string]Backend), def: DefaultAlias}
}

var global = NewRegistry()

// Global returns the process-wide registry used when no registry is configured.
func Global() *Registry { return global }

// Register binds alias to b, replacing any previous binding.
func (r *Registry) Register(alias string, b Backend) error {
	if b == nil {
		return ErrNilBackend
	}
	if alias == "" {
		alias = DefaultAlias
	}
	r.mu.Lock()
	r.m[alias] = b
	r.mu.Unlock()
	return nil
}

// SetDefault designates alias as the default one. The alias must be registered.
func (r *Registry) SetDefault(alias string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[alias]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAlias, alias)
	}
	r.def = alias
	return nil
}

// DefaultAlias returns the alias currently designated as default.
func (r *Registry) DefaultAlias() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.def
}

// Lookup returns the backend for alias; "" means the default alias.
func (r *Registry) Lookup(alias string) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if alias == "" {
		alias = r.def
	}
	b, ok := r.m[alias]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlias, alias)
	}
	return b, nil
}

// Unregister drops alias. Unregistering the default alias resets the default
// to DefaultAlias.
func (r *Registry) Unregister(alias string) {
	r.mu.Lock()
	delete(r.m, alias)
	if r.def == alias {
		r.def = DefaultAlias
	}
	r.mu.Unlock()
}

// Aliases returns registered aliases in sorted order.
func (r *Registry) Aliases() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.m))
	for a := range r.m {
		out = append(out, a)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Close closes every distinct registered backend and empties the registry.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	seen := make(map[Backend]struct{}, len(r.m))
	var errs []error
	for alias, b := range r.m {
		if _, dup := seen[b]; !dup {
			seen[b] = struct{}{}
			if err := b.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("close %q: %w", alias, err))
			}
		}
		delete(r.m, alias)
	}
	r.def = DefaultAlias
	r.mu.Unlock()
	return errors.Join(errs...)
}
