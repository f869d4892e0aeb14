package tagcache

import (
	"github.com/unkn0wn-root/tagcache/backend"
	"github.com/unkn0wn-root/tagcache/codec"
)

// withDefaults fills the collaborators a caller left unset.
func withDefaults[V any](opts Options[V]) Options[V] {
	opts.Logger = coalesce[Logger](opts.Logger, NopLogger{})
	opts.Hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	if opts.Codec == nil {
		opts.Codec = codec.JSON[V]{}
	}
	if opts.Registry == nil {
		opts.Registry = backend.Global()
	}
	return opts
}

// coalesce returns def when v is the zero value of T.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
