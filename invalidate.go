package tagcache

import (
	"context"

	"github.com/unkn0wn-root/tagcache/backend"
	"github.com/unkn0wn-root/tagcache/tagstore"
)

// Target selects the backend a free invalidation operates on.
type Target func(*target)

type target struct {
	b         backend.Backend
	alias     string
	reg       *backend.Registry
	tagPrefix string
}

// WithBackend targets an adapter directly.
func WithBackend(b backend.Backend) Target { return func(t *target) { t.b = b } }

// WithAlias targets a registered alias instead of the registry default.
func WithAlias(alias string) Target { return func(t *target) { t.alias = alias } }

// WithRegistry resolves aliases in r instead of backend.Global().
func WithRegistry(r *backend.Registry) Target { return func(t *target) { t.reg = r } }

// WithTagPrefix matches a cache configured with Options.TagPrefix.
func WithTagPrefix(p string) Target { return func(t *target) { t.tagPrefix = p } }

func resolveTarget(opts []Target) (backend.Backend, error) {
	t := target{}
	for _, o := range opts {
		o(&t)
	}
	if t.b != nil {
		return t.b, nil
	}
	if t.reg == nil {
		t.reg = backend.Global()
	}
	return t.reg.Lookup(t.alias)
}

func tagPrefixOf(opts []Target) string {
	t := target{}
	for _, o := range opts {
		o(&t)
	}
	return t.tagPrefix
}

// InvalidateKey deletes a literal storage key.
func InvalidateKey(ctx context.Context, key string, opts ...Target) error {
	b, err := resolveTarget(opts)
	if err != nil {
		return err
	}
	if err := b.Delete(ctx, key); err != nil {
		return &InvalidateError{Kind: "key", Targets: []string{key}, Err: backendErr("delete", []string{key}, err)}
	}
	return nil
}

// InvalidateTag mints a fresh token for one tag.
func InvalidateTag(ctx context.Context, tag string, opts ...Target) error {
	return InvalidateTags(ctx, []string{tag}, opts...)
}

// InvalidateTags mints fresh tokens for tags in one batched write.
func InvalidateTags(ctx context.Context, tags []string, opts ...Target) error {
	return mintTags(ctx, "tags", tags, opts)
}

// InvalidatePrefix stales every entry written under prefix. A prefix shares
// the tag keyspace, so this is InvalidateTag under another name.
func InvalidatePrefix(ctx context.Context, prefix string, opts ...Target) error {
	return mintTags(ctx, "prefix", []string{prefix}, opts)
}

func mintTags(ctx context.Context, kind string, tags []string, opts []Target) error {
	tags = appendUnique(nil, tags...)
	if len(tags) == 0 {
		return nil
	}
	b, err := resolveTarget(opts)
	if err != nil {
		return err
	}
	st := tagstore.New(b, tagstore.Options{Prefix: tagPrefixOf(opts)})
	if _, err := st.Mint(ctx, tags); err != nil {
		return &InvalidateError{Kind: kind, Targets: tags, Err: backendErr("set_many", st.Keys(tags), err)}
	}
	return nil
}

// RegisterBackend adds b to the process-wide registry under alias.
func RegisterBackend(alias string, b backend.Backend) error {
	return backend.Global().Register(alias, b)
}

// SetDefaultBackend registers b as the process-wide default backend.
func SetDefaultBackend(b backend.Backend) error {
	g := backend.Global()
	if err := g.Register(backend.DefaultAlias, b); err != nil {
		return err
	}
	return g.SetDefault(backend.DefaultAlias)
}

// DefaultBackend returns the process-wide default backend.
func DefaultBackend() (backend.Backend, error) {
	return backend.Global().Lookup("")
}
