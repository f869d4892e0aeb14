package tagcache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/unkn0wn-root/tagcache/backend"
	"github.com/unkn0wn-root/tagcache/codec"
	"github.com/unkn0wn-root/tagcache/internal/wire"
	"github.com/unkn0wn-root/tagcache/tagstore"
)

// Cached is a read-through cache around one callable.
//
// A call resolves its key (and prefix), reads the stored entry together with
// the tokens of every statically known tag in one batch, and returns the
// stored value only if every token embedded in the entry still matches.
// Otherwise the callable runs, tags are resolved again with the result
// available, missing tokens are minted and the entry is written.
//
// Concurrent misses on the same key all compute and overwrite; there is no
// single-flight. Safe for concurrent use.
type Cached[V any] struct {
	sig     Signature
	fn      Func[V]
	res     *resolver
	codec   codec.Codec[V]
	log     Logger
	hooks   Hooks
	enabled bool

	tagOpts tagstore.Options
	alias   string
	reg     *backend.Registry
	lazy    bool

	mu   sync.Mutex
	bind *binding // fixed backend or memoized alias lookup
}

type binding struct {
	b    backend.Backend
	tags *tagstore.Store
}

func newCached[V any](sig Signature, fn Func[V], opts Options[V]) (*Cached[V], error) {
	if fn == nil {
		return nil, fmt.Errorf("tagcache: func is required")
	}
	opts = withDefaults(opts)
	res, err := newResolver(sig, opts.Key, opts.Tags, opts.Prefix)
	if err != nil {
		return nil, err
	}
	res.timeout = opts.Timeout
	res.timeoutFn = opts.TimeoutFunc

	c := &Cached[V]{
		sig:     sig,
		fn:      fn,
		res:     res,
		enabled: !opts.Disabled,
		tagOpts: tagstore.Options{Prefix: opts.TagPrefix, TTL: opts.TagTTL},
		alias:   opts.Alias,
		reg:     opts.Registry,
		lazy:    opts.Lazy,
		log:     opts.Logger,
		hooks:   opts.Hooks,
		codec:   opts.Codec,
	}
	if opts.Backend != nil {
		c.bind = &binding{b: opts.Backend, tags: tagstore.New(opts.Backend, c.tagOpts)}
		c.lazy = false
	}
	return c, nil
}

// Enabled reports whether the cache is consulted at all.
func (c *Cached[V]) Enabled() bool { return c.enabled }

// Signature returns the callable the cache was built for.
func (c *Cached[V]) Signature() Signature { return c.sig }

// Do returns the cached value for the call described by a, computing and
// storing it on a miss. Backend read failures count as misses and write
// failures are logged; only errors of the callable and resolution errors are
// returned.
func (c *Cached[V]) Do(ctx context.Context, a Args) (V, error) {
	return c.run(ctx, a, false)
}

// Refresh runs the callable unconditionally and overwrites the stored entry.
func (c *Cached[V]) Refresh(ctx context.Context, a Args) (V, error) {
	return c.run(ctx, a, true)
}

func (c *Cached[V]) run(ctx context.Context, a Args, refresh bool) (V, error) {
	var zero V
	call, err := c.sig.Bind(a)
	if err != nil {
		return zero, err
	}
	if !c.enabled {
		return c.fn(ctx, call)
	}
	key, prefix, err := c.res.resolveKey(call)
	if err != nil {
		return zero, err
	}
	bd, err := c.backend()
	if err != nil {
		return zero, err
	}
	if !refresh {
		static, err := c.res.staticTags(call)
		if err != nil {
			return zero, err
		}
		if v, ok := c.read(ctx, bd, key, prefix, static); ok {
			return v, nil
		}
	} else {
		c.log.Debug("refresh", Fields{"key": key})
	}

	v, err := c.fn(ctx, call)
	if err != nil {
		return zero, err
	}
	call.setResult(v)
	tags, err := c.res.allTags(call)
	if err != nil {
		return zero, err
	}
	ttl, err := c.res.ttl(call)
	if err != nil {
		return zero, err
	}
	c.write(ctx, bd, key, prefix, tags, v, ttl)
	return v, nil
}

// read returns the stored value if it is present and fresh.
func (c *Cached[V]) read(ctx context.Context, bd *binding, key, prefix string, static []string) (V, bool) {
	var zero V
	anchors := static
	if prefix != "" {
		anchors = appendUnique(append([]string(nil), static...), prefix)
	}

	var (
		raw    []byte
		found  bool
		tokens map[string]string
	)
	if len(anchors) == 0 {
		var err error
		raw, found, err = bd.b.Get(ctx, key)
		if err != nil {
			c.readFailed("get", key, []string{key}, err)
			return zero, false
		}
	} else {
		keys := append([]string{key}, bd.tags.Keys(anchors)...)
		m, err := bd.b.GetMany(ctx, keys)
		if err != nil {
			c.readFailed("get_many", key, keys, err)
			return zero, false
		}
		raw, found = m[key]
		tokens = bd.tags.Tokens(m, anchors)
	}
	if !found {
		return zero, c.miss(key, MissAbsent)
	}

	e, err := wire.Decode(raw)
	if err != nil {
		c.heal(ctx, bd, key)
		return zero, c.miss(key, MissCorrupt)
	}
	if e.Codec != c.codec.Name() {
		return zero, c.miss(key, MissCodec)
	}

	embedded := e.Tags
	if e.Prefix != nil {
		embedded = append(append([]wire.Token(nil), e.Tags...), *e.Prefix)
	}
	if prefix != "" && (e.Prefix == nil || e.Prefix.Name != prefix) {
		return zero, c.miss(key, MissTagMismatch)
	}
	have := e.TagMap()
	for _, t := range static {
		if _, ok := have[t]; !ok {
			return zero, c.miss(key, MissTagMismatch)
		}
	}

	// Tags that were only known after the call are not prefetched.
	var extra []string
	for _, t := range embedded {
		if !contains(anchors, t.Name) {
			extra = appendUnique(extra, t.Name)
		}
	}
	if len(extra) > 0 {
		more, err := bd.tags.Current(ctx, extra)
		if err != nil {
			c.readFailed("get_many", key, bd.tags.Keys(extra), err)
			return zero, false
		}
		if tokens == nil {
			tokens = make(map[string]string, len(more))
		}
		for t, tok := range more {
			tokens[t] = tok
		}
	}
	for _, t := range embedded {
		cur, ok := tokens[t.Name]
		if !ok {
			return zero, c.miss(key, MissTagMissing)
		}
		if cur != t.Value {
			return zero, c.miss(key, MissTagMismatch)
		}
	}

	v, err := c.codec.Decode(e.Payload)
	if err != nil {
		c.heal(ctx, bd, key)
		return zero, c.miss(key, MissDecode)
	}
	c.log.Debug("hit", Fields{"key": key})
	c.hooks.Hit(key)
	return v, true
}

// write anchors the entry to the current token of every tag (minting the
// ones that do not exist yet) and stores it. Failures are logged, never
// returned: the caller already has its value.
func (c *Cached[V]) write(ctx context.Context, bd *binding, key, prefix string, tags []string, v V, ttl time.Duration) {
	anchors := tags
	if prefix != "" {
		anchors = appendUnique(append([]string(nil), tags...), prefix)
	}
	payload, err := c.codec.Encode(v)
	if err != nil {
		c.log.Error("encode failed; value not cached", Fields{"key": key, "codec": c.codec.Name(), "err": err})
		return
	}
	var tokens map[string]string
	if len(anchors) > 0 {
		tokens, err = bd.tags.Ensure(ctx, anchors)
		if err != nil {
			c.writeFailed("ensure_tags", key, bd.tags.Keys(anchors), err)
			return
		}
	}

	e := wire.Entry{Codec: c.codec.Name(), Payload: payload}
	for _, t := range tags {
		e.Tags = append(e.Tags, wire.Token{Name: t, Value: tokens[t]})
	}
	if prefix != "" {
		e.Prefix = &wire.Token{Name: prefix, Value: tokens[prefix]}
	}
	b, err := wire.Encode(e)
	if err != nil {
		c.log.Error("entry encode failed; value not cached", Fields{"key": key, "err": err})
		return
	}
	if err := bd.b.Set(ctx, key, b, ttl); err != nil {
		c.writeFailed("set", key, []string{key}, err)
		return
	}
	c.log.Debug("stored", Fields{"key": key, "tags": len(tags), "ttl": ttl})
}

func (c *Cached[V]) miss(key, reason string) bool {
	c.log.Debug("miss", Fields{"key": key, "reason": reason})
	c.hooks.Miss(key, reason)
	return false
}

// readFailed reports a degraded read of the entry stored under key; keys are
// the storage keys of the failed request.
func (c *Cached[V]) readFailed(op, key string, keys []string, err error) {
	err = backendErr(op, keys, err)
	c.log.Warn("backend read failed; treating as miss", Fields{"op": op, "key": key, "keys": len(keys), "err": err})
	c.hooks.BackendReadError(op, len(keys), err)
	c.hooks.Miss(key, MissReadError)
}

func (c *Cached[V]) writeFailed(op, key string, keys []string, err error) {
	if errors.Is(err, backend.ErrRejected) {
		c.log.Debug("write rejected by backend (pressure)", Fields{"op": op, "key": key})
		c.hooks.WriteRejected(key)
		return
	}
	err = backendErr(op, keys, err)
	c.log.Error("backend write failed; value not cached", Fields{"op": op, "key": key, "err": err})
	c.hooks.BackendWriteError(key, err)
}

// heal drops an entry that can never be served.
func (c *Cached[V]) heal(ctx context.Context, bd *binding, key string) {
	if err := bd.b.Delete(ctx, key); err != nil {
		c.log.Debug("self-heal delete failed", Fields{"key": key, "err": err})
	}
}

// backend returns the adapter and tag store for this call. An explicit
// Backend is fixed at New; an alias is looked up once and memoized unless
// Lazy is set.
func (c *Cached[V]) backend() (*binding, error) {
	if c.lazy {
		b, err := c.reg.Lookup(c.alias)
		if err != nil {
			return nil, err
		}
		return &binding{b: b, tags: tagstore.New(b, c.tagOpts)}, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bind != nil {
		return c.bind, nil
	}
	b, err := c.reg.Lookup(c.alias)
	if err != nil {
		return nil, err
	}
	c.bind = &binding{b: b, tags: tagstore.New(b, c.tagOpts)}
	return c.bind, nil
}

// InvalidateByKey deletes the entry the call described by a would read.
func (c *Cached[V]) InvalidateByKey(ctx context.Context, a Args) error {
	call, err := c.sig.Bind(a)
	if err != nil {
		return err
	}
	key, _, err := c.res.resolveKey(call)
	if err != nil {
		return err
	}
	bd, err := c.backend()
	if err != nil {
		return err
	}
	if err := bd.b.Delete(ctx, key); err != nil {
		return &InvalidateError{Kind: "key", Targets: []string{key}, Err: backendErr("delete", []string{key}, err)}
	}
	c.log.Debug("invalidated key", Fields{"key": key})
	return nil
}

// InvalidateByTags mints fresh tokens for tags, each rendered as a template
// against the call described by a. With no tags it invalidates every tag the
// callable declares, resolved without a result.
func (c *Cached[V]) InvalidateByTags(ctx context.Context, tags []string, a Args) error {
	if !c.res.hasTags() {
		return ErrNoTags
	}
	call, err := c.sig.Bind(a)
	if err != nil {
		return err
	}
	var names []string
	if len(tags) == 0 {
		if names, err = c.res.declaredTags(call); err != nil {
			return err
		}
	} else {
		for _, t := range tags {
			name, err := Render(t, call)
			if err != nil {
				return err
			}
			names = appendUnique(names, name)
		}
	}
	return c.mint(ctx, "tags", names)
}

// InvalidateByPrefix mints a fresh token for the prefix of the call described
// by a. Every entry written under that prefix becomes stale; nothing is deleted.
func (c *Cached[V]) InvalidateByPrefix(ctx context.Context, a Args) error {
	if c.res.prefix.IsZero() {
		return ErrNoPrefix
	}
	call, err := c.sig.Bind(a)
	if err != nil {
		return err
	}
	prefix, err := c.res.resolvePrefix(call)
	if err != nil {
		return err
	}
	return c.mint(ctx, "prefix", []string{prefix})
}

func (c *Cached[V]) mint(ctx context.Context, kind string, names []string) error {
	if len(names) == 0 {
		return nil
	}
	bd, err := c.backend()
	if err != nil {
		return err
	}
	if _, err := bd.tags.Mint(ctx, names); err != nil {
		return &InvalidateError{Kind: kind, Targets: names, Err: backendErr("set_many", bd.tags.Keys(names), err)}
	}
	c.log.Debug("invalidated "+kind, Fields{"tags": names})
	c.hooks.TagsMinted(names)
	return nil
}

func (c *Cached[V]) String() string {
	tags := make([]string, 0, len(c.res.static)+len(c.res.dynamic))
	for _, t := range c.res.static {
		tags = append(tags, t.String())
	}
	for _, t := range c.res.dynamic {
		tags = append(tags, t.String())
	}
	timeout := c.res.timeout.String()
	if c.res.timeoutFn != nil {
		timeout = funcName(c.res.timeoutFn) + "()"
	}
	prefix := ""
	if !c.res.prefix.IsZero() {
		prefix = c.res.prefix.String()
	}
	return fmt.Sprintf("<Cached: callable=%q key=%s tags=[%s] prefix=%s timeout=%s>",
		c.sig.Path(), c.res.key, strings.Join(tags, " "), prefix, timeout)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
