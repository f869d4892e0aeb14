package tagcache

import (
	"context"
	"time"

	"github.com/unkn0wn-root/tagcache/backend"
	"github.com/unkn0wn-root/tagcache/codec"
)

// Func is the computation being cached. It reads its arguments from c.
type Func[V any] func(ctx context.Context, c *Call) (V, error)

// Options tune one cached callable.
// Nothing is required; the zero value caches under the default key in the
// registry's default backend with the JSON codec.
type Options[V any] struct {
	Key    KeySpec   // zero => "<pkg.Owner.Name>:<positional...>:<keyword values by name...>"
	Tags   []KeySpec // Literal/Params tags are read with the value; generators only on write
	Prefix KeySpec   // prepended to the key and anchored like a tag

	Timeout     time.Duration                      // backend.DefaultTTL (0) => backend default; backend.NoExpiry => never
	TimeoutFunc func(*Call) (time.Duration, error) // wins over Timeout; sees the result

	Backend  backend.Backend   // explicit adapter; wins over Alias
	Alias    string            // registry alias; "" => registry default
	Registry *backend.Registry // nil => backend.Global()
	Lazy     bool              // look the alias up on every call instead of once

	Codec     codec.Codec[V] // nil => codec.JSON[V]
	TagPrefix string         // "" => "tag"
	TagTTL    time.Duration  // expiry of tag tokens; backend.DefaultTTL by default

	Logger   Logger // if nil, NopLogger is used
	Hooks    Hooks  // if nil, NopHooks is used
	Disabled bool   // call straight through; nothing is read or written
}

// New compiles the specs in opts against sig and wraps fn. Malformed
// templates, unknown parameters and generators that cannot be called with
// the callable's arguments are reported here rather than on the first call.
func New[V any](sig Signature, fn Func[V], opts Options[V]) (*Cached[V], error) {
	return newCached(sig, fn, opts)
}

// MustNew is New that panics on error. Handy for package-level declarations.
func MustNew[V any](sig Signature, fn Func[V], opts Options[V]) *Cached[V] {
	c, err := New(sig, fn, opts)
	if err != nil {
		panic(err)
	}
	return c
}
