package tagcache

import (
	"fmt"
	"sort"
	"strings"
)

const (
	// ScopeName addresses the receiver of a method inside templates ("{self.id}").
	ScopeName = "self"
	// ResultName addresses the value returned by the callable ("{result.ID}").
	// Only tag templates may use it.
	ResultName = "result"
)

// Signature describes the cached callable. It stands in for the call
// interception a dynamic language gets for free: parameter names give
// positional arguments a name, Defaults fill parameters the caller omitted.
type Signature struct {
	Package  string         // owning package path or name, e.g. "shop/users"
	Owner    string         // receiver type name; "" for plain functions
	Name     string         // function or method name (required)
	Params   []string       // parameter names in declaration order, receiver excluded
	Defaults map[string]any // default values for trailing parameters
	Variadic bool           // extra positional and unknown keyword arguments are accepted
}

// Path returns the dotted identity of the callable: "pkg.Owner.Name".
func (s Signature) Path() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{s.Package, s.Owner, s.Name} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ".")
}

func (s Signature) index(name string) int {
	for i, p := range s.Params {
		if p == name {
			return i
		}
	}
	return -1
}

// Args are the arguments of one invocation: positional values, keyword values
// and the receiver for methods. The zero value is a call without arguments.
type Args struct {
	Positional []any
	Keyword    map[string]any
	Scope      any
}

// Pos builds Args from positional values.
func Pos(vals ...any) Args { return Args{Positional: vals} }

// KW builds Args holding a single keyword value.
func KW(name string, v any) Args { return Args{}.With(name, v) }

// With returns a copy of a with the keyword name set to v.
func (a Args) With(name string, v any) Args {
	kw := make(map[string]any, len(a.Keyword)+1)
	for k, x := range a.Keyword {
		kw[k] = x
	}
	kw[name] = v
	a.Keyword = kw
	return a
}

// On returns a copy of a bound to the receiver scope.
func (a Args) On(scope any) Args {
	a.Scope = scope
	return a
}

// Call is the snapshot of one invocation that keys, tags, prefixes and
// timeouts are resolved against.
type Call struct {
	sig        Signature
	positional []any
	keyword    map[string]any // caller keywords plus defaults of omitted params
	bound      map[string]any
	scope      any
	hasScope   bool

	result    any
	hasResult bool

	keyPhase   bool
	resultRead bool
}

// Bind maps a onto the signature. Positional values are named by Params,
// keywords must name a parameter unless the signature is Variadic, and
// defaults fill the parameters nobody passed. Missing required parameters are
// not an error here; they fail later if a template needs them.
func (s Signature) Bind(a Args) (*Call, error) {
	if len(a.Positional) > len(s.Params) && !s.Variadic {
		return nil, fmt.Errorf("%w: %s takes %d positional arguments, got %d",
			ErrArguments, s.Path(), len(s.Params), len(a.Positional))
	}
	c := &Call{
		sig:        s,
		positional: a.Positional,
		keyword:    make(map[string]any, len(a.Keyword)+len(s.Defaults)),
		bound:      make(map[string]any, len(s.Params)+len(a.Keyword)+1),
	}
	for i, v := range a.Positional {
		if i < len(s.Params) {
			c.bound[s.Params[i]] = v
		}
	}
	for name, v := range s.Defaults {
		if i := s.index(name); i >= 0 && i < len(a.Positional) {
			continue
		}
		c.keyword[name] = v
	}
	for name, v := range a.Keyword {
		i := s.index(name)
		if i < 0 && !s.Variadic {
			return nil, fmt.Errorf("%w: %s has no parameter %q", ErrArguments, s.Path(), name)
		}
		if i >= 0 && i < len(a.Positional) {
			return nil, fmt.Errorf("%w: %s got multiple values for %q", ErrArguments, s.Path(), name)
		}
		c.keyword[name] = v
	}
	for name, v := range c.keyword {
		c.bound[name] = v
	}
	if a.Scope != nil {
		c.scope, c.hasScope = a.Scope, true
		if _, taken := c.bound[ScopeName]; !taken {
			c.bound[ScopeName] = a.Scope
		}
	}
	return c, nil
}

// Func returns the signature of the cached callable.
func (c *Call) Func() Signature { return c.sig }

// Positional returns the positional arguments as passed. Callers must not modify it.
func (c *Call) Positional() []any { return c.positional }

// Keyword returns keyword arguments merged with defaults of omitted parameters.
// Callers must not modify it.
func (c *Call) Keyword() map[string]any { return c.keyword }

// Bound returns every argument by parameter name. Callers must not modify it.
func (c *Call) Bound() map[string]any { return c.bound }

// Arg returns the i-th positional argument.
func (c *Call) Arg(i int) (any, bool) {
	if i < 0 || i >= len(c.positional) {
		return nil, false
	}
	return c.positional[i], true
}

// Param returns a bound argument by parameter name.
func (c *Call) Param(name string) (any, bool) {
	v, ok := c.bound[name]
	return v, ok
}

// Scope returns the receiver of a method call.
func (c *Call) Scope() (any, bool) { return c.scope, c.hasScope }

// Result returns the value produced by the wrapped callable. It is only set
// after the callable returned, so tag generators may use it but key
// generators may not; a key generator calling Result fails resolution.
func (c *Call) Result() (any, bool) {
	if c.keyPhase {
		c.resultRead = true
	}
	return c.result, c.hasResult
}

func (c *Call) setResult(v any) {
	c.result, c.hasResult = v, true
}

// Lookup evaluates a template field expression such as "a", "0", "self.id",
// "user.Address.City" or "kwargs[a]" against the call.
func (c *Call) Lookup(expr string) (any, error) {
	f, err := parseField(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadTemplate, err)
	}
	v, err := c.field(f)
	if err != nil {
		return nil, &KeyResolutionError{Spec: expr, Err: err}
	}
	return v, nil
}

// defaultKeyParts returns the components of the default key: positional
// arguments followed by keyword values ordered by name.
func (c *Call) defaultKeyParts() []any {
	names := make([]string, 0, len(c.keyword))
	for k := range c.keyword {
		names = append(names, k)
	}
	sort.Strings(names)
	parts := make([]any, 0, 1+len(c.positional)+len(names))
	parts = append(parts, c.sig.Path())
	parts = append(parts, c.positional...)
	for _, k := range names {
		parts = append(parts, c.keyword[k])
	}
	return parts
}

// ParamAs returns the bound argument name converted to T.
func ParamAs[T any](c *Call, name string) (T, error) {
	var zero T
	v, ok := c.Param(name)
	if !ok {
		return zero, fmt.Errorf("%w: %q", ErrMissing, name)
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("tagcache: parameter %q is %T, not %T", name, v, zero)
	}
	return t, nil
}
