package tagcache

import (
	"errors"
	"fmt"
	"time"
)

// resolver is the compiled form of the key, tag, prefix and timeout specs of
// one cached callable. It is immutable after New.
type resolver struct {
	sig       Signature
	key       KeySpec
	prefix    KeySpec
	static    []KeySpec // resolvable before the call
	dynamic   []KeySpec // need the result
	timeout   time.Duration
	timeoutFn func(*Call) (time.Duration, error)
}

func newResolver(sig Signature, key KeySpec, tags []KeySpec, prefix KeySpec) (*resolver, error) {
	if sig.Name == "" {
		return nil, fmt.Errorf("tagcache: signature name is required")
	}
	r := &resolver{sig: sig, key: key, prefix: prefix}
	for _, s := range []struct {
		spec KeySpec
		role string
	}{{key, "key"}, {prefix, "prefix"}} {
		if s.spec.IsZero() {
			continue
		}
		if err := s.spec.check(sig, s.role); err != nil {
			return nil, err
		}
		if s.spec.kind != SpecGenerator && s.spec.dynamic(sig) {
			return nil, &KeyResolutionError{Spec: s.spec.src, Field: ResultName, Err: ErrResultInKey}
		}
	}
	for _, t := range tags {
		if t.IsZero() {
			continue
		}
		if err := t.check(sig, "tag"); err != nil {
			return nil, err
		}
		if t.dynamic(sig) {
			r.dynamic = append(r.dynamic, t)
		} else {
			r.static = append(r.static, t)
		}
	}
	return r, nil
}

func (r *resolver) hasTags() bool { return len(r.static)+len(r.dynamic) > 0 }

// resolveKey returns the storage key (prefix prepended) and the prefix name.
// Both are known before the call; neither may depend on the result.
func (r *resolver) resolveKey(c *Call) (key, prefix string, err error) {
	c.keyPhase = true
	defer func() { c.keyPhase = false }()

	if r.key.IsZero() {
		key = CreateKey(c.defaultKeyParts())
	} else if key, err = r.keyPhaseOne(r.key, c); err != nil {
		return "", "", err
	}
	if prefix, err = r.resolvePrefix(c); err != nil {
		return "", "", err
	}
	if prefix != "" {
		key = CreateKey(prefix, key)
	}
	return key, prefix, nil
}

// resolvePrefix returns "" when no prefix is declared.
func (r *resolver) resolvePrefix(c *Call) (string, error) {
	if r.prefix.IsZero() {
		return "", nil
	}
	c.keyPhase = true
	defer func() { c.keyPhase = false }()
	return r.keyPhaseOne(r.prefix, c)
}

func (r *resolver) keyPhaseOne(s KeySpec, c *Call) (string, error) {
	c.resultRead = false
	v, err := Resolve(s, c)
	if err == nil && c.resultRead {
		err = &KeyResolutionError{Spec: s.String(), Err: ErrResultInKey}
	}
	return v, err
}

// staticTags resolves the tags that are knowable before the call.
func (r *resolver) staticTags(c *Call) ([]string, error) {
	return r.collect(c, r.static, nil)
}

// allTags resolves every declared tag. c must carry the result.
func (r *resolver) allTags(c *Call) ([]string, error) {
	out, err := r.collect(c, r.static, nil)
	if err != nil {
		return nil, err
	}
	return r.collect(c, r.dynamic, out)
}

// declaredTags resolves every declared tag without a result. Dynamic tags
// whose resolution needs the result are skipped.
func (r *resolver) declaredTags(c *Call) ([]string, error) {
	out, err := r.collect(c, r.static, nil)
	if err != nil {
		return nil, err
	}
	for _, s := range r.dynamic {
		tags, err := ResolveTags(s, c)
		if errors.Is(err, ErrMissing) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = appendUnique(out, tags...)
	}
	return out, nil
}

func (r *resolver) collect(c *Call, specs []KeySpec, out []string) ([]string, error) {
	for _, s := range specs {
		tags, err := ResolveTags(s, c)
		if err != nil {
			return nil, err
		}
		out = appendUnique(out, tags...)
	}
	return out, nil
}

func (r *resolver) ttl(c *Call) (time.Duration, error) {
	if r.timeoutFn == nil {
		return r.timeout, nil
	}
	d, err := r.timeoutFn(c)
	if err != nil {
		return 0, &KeyResolutionError{Spec: "timeout", Err: err}
	}
	return d, nil
}

// Resolve renders a key or prefix spec against c. A zero spec resolves to the
// default key of the call.
func Resolve(s KeySpec, c *Call) (string, error) {
	switch s.kind {
	case SpecNone:
		return CreateKey(c.defaultKeyParts()), nil
	case SpecLiteral, SpecParams:
		if s.err != nil {
			return "", s.err
		}
		return s.tmpl.render(c)
	}
	out, err := runGenerator(s, c)
	if err != nil {
		return "", err
	}
	if len(out) != 1 {
		return "", &KeyResolutionError{Spec: s.String(), Err: fmt.Errorf("generator returned %d values, want 1", len(out))}
	}
	return out[0], nil
}

// ResolveTags renders a tag spec against c. Generators may yield any number
// of tags; empty names are dropped.
func ResolveTags(s KeySpec, c *Call) ([]string, error) {
	if s.kind != SpecGenerator {
		if s.kind == SpecNone {
			return nil, nil
		}
		t, err := Resolve(s, c)
		if err != nil {
			return nil, err
		}
		return []string{t}, nil
	}
	out, err := runGenerator(s, c)
	if err != nil {
		return nil, err
	}
	return appendUnique(nil, out...), nil
}

func runGenerator(s KeySpec, c *Call) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	out, err := s.invoke(c)
	if err != nil {
		var kre *KeyResolutionError
		if errors.As(err, &kre) {
			return nil, err
		}
		return nil, &KeyResolutionError{Spec: s.String(), Err: err}
	}
	return out, nil
}

func appendUnique(dst []string, vals ...string) []string {
	for _, v := range vals {
		if v == "" {
			continue
		}
		dup := false
		for _, d := range dst {
			if d == v {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, v)
		}
	}
	return dst
}
