package tagcache

import (
	"fmt"
	"reflect"
	"runtime"
	"strings"
)

// SpecKind tells which variant a KeySpec holds.
type SpecKind uint8

const (
	SpecNone SpecKind = iota
	SpecLiteral
	SpecParams
	SpecGenerator
)

func (k SpecKind) String() string {
	switch k {
	case SpecLiteral:
		return "literal"
	case SpecParams:
		return "params"
	case SpecGenerator:
		return "generator"
	}
	return "none"
}

// CallStyle is how a generator receives the call. It is decided once when the
// spec is built.
type CallStyle uint8

const (
	// StyleCall generators take a single *Call.
	StyleCall CallStyle = iota + 1
	// StyleArgs generators take the callable's own arguments, expanded in
	// parameter order, with the receiver first for methods when they ask for it.
	StyleArgs
)

var (
	callPtrType    = reflect.TypeOf((*Call)(nil))
	stringType     = reflect.TypeOf("")
	stringListType = reflect.TypeOf([]string(nil))
)

// KeySpec describes how a key, a tag or a prefix is derived from a call:
// a literal template, an ordered list of parameter names, or a generator.
// The zero value means "not set".
type KeySpec struct {
	kind  SpecKind
	src   string
	names []string
	tmpl  *template
	err   error

	fn    reflect.Value
	style CallStyle
	multi bool // generator returns []string
	fail  bool // generator returns a trailing error
}

// Literal is a template such as "user:{id}" or "{self.tenant}:{0}".
// A malformed template is reported by New.
func Literal(tmpl string) KeySpec {
	t, err := parseTemplate(tmpl)
	return KeySpec{kind: SpecLiteral, src: tmpl, tmpl: t, err: err}
}

// Params joins the named parameters with KeyDelimiter.
func Params(names ...string) KeySpec {
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = "{" + n + "}"
	}
	src := strings.Join(parts, KeyDelimiter)
	t, err := parseTemplate(src)
	if err == nil && len(names) == 0 {
		err = fmt.Errorf("%w: empty parameter list", ErrBadTemplate)
	}
	return KeySpec{kind: SpecParams, src: src, names: names, tmpl: t, err: err}
}

// Tags builds one Literal spec per template.
func Tags(tmpls ...string) []KeySpec {
	out := make([]KeySpec, len(tmpls))
	for i, t := range tmpls {
		out[i] = Literal(t)
	}
	return out
}

// KeyFunc wraps a generator receiving the call.
func KeyFunc(fn func(*Call) (string, error)) KeySpec {
	return Generator(fn)
}

// TagsFunc wraps a generator producing any number of tags.
func TagsFunc(fn func(*Call) ([]string, error)) KeySpec {
	return Generator(fn)
}

// Generator wraps an arbitrary function. It is either func(*Call) or a
// function mirroring the cached callable's parameters, and it returns a
// string, a []string (tags only) or any value formatted with fmt, optionally
// followed by an error. Shape problems are reported by New as a
// *GeneratorSignatureError.
func Generator(fn any) KeySpec {
	s := KeySpec{kind: SpecGenerator, src: funcName(fn)}
	rv := reflect.ValueOf(fn)
	if !rv.IsValid() || rv.Kind() != reflect.Func || rv.IsNil() {
		s.err = &GeneratorSignatureError{Generator: s.src, Reason: fmt.Sprintf("%T is not a function", fn)}
		return s
	}
	s.fn = rv
	t := rv.Type()
	switch t.NumOut() {
	case 1:
	case 2:
		if t.Out(1) != errorType {
			s.err = &GeneratorSignatureError{Generator: s.src, Reason: "second result must be error"}
			return s
		}
		s.fail = true
	default:
		s.err = &GeneratorSignatureError{Generator: s.src, Reason: "must return a value and an optional error"}
		return s
	}
	s.multi = t.Out(0) == stringListType
	if t.NumIn() == 1 && t.In(0) == callPtrType && !t.IsVariadic() {
		s.style = StyleCall
	} else {
		s.style = StyleArgs
	}
	return s
}

// Kind returns the variant of s.
func (s KeySpec) Kind() SpecKind { return s.kind }

// Style returns how a generator is invoked; zero for non-generators.
func (s KeySpec) Style() CallStyle { return s.style }

// IsZero reports whether s was never set.
func (s KeySpec) IsZero() bool { return s.kind == SpecNone }

// Err returns the construction error of s, if any.
func (s KeySpec) Err() error { return s.err }

func (s KeySpec) String() string {
	switch s.kind {
	case SpecLiteral:
		return fmt.Sprintf("%q", s.src)
	case SpecParams:
		return "params(" + strings.Join(s.names, ",") + ")"
	case SpecGenerator:
		return s.src + "()"
	}
	return "<default>"
}

// dynamic reports whether s can only be resolved after the call.
func (s KeySpec) dynamic(sig Signature) bool {
	switch s.kind {
	case SpecGenerator:
		return true
	case SpecLiteral, SpecParams:
		return s.tmpl != nil && s.tmpl.usesResult() && sig.index(ResultName) < 0
	}
	return false
}

// check validates s against the callable it will be resolved for.
func (s KeySpec) check(sig Signature, role string) error {
	if s.err != nil {
		return s.err
	}
	switch s.kind {
	case SpecParams:
		if sig.Variadic {
			return nil
		}
		for _, n := range s.names {
			if sig.index(n) < 0 && n != ScopeName {
				return fmt.Errorf("%w: %s has no parameter %q", ErrBadTemplate, sig.Path(), n)
			}
		}
	case SpecGenerator:
		if role != "tag" && s.multi {
			return &GeneratorSignatureError{Generator: s.src, Reason: role + " generator must return a single value"}
		}
		if s.style == StyleArgs {
			if _, err := s.argsLayout(sig); err != nil {
				return err
			}
		}
	}
	return nil
}

// argsLayout reports whether a StyleArgs generator receives the receiver
// before the parameters.
func (s KeySpec) argsLayout(sig Signature) (bool, error) {
	t := s.fn.Type()
	n := t.NumIn()
	if t.IsVariadic() {
		n--
	}
	want := len(sig.Params)
	switch {
	case n == want:
		return false, nil
	case n == want+1 && sig.Owner != "":
		return true, nil
	}
	return false, &GeneratorSignatureError{
		Generator: s.src,
		Reason:    fmt.Sprintf("takes %d arguments, %s has %d parameters", n, sig.Path(), want),
	}
}

// invoke runs a generator and returns its outputs as strings.
func (s KeySpec) invoke(c *Call) ([]string, error) {
	var in []reflect.Value
	if s.style == StyleCall {
		in = []reflect.Value{reflect.ValueOf(c)}
	} else {
		var err error
		if in, err = s.expand(c); err != nil {
			return nil, err
		}
	}
	out := s.fn.Call(in)
	if s.fail {
		if err, _ := out[1].Interface().(error); err != nil {
			return nil, err
		}
	}
	v := out[0]
	if s.multi {
		return v.Interface().([]string), nil
	}
	if v.Type() == stringType {
		return []string{v.String()}, nil
	}
	return []string{stringify(v.Interface())}, nil
}

func (s KeySpec) expand(c *Call) ([]reflect.Value, error) {
	withScope, err := s.argsLayout(c.sig)
	if err != nil {
		return nil, err
	}
	t := s.fn.Type()
	var vals []any
	if withScope {
		if !c.hasScope {
			return nil, fmt.Errorf("%w: %s has no receiver", ErrMissing, c.sig.Path())
		}
		vals = append(vals, c.scope)
	}
	for _, p := range c.sig.Params {
		v, ok := c.bound[p]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrMissing, p)
		}
		vals = append(vals, v)
	}
	if t.IsVariadic() && len(c.positional) > len(c.sig.Params) {
		vals = append(vals, c.positional[len(c.sig.Params):]...)
	}
	in := make([]reflect.Value, len(vals))
	for i, v := range vals {
		var pt reflect.Type
		if t.IsVariadic() && i >= t.NumIn()-1 {
			pt = t.In(t.NumIn() - 1).Elem()
		} else {
			pt = t.In(i)
		}
		a, err := coerce(v, pt)
		if err != nil {
			return nil, fmt.Errorf("%w: argument %d of %s: %v", ErrArguments, i, s.src, err)
		}
		in[i] = a
	}
	return in, nil
}

func coerce(v any, t reflect.Type) (reflect.Value, error) {
	if v == nil {
		switch t.Kind() {
		case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
			return reflect.Zero(t), nil
		}
		return reflect.Value{}, fmt.Errorf("nil is not %s", t)
	}
	rv := reflect.ValueOf(v)
	switch {
	case rv.Type().AssignableTo(t):
		return rv, nil
	case rv.Type().ConvertibleTo(t) && rv.Kind() != reflect.String && t.Kind() != reflect.String:
		return rv.Convert(t), nil
	}
	return reflect.Value{}, fmt.Errorf("%s is not %s", rv.Type(), t)
}

func funcName(fn any) string {
	rv := reflect.ValueOf(fn)
	if rv.Kind() != reflect.Func || rv.IsNil() {
		return fmt.Sprintf("%T", fn)
	}
	if f := runtime.FuncForPC(rv.Pointer()); f != nil {
		name := f.Name()
		if i := strings.LastIndexByte(name, '/'); i >= 0 {
			name = name[i+1:]
		}
		return name
	}
	return "generator"
}
