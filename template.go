package tagcache

import (
	"fmt"
	"strconv"
	"strings"
)

// template is a parsed key/tag/prefix pattern such as "user:{self.id}:{0}".
type template struct {
	src  string
	segs []segment
}

type segment struct {
	lit  string
	expr string // raw placeholder text; "" for literal segments
	f    field
}

// field is a placeholder: a root name (parameter, positional index, "self",
// "args" or "kwargs") followed by attribute and index accessors.
type field struct {
	root string
	pos  int // positional index when root is numeric, else -1
	path []accessor
}

type accessor struct {
	name  string
	index bool // [name] rather than .name
}

func parseTemplate(src string) (*template, error) {
	t := &template{src: src}
	var lit strings.Builder
	for i := 0; i < len(src); i++ {
		ch := src[i]
		switch ch {
		case '{':
			if i+1 < len(src) && src[i+1] == '{' {
				lit.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(src[i+1:], '}')
			if end < 0 {
				return nil, fmt.Errorf("%w %q: unclosed '{' at %d", ErrBadTemplate, src, i)
			}
			expr := src[i+1 : i+1+end]
			f, err := parseField(expr)
			if err != nil {
				return nil, fmt.Errorf("%w %q: %v", ErrBadTemplate, src, err)
			}
			if lit.Len() > 0 {
				t.segs = append(t.segs, segment{lit: lit.String()})
				lit.Reset()
			}
			t.segs = append(t.segs, segment{expr: expr, f: f})
			i += end + 1
		case '}':
			if i+1 < len(src) && src[i+1] == '}' {
				lit.WriteByte('}')
				i++
				continue
			}
			return nil, fmt.Errorf("%w %q: single '}' at %d", ErrBadTemplate, src, i)
		default:
			lit.WriteByte(ch)
		}
	}
	if lit.Len() > 0 {
		t.segs = append(t.segs, segment{lit: lit.String()})
	}
	return t, nil
}

// static reports whether the template has no placeholders.
func (t *template) static() bool {
	for _, s := range t.segs {
		if s.expr != "" {
			return false
		}
	}
	return true
}

// roots returns the root names referenced by placeholders.
func (t *template) roots() []string {
	var out []string
	for _, s := range t.segs {
		if s.expr != "" {
			out = append(out, s.f.root)
		}
	}
	return out
}

// usesResult reports whether the template can only be rendered after the call.
func (t *template) usesResult() bool {
	for _, r := range t.roots() {
		if r == ResultName {
			return true
		}
	}
	return false
}

// Render formats tmpl against c. It is the function used for Literal specs.
func Render(tmpl string, c *Call) (string, error) {
	t, err := parseTemplate(tmpl)
	if err != nil {
		return "", err
	}
	return t.render(c)
}

func (t *template) render(c *Call) (string, error) {
	var b strings.Builder
	for _, s := range t.segs {
		if s.expr == "" {
			b.WriteString(s.lit)
			continue
		}
		v, err := c.field(s.f)
		if err != nil {
			return "", &KeyResolutionError{Spec: t.src, Field: s.expr, Err: err}
		}
		b.WriteString(stringify(v))
	}
	return b.String(), nil
}

func parseField(expr string) (field, error) {
	f := field{pos: -1}
	if expr == "" {
		return f, fmt.Errorf("empty placeholder")
	}
	i := 0
	for i < len(expr) && expr[i] != '.' && expr[i] != '[' {
		i++
	}
	f.root = strings.TrimSpace(expr[:i])
	if f.root == "" {
		return f, fmt.Errorf("placeholder %q has no name", expr)
	}
	if n, err := strconv.Atoi(f.root); err == nil {
		if n < 0 {
			return f, fmt.Errorf("placeholder %q: negative index", expr)
		}
		f.pos = n
	}
	for i < len(expr) {
		switch expr[i] {
		case '.':
			j := i + 1
			for j < len(expr) && expr[j] != '.' && expr[j] != '[' {
				j++
			}
			if j == i+1 {
				return f, fmt.Errorf("placeholder %q: empty attribute", expr)
			}
			f.path = append(f.path, accessor{name: expr[i+1 : j]})
			i = j
		case '[':
			end := strings.IndexByte(expr[i:], ']')
			if end < 0 {
				return f, fmt.Errorf("placeholder %q: unclosed '['", expr)
			}
			key := strings.Trim(expr[i+1:i+end], `"'`)
			if key == "" {
				return f, fmt.Errorf("placeholder %q: empty index", expr)
			}
			f.path = append(f.path, accessor{name: key, index: true})
			i += end + 1
		default:
			return f, fmt.Errorf("placeholder %q: unexpected %q", expr, expr[i])
		}
	}
	return f, nil
}

// field resolves a placeholder. Numeric roots address positional arguments;
// names are looked up in the bound map first, then the reserved namespaces.
func (c *Call) field(f field) (any, error) {
	var v any
	switch {
	case f.pos >= 0:
		x, ok := c.Arg(f.pos)
		if !ok {
			return nil, fmt.Errorf("%w: positional argument %d", ErrMissing, f.pos)
		}
		v = x
	default:
		if x, ok := c.bound[f.root]; ok {
			v = x
			break
		}
		switch f.root {
		case ScopeName:
			if !c.hasScope {
				return nil, fmt.Errorf("%w: %s has no receiver", ErrMissing, c.sig.Path())
			}
			v = c.scope
		case "args":
			v = c.positional
		case "kwargs":
			v = c.keyword
		case ResultName:
			if c.keyPhase {
				return nil, ErrResultInKey
			}
			if !c.hasResult {
				return nil, fmt.Errorf("%w: result is not available before the call", ErrMissing)
			}
			v = c.result
		default:
			return nil, fmt.Errorf("%w: %q", ErrMissing, f.root)
		}
	}
	for _, a := range f.path {
		var err error
		if a.index {
			v, err = Index(v, a.name)
		} else {
			v, err = Attr(v, a.name)
		}
		if err != nil {
			return nil, err
		}
	}
	return v, nil
}
