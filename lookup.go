package tagcache

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Attributer exposes attributes to templates without reflection. When a value
// implements it, "{self.name}" asks CacheAttr and nothing else.
type Attributer interface {
	CacheAttr(name string) (any, bool)
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// Attr returns the attribute name of v. Lookup order: Attributer, struct
// field by exact name, struct field tagged `cache:"name"`, struct field whose
// name matches case-insensitively, string-keyed map entry, then a zero-argument
// method returning a value or (value, error).
func Attr(v any, name string) (any, error) {
	if a, ok := v.(Attributer); ok {
		if out, ok := a.CacheAttr(name); ok {
			return out, nil
		}
		return nil, fmt.Errorf("%w %q on %T", ErrNoAttribute, name, v)
	}
	if v == nil {
		return nil, fmt.Errorf("%w %q on nil", ErrNoAttribute, name)
	}
	orig := reflect.ValueOf(v)
	rv, ok := indirect(orig)
	if ok {
		switch rv.Kind() {
		case reflect.Struct:
			if f, ok := structField(rv, name); ok {
				return f.Interface(), nil
			}
		case reflect.Map:
			if rv.Type().Key().Kind() == reflect.String {
				mv := rv.MapIndex(reflect.ValueOf(name).Convert(rv.Type().Key()))
				if mv.IsValid() {
					return mv.Interface(), nil
				}
			}
		}
	}
	if out, found, err := callMethod(orig, name); found {
		return out, err
	}
	return nil, fmt.Errorf("%w %q on %T", ErrNoAttribute, name, v)
}

// Index returns v[key] for maps (string or integer keys), slices, arrays and strings.
func Index(v any, key string) (any, error) {
	rv, ok := indirect(reflect.ValueOf(v))
	if !ok {
		return nil, fmt.Errorf("%w [%s] on nil", ErrNoAttribute, key)
	}
	switch rv.Kind() {
	case reflect.Map:
		kt := rv.Type().Key()
		var kv reflect.Value
		switch {
		case kt.Kind() == reflect.String:
			kv = reflect.ValueOf(key).Convert(kt)
		case isInt(kt.Kind()):
			var err error
			if kv, err = intKey(key, kt); err != nil {
				return nil, fmt.Errorf("%w [%s] on %T: %v", ErrNoAttribute, key, v, err)
			}
		default:
			return nil, fmt.Errorf("%w [%s] on %T", ErrNoAttribute, key, v)
		}
		mv := rv.MapIndex(kv)
		if !mv.IsValid() {
			return nil, fmt.Errorf("%w [%s] on %T", ErrNoAttribute, key, v)
		}
		return mv.Interface(), nil
	case reflect.Slice, reflect.Array, reflect.String:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= rv.Len() {
			return nil, fmt.Errorf("%w [%s] on %T", ErrNoAttribute, key, v)
		}
		return rv.Index(i).Interface(), nil
	}
	return nil, fmt.Errorf("%w [%s] on %T", ErrNoAttribute, key, v)
}

func indirect(rv reflect.Value) (reflect.Value, bool) {
	for rv.IsValid() && (rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface) {
		if rv.IsNil() {
			return reflect.Value{}, false
		}
		rv = rv.Elem()
	}
	return rv, rv.IsValid()
}

func structField(rv reflect.Value, name string) (reflect.Value, bool) {
	t := rv.Type()
	if sf, ok := t.FieldByName(name); ok && sf.IsExported() {
		// A field promoted through a nil embedded pointer has no value.
		f, err := rv.FieldByIndexErr(sf.Index)
		return f, err == nil && f.CanInterface()
	}
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		if tag, _, _ := strings.Cut(sf.Tag.Get("cache"), ","); tag == name {
			return rv.Field(i), true
		}
	}
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if sf.IsExported() && strings.EqualFold(sf.Name, name) {
			return rv.Field(i), true
		}
	}
	return reflect.Value{}, false
}

func callMethod(rv reflect.Value, name string) (any, bool, error) {
	if !rv.IsValid() {
		return nil, false, nil
	}
	m := rv.MethodByName(name)
	t := rv.Type()
	if !m.IsValid() {
		for i := 0; i < t.NumMethod(); i++ {
			if strings.EqualFold(t.Method(i).Name, name) {
				m, name = rv.Method(i), t.Method(i).Name
				break
			}
		}
	}
	if !m.IsValid() {
		return nil, false, nil
	}
	// Value-receiver methods cannot be called through a nil pointer.
	if t.Kind() == reflect.Pointer && rv.IsNil() {
		if _, byValue := t.Elem().MethodByName(name); byValue {
			return nil, false, nil
		}
	}
	mt := m.Type()
	if mt.NumIn() != 0 {
		return nil, false, nil
	}
	switch {
	case mt.NumOut() == 1:
		return m.Call(nil)[0].Interface(), true, nil
	case mt.NumOut() == 2 && mt.Out(1) == errorType:
		out := m.Call(nil)
		if err, _ := out[1].Interface().(error); err != nil {
			return nil, true, errors.Join(fmt.Errorf("%w %q", ErrNoAttribute, name), err)
		}
		return out[0].Interface(), true, nil
	}
	return nil, false, nil
}

// intKey parses key as a value of the integer type kt, refusing anything that
// would wrap or truncate.
func intKey(key string, kt reflect.Type) (reflect.Value, error) {
	kv := reflect.New(kt).Elem()
	switch kt.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(key, 10, 64)
		if err != nil {
			return reflect.Value{}, err
		}
		if kv.OverflowUint(n) {
			return reflect.Value{}, fmt.Errorf("%d overflows %s", n, kt)
		}
		kv.SetUint(n)
	default:
		n, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return reflect.Value{}, err
		}
		if kv.OverflowInt(n) {
			return reflect.Value{}, fmt.Errorf("%d overflows %s", n, kt)
		}
		kv.SetInt(n)
	}
	return kv, nil
}

func isInt(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}
