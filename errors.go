package tagcache

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrBackendUnavailable matches every *BackendError.
	ErrBackendUnavailable = errors.New("tagcache: backend unavailable")

	ErrNoTags      = errors.New("tagcache: callable declares no tags")
	ErrNoPrefix    = errors.New("tagcache: callable declares no prefix")
	ErrArguments   = errors.New("tagcache: arguments do not match signature")
	ErrResultInKey = errors.New("tagcache: key generator read the call result")
	ErrMissing     = errors.New("tagcache: missing placeholder")
	ErrNoAttribute = errors.New("tagcache: no such attribute")
	ErrBadTemplate = errors.New("tagcache: malformed template")
)

// KeyResolutionError reports that a key, tag, prefix or timeout could not be
// produced from the call. It is never recovered by the cache.
type KeyResolutionError struct {
	Spec  string // template, parameter list or generator name
	Field string // offending placeholder, if any
	Err   error
}

func (e *KeyResolutionError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("tagcache: resolve %q: field %q: %v", e.Spec, e.Field, e.Err)
	}
	return fmt.Sprintf("tagcache: resolve %q: %v", e.Spec, e.Err)
}

func (e *KeyResolutionError) Unwrap() error { return e.Err }

// GeneratorSignatureError reports a generator whose signature cannot be used
// with the cached callable. New returns it so the mismatch fails fast.
type GeneratorSignatureError struct {
	Generator string
	Reason    string
}

func (e *GeneratorSignatureError) Error() string {
	return fmt.Sprintf("tagcache: generator %s: %s", e.Generator, e.Reason)
}

// BackendError wraps a failure reported by a backend adapter.
type BackendError struct {
	Op   string
	Keys []string
	Err  error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("tagcache: backend %s [%s]: %v", e.Op, strings.Join(e.Keys, ","), e.Err)
}

func (e *BackendError) Unwrap() []error {
	return []error{ErrBackendUnavailable, e.Err}
}

func backendErr(op string, keys []string, err error) error {
	if err == nil {
		return nil
	}
	return &BackendError{Op: op, Keys: keys, Err: err}
}

// InvalidateError is returned when an explicit invalidation did not reach the
// backend. Stale data may still be served until it expires.
type InvalidateError struct {
	Kind    string // "key", "tags" or "prefix"
	Targets []string
	Err     error
}

func (e *InvalidateError) Error() string {
	return fmt.Sprintf("tagcache: invalidate %s %q: %v", e.Kind, e.Targets, e.Err)
}

func (e *InvalidateError) Unwrap() error { return e.Err }
