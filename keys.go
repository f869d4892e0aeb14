package tagcache

import (
	"fmt"
	"strings"

	"github.com/unkn0wn-root/tagcache/tagstore"
)

// KeyDelimiter joins key components.
const KeyDelimiter = ":"

// CreateKey joins parts into one canonical key using KeyDelimiter. It is the
// same function the cache uses for default keys and prefixed keys, so callers
// can rebuild a key by hand. A single []string or []any argument is expanded.
func CreateKey(parts ...any) string {
	if len(parts) == 1 {
		switch p := parts[0].(type) {
		case []string:
			parts = make([]any, len(p))
			for i, s := range p {
				parts[i] = s
			}
		case []any:
			parts = p
		}
	}
	var b strings.Builder
	for i, p := range parts {
		if i > 0 {
			b.WriteString(KeyDelimiter)
		}
		b.WriteString(stringify(p))
	}
	return b.String()
}

// TagKey returns the storage key holding the token of tag under the default
// tag prefix.
func TagKey(tag string) string {
	return CreateKey(tagstore.DefaultPrefix, tag)
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return fmt.Sprint(v)
}
