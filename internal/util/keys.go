package util

import (
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// SafeKey returns key unchanged when it fits within max bytes and contains no
// whitespace or control characters. Otherwise it returns a deterministic
// replacement: a readable head of the key followed by "#" and the xxhash64 of
// the full key, kept within max bytes.
func SafeKey(key string, max int) string {
	if len(key) <= max && !hasControl(key) {
		return key
	}
	sum := strconv.FormatUint(xxhash.Sum64String(key), 16)
	head := strings.Map(func(r rune) rune {
		if r <= ' ' || r == 0x7f {
			return '_'
		}
		return r
	}, key)
	keep := max - len(sum) - 1
	if keep < 0 {
		keep = 0
	}
	if len(head) > keep {
		head = head[:keep]
	}
	return head + "#" + sum
}

func hasControl(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] <= ' ' || s[i] == 0x7f {
			return true
		}
	}
	return false
}
