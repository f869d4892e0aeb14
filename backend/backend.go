// Package backend defines the storage contract used by tagcache.
//
// Implementations MUST be byte-for-byte transparent: Get must return exactly the
// same []byte that was previously passed to Set for a key (no prepended/appended
// metadata, no re-encoding, no mutation).
//
// Important: the keyspace "tag:" (or whatever tag prefix the cache is configured
// with) is owned by tagcache. External code MUST NOT write values under it.
package backend

import (
	"context"
	"errors"
	"time"
)

const (
	// DefaultTTL lets the backend apply its own configured expiry.
	DefaultTTL time.Duration = 0
	// NoExpiry asks the backend to keep the value until it is deleted or evicted.
	NoExpiry time.Duration = -1
)

// ErrRejected is returned by Set/SetMany when the store refused the write under
// pressure (admission policy, size limit). It is not an outage.
var ErrRejected = errors.New("backend: write rejected")

// Backend is a minimal byte store with TTLs and batch operations.
// Must be safe for concurrent use.
type Backend interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// GetMany returns only the keys that were found. Absent keys are omitted.
	GetMany(ctx context.Context, keys []string) (map[string][]byte, error)

	// Set stores value with the given TTL (see DefaultTTL and NoExpiry).
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetMany stores all items with the same TTL.
	SetMany(ctx context.Context, items map[string][]byte, ttl time.Duration) error

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases resources.
	Close(ctx context.Context) error
}

// Resolve maps the tagcache TTL convention onto a concrete duration where
// zero means "no expiry", which is what most client libraries expect.
func Resolve(ttl, def time.Duration) time.Duration {
	switch {
	case ttl == DefaultTTL:
		if def < 0 {
			return 0
		}
		return def
	case ttl < 0:
		return 0
	default:
		return ttl
	}
}
