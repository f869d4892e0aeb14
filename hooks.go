package tagcache

// Miss reasons passed to Hooks.Miss.
const (
	MissAbsent      = "absent"
	MissCorrupt     = "corrupt"
	MissCodec       = "codec_mismatch"
	MissDecode      = "value_decode"
	MissTagMissing  = "tag_missing"
	MissTagMismatch = "tag_mismatch"
	MissReadError   = "read_error"
)

// Hooks are lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking; they run on the call path.
type Hooks interface {
	// A stored value was returned.
	Hit(key string)

	// The wrapped callable is about to run because nothing usable was stored.
	// reason is one of the Miss* constants.
	Miss(key, reason string)

	// A read failed and was degraded to a miss.
	// keys is the number of keys in the failed request.
	BackendReadError(op string, keys int, err error)

	// A write of a computed value (or its tag tokens) failed and was dropped.
	BackendWriteError(key string, err error)

	// The backend refused a write under pressure.
	WriteRejected(key string)

	// Fresh tokens were minted for tags (explicit invalidation).
	TagsMinted(tags []string)
}

// NopHooks is the default no-op.
type NopHooks struct{}

func (NopHooks) Hit(string)                          {}
func (NopHooks) Miss(string, string)                 {}
func (NopHooks) BackendReadError(string, int, error) {}
func (NopHooks) BackendWriteError(string, error)     {}
func (NopHooks) WriteRejected(string)                {}
func (NopHooks) TagsMinted([]string)                 {}
