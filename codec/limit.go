package codec

import (
	"errors"
	"fmt"
)

// ErrTooLarge is returned by Limit for payloads over its bounds.
var ErrTooLarge = errors.New("codec: payload too large")

// Limit bounds payload size around another codec. A value that encodes to
// more than MaxEncode bytes is not cached (the call still returns it); a
// stored payload over MaxDecode is refused and read as a miss, which guards
// readers of a shared backend. Zero disables either bound.
type Limit[V any] struct {
	Inner     Codec[V]
	MaxEncode int
	MaxDecode int
}

func (c Limit[V]) Name() string { return c.Inner.Name() }

func (c Limit[V]) Encode(v V) ([]byte, error) {
	b, err := c.Inner.Encode(v)
	if err != nil {
		return nil, err
	}
	if c.MaxEncode > 0 && len(b) > c.MaxEncode {
		return nil, fmt.Errorf("%w: encoded %d > %d", ErrTooLarge, len(b), c.MaxEncode)
	}
	return b, nil
}

func (c Limit[V]) Decode(b []byte) (V, error) {
	if c.MaxDecode > 0 && len(b) > c.MaxDecode {
		var zero V
		return zero, fmt.Errorf("%w: stored %d > %d", ErrTooLarge, len(b), c.MaxDecode)
	}
	return c.Inner.Decode(b)
}
