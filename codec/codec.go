package codec

import "fmt"

// Codec turns values into the payload bytes stored inside an entry.
// Name is written next to the payload; an entry whose recorded name differs
// from the reading codec's Name is treated as a miss, never decoded.
type Codec[V any] interface {
	Name() string
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

// Versioned tags another codec's name with a schema version ("json@3").
// Bumping Version makes every entry written under the old schema read as a
// codec mismatch, which is how a value type change is rolled out without
// flushing the backend.
type Versioned[V any] struct {
	Inner   Codec[V]
	Version int
}

func (c Versioned[V]) Name() string {
	return fmt.Sprintf("%s@%d", c.Inner.Name(), c.Version)
}

func (c Versioned[V]) Encode(v V) ([]byte, error) { return c.Inner.Encode(v) }
func (c Versioned[V]) Decode(b []byte) (V, error) { return c.Inner.Decode(b) }
