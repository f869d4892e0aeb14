package codec

import "google.golang.org/protobuf/proto"

// Protobuf stores proto messages in binary wire form. New allocates the
// message Decode fills, e.g. func() *pb.User { return new(pb.User) }.
type Protobuf[T proto.Message] struct {
	New func() T
	// DiscardUnknown drops fields the local message type does not know,
	// which lets older binaries read entries written by newer ones.
	DiscardUnknown bool
}

func NewProtobuf[T proto.Message](ctor func() T) Protobuf[T] {
	return Protobuf[T]{New: ctor}
}

func (Protobuf[T]) Name() string { return "protobuf" }

func (Protobuf[T]) Encode(m T) ([]byte, error) {
	return proto.MarshalOptions{Deterministic: true}.Marshal(m)
}

func (c Protobuf[T]) Decode(b []byte) (T, error) {
	m := c.New()
	err := proto.UnmarshalOptions{DiscardUnknown: c.DiscardUnknown}.Unmarshal(b, m)
	return m, err
}
