package codec

import "google.golang.org/protobuf/proto"

// Protobuf serializes protobuf messages. Because proto.Unmarshal needs a
// non-nil target, the codec carries a constructor for T rather than
// relying on the zero value.
type Protobuf[T proto.Message] struct {
	new func() T
}

// NewProtobuf builds a protobuf codec; newT must return a fresh, non-nil
// message on every call, e.g. func() *pb.User { return &pb.User{} }.
func NewProtobuf[T proto.Message](newT func() T) Protobuf[T] {
	return Protobuf[T]{new: newT}
}

func (p Protobuf[T]) Encode(v T) ([]byte, error) { return proto.Marshal(v) }
func (p Protobuf[T]) Decode(b []byte) (T, error) {
	v := p.new()
	err := proto.Unmarshal(b, v)
	return v, err
}
