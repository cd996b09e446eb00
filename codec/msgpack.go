package codec

import "github.com/vmihailenco/msgpack/v5"

// Msgpack serializes values with MessagePack. Denser than JSON for
// struct-heavy values and faster to decode, at the cost of a binary
// payload. The zero value is ready to use.
type Msgpack[V any] struct{}

func (Msgpack[V]) Encode(v V) ([]byte, error) { return msgpack.Marshal(v) }
func (Msgpack[V]) Decode(b []byte) (V, error) {
	var v V
	err := msgpack.Unmarshal(b, &v)
	return v, err
}
