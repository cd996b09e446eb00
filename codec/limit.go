package codec

import "fmt"

// ErrDecodeTooLarge is returned by Limit when a stored payload exceeds the
// configured bound.
type ErrDecodeTooLarge struct {
	Size int
	Max  int
}

func (e *ErrDecodeTooLarge) Error() string {
	return fmt.Sprintf("codec: payload %d bytes exceeds limit %d", e.Size, e.Max)
}

// Limit wraps a codec and rejects decoding payloads larger than Max bytes.
// A cache shared with other writers can hand back arbitrarily large blobs;
// bounding decode size keeps a poisoned key from ballooning memory.
type Limit[V any] struct {
	Codec Codec[V]
	Max   int
}

// WithLimit wraps c so Decode refuses payloads larger than max bytes.
func WithLimit[V any](c Codec[V], max int) Limit[V] {
	return Limit[V]{Codec: c, Max: max}
}

func (l Limit[V]) Encode(v V) ([]byte, error) { return l.Codec.Encode(v) }

func (l Limit[V]) Decode(b []byte) (V, error) {
	if l.Max > 0 && len(b) > l.Max {
		var zero V
		return zero, &ErrDecodeTooLarge{Size: len(b), Max: l.Max}
	}
	return l.Codec.Decode(b)
}
