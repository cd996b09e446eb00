package codec

import "github.com/fxamacker/cbor/v2"

// CBOR serializes values with CBOR (RFC 8949) using fixed encode/decode
// modes built once at construction. Core-deterministic encoding keeps
// payloads byte-stable for identical values.
type CBOR[V any] struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// NewCBOR builds a CBOR codec with canonical encoding options.
func NewCBOR[V any]() (CBOR[V], error) {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return CBOR[V]{}, err
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return CBOR[V]{}, err
	}
	return CBOR[V]{enc: enc, dec: dec}, nil
}

// MustCBOR is NewCBOR that panics on error. Mode construction only fails
// on invalid options, so this is safe for package-level initialization.
func MustCBOR[V any]() CBOR[V] {
	c, err := NewCBOR[V]()
	if err != nil {
		panic(err)
	}
	return c
}

func (c CBOR[V]) Encode(v V) ([]byte, error) { return c.enc.Marshal(v) }
func (c CBOR[V]) Decode(b []byte) (V, error) {
	var v V
	err := c.dec.Unmarshal(b, &v)
	return v, err
}
