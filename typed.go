package stashkv

import (
	"context"

	"github.com/unkn0wn-root/stashkv/codec"
)

// Typed is a codec-parameterized view over a Session: values of type V are
// encoded on the way in and decoded on the way out, while keys, TTLs, and
// transaction scoping stay on the underlying session.
type Typed[V any] struct {
	s     *Session
	codec codec.Codec[V]
}

// As wraps s with a codec for V.
func As[V any](s *Session, c codec.Codec[V]) Typed[V] {
	return Typed[V]{s: s, codec: c}
}

func (t Typed[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	raw, ok, err := t.s.Get(ctx, key)
	if err != nil || !ok {
		return zero, false, err
	}
	v, err := t.codec.Decode(raw)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

func (t Typed[V]) Set(ctx context.Context, key string, v V) (int64, error) {
	raw, err := t.codec.Encode(v)
	if err != nil {
		return 0, err
	}
	return t.s.Set(ctx, key, raw)
}

// BatchGet decodes every live value; a key whose payload fails to decode
// surfaces the decode error rather than being dropped silently.
func (t Typed[V]) BatchGet(ctx context.Context, keys []string) (map[string]V, error) {
	raw, err := t.s.BatchGet(ctx, keys)
	if err != nil {
		return nil, err
	}
	out := make(map[string]V, len(raw))
	for k, b := range raw {
		v, err := t.codec.Decode(b)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func (t Typed[V]) BatchSet(ctx context.Context, items map[string]V) (int, error) {
	raw := make(map[string][]byte, len(items))
	for k, v := range items {
		b, err := t.codec.Encode(v)
		if err != nil {
			return 0, err
		}
		raw[k] = b
	}
	return t.s.BatchSet(ctx, raw)
}
