package stashkv

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/unkn0wn-root/stashkv/codec"
)

// fingerprint derives the deterministic cache key for a call identity:
// the wrapper's name plus the rendered argument list, hashed so arbitrary
// arguments never leak into the keyspace.
func fingerprint(prefix, name string, args []any) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%v", name, args)))
	return prefix + ":" + hex.EncodeToString(sum[:])
}

// Memoize wraps fn so its result is cached under a key derived from name
// and the call's arguments: first call computes and stores, later calls
// with the same arguments are served from the cache until the entry
// expires. ttl <= 0 caches without expiry. A cache miss on decode falls
// back to recomputing.
func Memoize[V any](c *Cache, cod codec.Codec[V], ttl time.Duration, name string, fn func(ctx context.Context, args ...any) (V, error)) func(ctx context.Context, args ...any) (V, error) {
	return func(ctx context.Context, args ...any) (V, error) {
		var out V
		err := c.Session(ctx, func(s *Session) error {
			key := fingerprint("cache_result", name, args)
			if raw, ok, err := s.Get(ctx, key); err == nil && ok {
				if v, derr := cod.Decode(raw); derr == nil {
					out = v
					return nil
				}
			}

			v, err := fn(ctx, args...)
			if err != nil {
				return err
			}
			out = v

			raw, err := cod.Encode(v)
			if err != nil {
				return err
			}
			if _, err := s.Set(ctx, key, raw); err != nil {
				return err
			}
			if ttl > 0 {
				if _, err := s.SetExpire(ctx, key, ttl); err != nil {
					return err
				}
			}
			return nil
		})
		return out, err
	}
}
