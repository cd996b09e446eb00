package stashkv

import (
	"context"
	"strconv"
	"time"
)

// RateLimit wraps fn with a cache-backed call budget: at most limit calls
// per window for each distinct argument list. Once the budget is spent,
// calls fail with ErrRateLimited until the window's entry expires. Each
// admitted call re-arms the window, matching a sliding budget. limit <= 0
// disables limiting entirely.
func RateLimit[V any](c *Cache, limit int, window time.Duration, name string, fn func(ctx context.Context, args ...any) (V, error)) func(ctx context.Context, args ...any) (V, error) {
	return func(ctx context.Context, args ...any) (V, error) {
		var zero V
		if limit <= 0 {
			return fn(ctx, args...)
		}

		key := fingerprint("rate_limit", name, args)
		err := c.Session(ctx, func(s *Session) error {
			count := 0
			if raw, ok, err := s.Get(ctx, key); err != nil {
				return err
			} else if ok {
				if n, perr := strconv.Atoi(string(raw)); perr == nil {
					count = n
				}
			}
			if count >= limit {
				return ErrRateLimited
			}
			if _, err := s.Set(ctx, key, []byte(strconv.Itoa(count+1))); err != nil {
				return err
			}
			if window > 0 {
				if _, err := s.SetExpire(ctx, key, window); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return zero, err
		}
		return fn(ctx, args...)
	}
}
