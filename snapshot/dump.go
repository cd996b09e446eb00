package snapshot

import (
	"context"
	"io"
	"time"

	"github.com/unkn0wn-root/stashkv/adapter"
)

// Dump writes every live entry of a connected backend to w.
func Dump(ctx context.Context, a adapter.Adapter, w io.Writer) error {
	keys, err := a.Keys(ctx)
	if err != nil {
		return err
	}
	withExpiry, err := a.KeysWithExpiry(ctx)
	if err != nil {
		return err
	}
	expiry := make(map[string]time.Time, len(withExpiry))
	for _, ke := range withExpiry {
		expiry[ke.Key] = ke.ExpiresAt
	}

	values, err := a.BatchGet(ctx, keys)
	if err != nil {
		return err
	}

	items := make([]Item, 0, len(values))
	for _, k := range keys {
		v, ok := values[k]
		if !ok {
			// expired between the key listing and the read
			continue
		}
		it := Item{Key: k, Value: v}
		if at, ok := expiry[k]; ok {
			t := at
			it.ExpiresAt = &t
		}
		items = append(items, it)
	}
	return Write(w, items)
}

// Restore loads a snapshot stream into a connected backend. Existing keys
// are overwritten; entries carrying an expiry get their remaining lifetime
// re-armed relative to load time. Returns the number of entries loaded.
func Restore(ctx context.Context, a adapter.Adapter, r io.Reader) (int, error) {
	items, err := Read(r)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	loaded := 0
	for _, it := range items {
		if _, err := a.Set(ctx, it.Key, it.Value); err != nil {
			return loaded, err
		}
		if it.ExpiresAt != nil {
			remaining := it.ExpiresAt.Sub(now)
			if remaining < time.Second {
				remaining = time.Second
			}
			if _, err := a.SetExpire(ctx, it.Key, remaining); err != nil {
				return loaded, err
			}
		}
		loaded++
	}
	return loaded, nil
}
