// Package stashkv is a pluggable key-value caching engine: one contract
// over heterogeneous storage backends, with TTL expiration, batch
// operations, and transactional sessions layered on top.
//
// Components:
//   - adapter.Adapter: the storage contract. Backends: adapter/memory
//     (sharded in-process map), adapter/sqlite (embedded database behind a
//     single-writer executor), adapter/redis (remote store with native
//     expiry).
//   - Cache: the entry point. It owns the adapter, opens sessions, and
//     starts/stops the background TTL sweeper.
//   - Session: a short-lived handle over one connected adapter; all data
//     operations and transactions go through it.
//   - TTLWorker: a cancellable periodic task that physically removes
//     expired entries.
//
// Usage:
//
//	cache, _ := stashkv.New(stashkv.Options{
//	    Adapter:       sqlite.New(sqlite.Config{Path: "cache.db"}),
//	    SweepInterval: 15 * time.Second,
//	})
//	_ = cache.StartSweeper(ctx)
//	defer cache.Close(ctx)
//
//	err := cache.Session(ctx, func(s *stashkv.Session) error {
//	    if _, err := s.Set(ctx, "greeting", []byte("hello")); err != nil {
//	        return err
//	    }
//	    _, err := s.SetExpire(ctx, "greeting", time.Minute)
//	    return err
//	})
//
// Typed values ride on a Codec[V] from the codec subpackage via As;
// Memoize and RateLimit wrap ordinary functions with cache-backed
// results and call budgets.
package stashkv
