// Package memory implements the stashkv storage contract over a
// process-wide shared map.
//
// The store is sharded by key hash; each shard owns its own mutex, so
// single-key operations contend only on their shard. Batch operations lock
// every involved shard in ascending shard order before touching any entry
// and release them all afterwards, which both prevents a concurrent batch
// from observing a partial update on overlapping keys and makes two
// overlapping batches deadlock-free.
//
// All handles returned by Connect share the same backing store, mirroring
// the process-wide semantics of the other backends' shared databases. Tests
// that need isolation call Flush.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/unkn0wn-root/stashkv/adapter"
)

// shardCount must stay a power of two; the shard index is a hash mask.
const shardCount = 64

type shard struct {
	mu      sync.Mutex
	entries map[string]*adapter.Entry
}

type store struct {
	shards [shardCount]shard
}

func newStore() *store {
	s := &store{}
	for i := range s.shards {
		s.shards[i].entries = make(map[string]*adapter.Entry)
	}
	return s
}

func (s *store) shardFor(key string) *shard {
	return &s.shards[xxhash.Sum64String(key)&(shardCount-1)]
}

// shardSet returns the deduplicated shard indexes for keys in ascending
// order. Locking in this order is what keeps overlapping batches
// deadlock-free.
func (s *store) shardSet(keys []string) []int {
	var seen [shardCount]bool
	for _, k := range keys {
		seen[xxhash.Sum64String(k)&(shardCount-1)] = true
	}
	idx := make([]int, 0, len(keys))
	for i, ok := range seen {
		if ok {
			idx = append(idx, i)
		}
	}
	return idx
}

func (s *store) lockAll(idx []int) {
	for _, i := range idx {
		s.shards[i].mu.Lock()
	}
}

func (s *store) unlockAll(idx []int) {
	for i := len(idx) - 1; i >= 0; i-- {
		s.shards[idx[i]].mu.Unlock()
	}
}

// shared is the process-wide store backing every handle.
var shared = newStore()

// Flush removes every entry from the shared store. Intended for tests.
func Flush() {
	for i := range shared.shards {
		sh := &shared.shards[i]
		sh.mu.Lock()
		sh.entries = make(map[string]*adapter.Entry)
		sh.mu.Unlock()
	}
}

// Adapter is the in-memory backend. The zero value is an unconnected base;
// Connect returns session-scoped handles over the shared store.
type Adapter struct {
	connected bool
}

var _ adapter.Adapter = (*Adapter)(nil)

// New returns an unconnected in-memory adapter.
func New() *Adapter { return &Adapter{} }

func (a *Adapter) Connect(context.Context) (adapter.Adapter, error) {
	return &Adapter{connected: true}, nil
}

// Create is a no-op; the shared map needs no schema.
func (a *Adapter) Create(context.Context) error {
	return a.check()
}

// CreateIndex is a no-op; sweeps scan the shards directly.
func (a *Adapter) CreateIndex(context.Context) error {
	return a.check()
}

func (a *Adapter) Close(context.Context) error {
	a.connected = false
	return nil
}

func (a *Adapter) check() error {
	if !a.connected {
		return adapter.ErrClosed
	}
	return nil
}

func (a *Adapter) Get(_ context.Context, key string) ([]byte, bool, error) {
	if err := a.check(); err != nil {
		return nil, false, err
	}
	sh := shared.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.entries[key]
	if !ok || e.Expired(time.Now()) {
		return nil, false, nil
	}
	return append([]byte(nil), e.Value...), true, nil
}

func (a *Adapter) Set(_ context.Context, key string, value []byte) (int64, error) {
	if err := a.check(); err != nil {
		return 0, err
	}
	sh := shared.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	upsert(sh, key, value, time.Now())
	return 1, nil
}

// upsert writes under the shard lock. Overwrites reset CreatedAt and, when
// the entry carries a TTL, recompute the expiry from that stored TTL so the
// cadence survives the overwrite.
func upsert(sh *shard, key string, value []byte, now time.Time) {
	v := append([]byte(nil), value...)
	if e, ok := sh.entries[key]; ok {
		e.Value = v
		e.CreatedAt = now
		if e.TTL > 0 {
			e.ExpiresAt = now.Add(e.TTL)
		} else {
			e.ExpiresAt = time.Time{}
		}
		return
	}
	sh.entries[key] = &adapter.Entry{Value: v, CreatedAt: now}
}

func (a *Adapter) BatchGet(_ context.Context, keys []string) (map[string][]byte, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(keys))
	idx := shared.shardSet(keys)
	shared.lockAll(idx)
	defer shared.unlockAll(idx)
	now := time.Now()
	for _, k := range keys {
		if e, ok := shared.shardFor(k).entries[k]; ok && !e.Expired(now) {
			out[k] = append([]byte(nil), e.Value...)
		}
	}
	return out, nil
}

func (a *Adapter) BatchSet(_ context.Context, items map[string][]byte) (int, error) {
	if err := a.check(); err != nil {
		return 0, err
	}
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	idx := shared.shardSet(keys)
	shared.lockAll(idx)
	defer shared.unlockAll(idx)
	now := time.Now()
	for _, k := range keys {
		upsert(shared.shardFor(k), k, items[k], now)
	}
	return len(items), nil
}

func (a *Adapter) Delete(_ context.Context, key string) (int, error) {
	if err := a.check(); err != nil {
		return 0, err
	}
	sh := shared.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.entries[key]; !ok {
		return 0, nil
	}
	delete(sh.entries, key)
	return 1, nil
}

func (a *Adapter) Exists(_ context.Context, key string) (bool, error) {
	if err := a.check(); err != nil {
		return false, err
	}
	sh := shared.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.entries[key]
	return ok && !e.Expired(time.Now()), nil
}

// Keys walks the shards one at a time, so liveness is decided under each
// shard's lock rather than trusted from a stale snapshot. A key deleted or
// expiring mid-walk is simply not included.
func (a *Adapter) Keys(_ context.Context) ([]string, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	var keys []string
	now := time.Now()
	for i := range shared.shards {
		sh := &shared.shards[i]
		sh.mu.Lock()
		for k, e := range sh.entries {
			if !e.Expired(now) {
				keys = append(keys, k)
			}
		}
		sh.mu.Unlock()
	}
	return keys, nil
}

func (a *Adapter) SetExpire(_ context.Context, key string, ttl time.Duration) (int, error) {
	if err := a.check(); err != nil {
		return 0, err
	}
	sh := shared.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	now := time.Now()
	e, ok := sh.entries[key]
	if !ok || e.Expired(now) {
		return 0, nil
	}
	e.TTL = ttl
	e.ExpiresAt = now.Add(ttl)
	return 1, nil
}

func (a *Adapter) GetExpire(_ context.Context, key string) (time.Duration, bool, error) {
	if err := a.check(); err != nil {
		return 0, false, err
	}
	sh := shared.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.entries[key]
	if !ok || e.ExpiresAt.IsZero() {
		return 0, false, nil
	}
	now := time.Now()
	if e.Expired(now) {
		return 0, false, nil
	}
	return e.ExpiresAt.Sub(now), true, nil
}

func (a *Adapter) DeleteExpired(_ context.Context) error {
	if err := a.check(); err != nil {
		return err
	}
	now := time.Now()
	for i := range shared.shards {
		sh := &shared.shards[i]
		sh.mu.Lock()
		for k, e := range sh.entries {
			if e.Expired(now) {
				delete(sh.entries, k)
			}
		}
		sh.mu.Unlock()
	}
	return nil
}

func (a *Adapter) CountExpired(_ context.Context) (int, error) {
	if err := a.check(); err != nil {
		return 0, err
	}
	now := time.Now()
	count := 0
	for i := range shared.shards {
		sh := &shared.shards[i]
		sh.mu.Lock()
		for _, e := range sh.entries {
			if e.Expired(now) {
				count++
			}
		}
		sh.mu.Unlock()
	}
	return count, nil
}

func (a *Adapter) KeysWithExpiry(_ context.Context) ([]adapter.KeyExpiry, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	var out []adapter.KeyExpiry
	for i := range shared.shards {
		sh := &shared.shards[i]
		sh.mu.Lock()
		for k, e := range sh.entries {
			if !e.ExpiresAt.IsZero() {
				out = append(out, adapter.KeyExpiry{Key: k, ExpiresAt: e.ExpiresAt})
			}
		}
		sh.mu.Unlock()
	}
	return out, nil
}

// Update applies fn to key's current value while holding the shard lock,
// making the whole read-modify-write atomic with respect to every other
// operation on the key. fn receives the current value (ok=false when the
// key is missing or expired) and returns the value to store.
//
// Update is an extension of the concrete type, not part of the adapter
// contract.
func (a *Adapter) Update(_ context.Context, key string, fn func(value []byte, ok bool) ([]byte, error)) error {
	if err := a.check(); err != nil {
		return err
	}
	sh := shared.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	now := time.Now()
	var cur []byte
	ok := false
	if e, present := sh.entries[key]; present && !e.Expired(now) {
		cur = append([]byte(nil), e.Value...)
		ok = true
	}
	next, err := fn(cur, ok)
	if err != nil {
		return err
	}
	upsert(sh, key, next, now)
	return nil
}

// SupportsTransactions reports false: the shared map has no write-ahead
// state to roll back.
func (a *Adapter) SupportsTransactions() bool { return false }

func (a *Adapter) Begin(context.Context) error {
	if err := a.check(); err != nil {
		return err
	}
	return adapter.ErrTransactionsUnsupported
}

func (a *Adapter) Commit(context.Context) error {
	if err := a.check(); err != nil {
		return err
	}
	return adapter.ErrTransactionsUnsupported
}

func (a *Adapter) Rollback(context.Context) error {
	if err := a.check(); err != nil {
		return err
	}
	return adapter.ErrTransactionsUnsupported
}
