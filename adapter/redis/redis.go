// Package redis implements the stashkv storage contract over a remote
// Redis server.
//
// Entries live in one hash per key under "<table>:<key>": field "v" holds
// the value bytes and field "t" the TTL window in seconds. Expiry rides on
// Redis's native key expiration, so DeleteExpired is a no-op — the server
// removes expired keys itself and an expired key is genuinely absent, not
// merely unswept. Storing the window alongside the value is what lets an
// overwrite re-arm the expiry with the original cadence (a plain SET with
// KEEPTTL would only keep the remaining time).
//
// Transactions buffer writes in a TxPipeline between Begin and
// Commit/Rollback; reads inside a transaction observe pre-transaction
// state, matching Redis MULTI semantics.
package redis

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/stashkv/adapter"
)

const (
	valueField = "v"
	ttlField   = "t"
)

// Config selects the server and key namespace for an adapter.
type Config struct {
	// Addr is the server address ("host:port") used when Client is nil.
	Addr string
	// Table namespaces every key as "<table>:<key>". Defaults to
	// adapter.DefaultTable.
	Table string
	// Client, when set, is used instead of dialing Addr. The caller owns
	// its lifecycle; Close leaves it open.
	Client goredis.UniversalClient
}

// Adapter is the remote-store backend.
type Adapter struct {
	cfg       Config
	rdb       goredis.UniversalClient
	ownClient bool
	connected bool
	pipe      goredis.Pipeliner // non-nil while a transaction is open
}

var _ adapter.Adapter = (*Adapter)(nil)

// New returns an unconnected Redis adapter.
func New(cfg Config) *Adapter {
	if cfg.Table == "" {
		cfg.Table = adapter.DefaultTable
	}
	return &Adapter{cfg: cfg}
}

func (a *Adapter) Connect(ctx context.Context) (adapter.Adapter, error) {
	h := &Adapter{cfg: a.cfg, connected: true}
	if a.cfg.Client != nil {
		h.rdb = a.cfg.Client
	} else {
		h.rdb = goredis.NewClient(&goredis.Options{Addr: a.cfg.Addr})
		h.ownClient = true
	}
	if err := h.rdb.Ping(ctx).Err(); err != nil {
		if h.ownClient {
			_ = h.rdb.Close()
		}
		return nil, err
	}
	return h, nil
}

// Create is a no-op; Redis needs no schema.
func (a *Adapter) Create(context.Context) error { return a.check() }

// CreateIndex is a no-op; expiry is native.
func (a *Adapter) CreateIndex(context.Context) error { return a.check() }

func (a *Adapter) Close(context.Context) error {
	if !a.connected {
		return nil
	}
	a.connected = false
	a.pipe = nil
	if a.ownClient {
		if err := a.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}

func (a *Adapter) check() error {
	if !a.connected {
		return adapter.ErrClosed
	}
	return nil
}

func (a *Adapter) keyPath(key string) string {
	return a.cfg.Table + ":" + key
}

// writer returns the destination for write commands: the buffered pipeline
// inside a transaction, the live client otherwise.
func (a *Adapter) writer() goredis.Cmdable {
	if a.pipe != nil {
		return a.pipe
	}
	return a.rdb
}

func (a *Adapter) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := a.check(); err != nil {
		return nil, false, err
	}
	b, err := a.rdb.HGet(ctx, a.keyPath(key), valueField).Bytes()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// set issues the write commands for one key on dst. When the stored TTL
// window is known it is re-armed from the new write time.
func (a *Adapter) set(ctx context.Context, dst goredis.Cmdable, key string, value []byte, window time.Duration) {
	k := a.keyPath(key)
	dst.HSet(ctx, k, valueField, value)
	if window > 0 {
		dst.HSet(ctx, k, ttlField, int64(window/time.Second))
		dst.Expire(ctx, k, window)
	}
}

// window reads the stored TTL window for key; zero when none.
func (a *Adapter) window(ctx context.Context, key string) (time.Duration, error) {
	secs, err := a.rdb.HGet(ctx, a.keyPath(key), ttlField).Int64()
	if err == goredis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return time.Duration(secs) * time.Second, nil
}

func (a *Adapter) Set(ctx context.Context, key string, value []byte) (int64, error) {
	if err := a.check(); err != nil {
		return 0, err
	}
	window, err := a.window(ctx, key)
	if err != nil {
		return 0, err
	}
	if a.pipe != nil {
		a.set(ctx, a.pipe, key, value, window)
		return 1, nil
	}
	pipe := a.rdb.Pipeline()
	a.set(ctx, pipe, key, value, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return 1, nil
}

func (a *Adapter) BatchGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	pipe := a.rdb.Pipeline()
	cmds := make([]*goredis.StringCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.HGet(ctx, a.keyPath(k), valueField)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != goredis.Nil {
		return nil, err
	}
	for i, cmd := range cmds {
		b, err := cmd.Bytes()
		if err == goredis.Nil {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[keys[i]] = b
	}
	return out, nil
}

func (a *Adapter) BatchSet(ctx context.Context, items map[string][]byte) (int, error) {
	if err := a.check(); err != nil {
		return 0, err
	}
	count := 0
	var failed []string
	var errs []error
	for k, v := range items {
		window, err := a.window(ctx, k)
		if err == nil {
			if a.pipe != nil {
				a.set(ctx, a.pipe, k, v, window)
			} else {
				pipe := a.rdb.Pipeline()
				a.set(ctx, pipe, k, v, window)
				_, err = pipe.Exec(ctx)
			}
		}
		if err != nil {
			if a.pipe != nil {
				// transactional path is all-or-nothing
				return count, err
			}
			failed = append(failed, k)
			errs = append(errs, err)
			continue
		}
		count++
	}
	if len(failed) > 0 {
		return count, &adapter.BatchError{Failed: failed, Errs: errs}
	}
	return count, nil
}

func (a *Adapter) Delete(ctx context.Context, key string) (int, error) {
	if err := a.check(); err != nil {
		return 0, err
	}
	n, err := a.rdb.Del(ctx, a.keyPath(key)).Result()
	return int(n), err
}

func (a *Adapter) Exists(ctx context.Context, key string) (bool, error) {
	if err := a.check(); err != nil {
		return false, err
	}
	n, err := a.rdb.Exists(ctx, a.keyPath(key)).Result()
	return n > 0, err
}

func (a *Adapter) Keys(ctx context.Context) ([]string, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	var keys []string
	prefix := a.cfg.Table + ":"
	iter := a.rdb.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[len(prefix):])
	}
	return keys, iter.Err()
}

func (a *Adapter) SetExpire(ctx context.Context, key string, ttl time.Duration) (int, error) {
	if err := a.check(); err != nil {
		return 0, err
	}
	k := a.keyPath(key)
	if a.pipe != nil {
		a.pipe.HSet(ctx, k, ttlField, int64(ttl/time.Second))
		a.pipe.Expire(ctx, k, ttl)
		return 1, nil
	}
	ok, err := a.rdb.Expire(ctx, k, ttl).Result()
	if err != nil || !ok {
		return 0, err
	}
	if err := a.rdb.HSet(ctx, k, ttlField, int64(ttl/time.Second)).Err(); err != nil {
		return 0, err
	}
	return 1, nil
}

func (a *Adapter) GetExpire(ctx context.Context, key string) (time.Duration, bool, error) {
	if err := a.check(); err != nil {
		return 0, false, err
	}
	d, err := a.rdb.TTL(ctx, a.keyPath(key)).Result()
	if err != nil {
		return 0, false, err
	}
	// -2 => key absent, -1 => no TTL
	if d < 0 {
		return 0, false, nil
	}
	return d, true, nil
}

// DeleteExpired is a no-op: the server expires keys natively.
func (a *Adapter) DeleteExpired(context.Context) error { return a.check() }

// CountExpired reports 0: expired keys never linger server-side.
func (a *Adapter) CountExpired(context.Context) (int, error) {
	return 0, a.check()
}

func (a *Adapter) KeysWithExpiry(ctx context.Context) ([]adapter.KeyExpiry, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	keys, err := a.Keys(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	var out []adapter.KeyExpiry
	for _, k := range keys {
		d, err := a.rdb.TTL(ctx, a.keyPath(k)).Result()
		if err != nil {
			return nil, err
		}
		if d < 0 {
			continue
		}
		out = append(out, adapter.KeyExpiry{Key: k, ExpiresAt: now.Add(d)})
	}
	return out, nil
}

func (a *Adapter) SupportsTransactions() bool { return true }

func (a *Adapter) Begin(context.Context) error {
	if err := a.check(); err != nil {
		return err
	}
	if a.pipe != nil {
		return adapter.ErrTransactionInProgress
	}
	a.pipe = a.rdb.TxPipeline()
	return nil
}

func (a *Adapter) Commit(ctx context.Context) error {
	if err := a.check(); err != nil {
		return err
	}
	if a.pipe == nil {
		return adapter.ErrNoTransaction
	}
	pipe := a.pipe
	a.pipe = nil
	_, err := pipe.Exec(ctx)
	if err == goredis.Nil {
		return nil
	}
	return err
}

func (a *Adapter) Rollback(context.Context) error {
	if err := a.check(); err != nil {
		return err
	}
	if a.pipe == nil {
		return adapter.ErrNoTransaction
	}
	a.pipe.Discard()
	a.pipe = nil
	return nil
}
