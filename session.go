package stashkv

import (
	"context"
	"errors"
	"time"

	"github.com/unkn0wn-root/stashkv/adapter"
)

// Session is a short-lived handle bound to one connected adapter instance;
// it is the unit at which transactions are scoped. Sessions are not safe
// for concurrent use — open one per logical caller.
type Session struct {
	adapter adapter.Adapter
	log     Logger
	hooks   Hooks
	inTx    bool
}

// Get returns the live value for key; ok is false when the key is missing
// or expired.
func (s *Session) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return s.adapter.Get(ctx, key)
}

// Set upserts key. An overwrite keeps the entry's TTL cadence: the expiry
// is recomputed from the stored TTL at the new write time.
func (s *Session) Set(ctx context.Context, key string, value []byte) (int64, error) {
	return s.adapter.Set(ctx, key, value)
}

// BatchGet returns the live values for keys; missing keys are absent from
// the result, never an error.
func (s *Session) BatchGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	return s.adapter.BatchGet(ctx, keys)
}

// BatchSet upserts items and returns the number written. Outside a
// transaction a failed key does not abort the rest; the failures are
// logged, surfaced through hooks, and reported via *adapter.BatchError.
func (s *Session) BatchSet(ctx context.Context, items map[string][]byte) (int, error) {
	count, err := s.adapter.BatchSet(ctx, items)
	var be *adapter.BatchError
	if errors.As(err, &be) {
		s.log.Warn("batch set wrote partially", Fields{"written": count, "failed": be.Failed})
		s.hooks.BatchSetPartial(be.Failed)
	}
	return count, err
}

// Delete removes key, returning 1 if something was removed. Deleting an
// absent key returns 0 without error.
func (s *Session) Delete(ctx context.Context, key string) (int, error) {
	return s.adapter.Delete(ctx, key)
}

// Exists reports whether key is live.
func (s *Session) Exists(ctx context.Context, key string) (bool, error) {
	return s.adapter.Exists(ctx, key)
}

// Keys enumerates live keys.
func (s *Session) Keys(ctx context.Context) ([]string, error) {
	return s.adapter.Keys(ctx)
}

// SetExpire arms key's expiry to now+ttl. A ttl below one second is
// rejected with a *ValidationError before the backend is reached, leaving
// the key's state untouched.
func (s *Session) SetExpire(ctx context.Context, key string, ttl time.Duration) (int, error) {
	if ttl < time.Second {
		return 0, &ValidationError{Op: "set_expire", Reason: "ttl must be at least one second"}
	}
	return s.adapter.SetExpire(ctx, key, ttl)
}

// GetExpire returns the remaining lifetime of key; ok is false when the key
// is missing, expired, or has no TTL.
func (s *Session) GetExpire(ctx context.Context, key string) (time.Duration, bool, error) {
	return s.adapter.GetExpire(ctx, key)
}

// WithTransaction runs fn inside a transaction on this session's adapter
// handle. It begins on entry and commits when fn returns nil; any error
// from fn rolls the transaction back and is returned unchanged. Requesting
// a transaction on a backend without support fails with
// ErrTransactionsUnsupported before any state changes; nesting fails with
// ErrTransactionInProgress.
func (s *Session) WithTransaction(ctx context.Context, fn func(tx *Session) error) error {
	if !s.adapter.SupportsTransactions() {
		return adapter.ErrTransactionsUnsupported
	}
	if s.inTx {
		return adapter.ErrTransactionInProgress
	}
	if err := s.adapter.Begin(ctx); err != nil {
		return err
	}
	tx := &Session{adapter: s.adapter, log: s.log, hooks: s.hooks, inTx: true}
	if err := fn(tx); err != nil {
		if rbErr := s.adapter.Rollback(ctx); rbErr != nil {
			s.log.Error("rollback failed", Fields{"err": rbErr, "cause": err})
		}
		s.hooks.TransactionRolledBack(err)
		return err
	}
	return s.adapter.Commit(ctx)
}
