// Package adapter defines the storage contract every stashkv backend
// implements.
//
// A backend exposes three layers of behavior:
//
//   - lifecycle: Connect/Create/CreateIndex/Close. Connect returns a
//     connected handle; backends whose connection state must not be shared
//     across concurrent sessions return a new, independent handle so two
//     sessions opened at the same time never interleave on one backend
//     resource. Create and CreateIndex are idempotent and run on every
//     session open.
//   - data: single and batch CRUD, key enumeration, and TTL get/set. An
//     entry whose expiry has passed is treated as absent by every read path
//     even if it has not been physically removed yet.
//   - maintenance: DeleteExpired physically removes expired entries and is
//     what the TTL sweeper invokes; CountExpired and KeysWithExpiry exist
//     for introspection and tests.
//
// Every operation except Connect and Close fails with ErrClosed on a
// disconnected handle.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrClosed is returned for any operation attempted on a handle that is
	// not connected (never connected, or already closed).
	ErrClosed = errors.New("stashkv: connection closed")

	// ErrTransactionInProgress is returned by Begin when the handle already
	// has an open transaction. Nesting is not supported.
	ErrTransactionInProgress = errors.New("stashkv: transaction already in progress")

	// ErrNoTransaction is returned by Commit and Rollback when no
	// transaction is open on the handle.
	ErrNoTransaction = errors.New("stashkv: no transaction in progress")

	// ErrTransactionsUnsupported is returned before any state change when a
	// transaction is requested on a backend that does not support them.
	ErrTransactionsUnsupported = errors.New("stashkv: transactions not supported by this backend")
)

// DefaultTable is the table (or key namespace) used when a backend Config
// leaves it empty.
const DefaultTable = "kv_store"

// Entry is one stored record. It is owned exclusively by the backend that
// stores it; backends hand out copies of Value, never the backing slice.
type Entry struct {
	Value     []byte
	CreatedAt time.Time
	// ExpiresAt is the absolute expiry; zero means the entry never expires.
	// When TTL is set, ExpiresAt == CreatedAt + TTL.
	ExpiresAt time.Time
	// TTL is the expiry window applied by SetExpire; zero means no policy.
	TTL time.Duration
}

// Expired reports whether the entry's expiry has passed at now.
func (e *Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// KeyExpiry pairs a key with its absolute expiry. Returned by KeysWithExpiry.
type KeyExpiry struct {
	Key       string
	ExpiresAt time.Time
}

// Adapter is the contract between the stashkv facade and a storage backend.
//
// Overwrite policy: Set on an existing key replaces the value and resets
// CreatedAt; if the entry carries a TTL, the expiry is recomputed from that
// stored TTL at the new write time, so the expiry cadence survives plain
// overwrites. The TTL is only cleared by Delete.
type Adapter interface {
	// Connect establishes backend resources and returns a session-scoped
	// handle. The receiver itself stays unconnected.
	Connect(ctx context.Context) (Adapter, error)
	// Create bootstraps the backend schema. Idempotent.
	Create(ctx context.Context) error
	// CreateIndex bootstraps the secondary index on the expiry column that
	// makes sweeps efficient. Idempotent.
	CreateIndex(ctx context.Context) error
	// Close releases the handle's backend resources. Any in-flight
	// operation completes before Close returns.
	Close(ctx context.Context) error

	// Get returns the live value for key, or ok=false when the key is
	// missing or expired.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	// Set upserts key and returns the backend's generated id (or 1 for
	// backends without row ids).
	Set(ctx context.Context, key string, value []byte) (int64, error)
	// BatchGet returns the live values for keys; missing or expired keys
	// are simply absent from the result, never an error.
	BatchGet(ctx context.Context, keys []string) (map[string][]byte, error)
	// BatchSet upserts all items and returns the number written. Outside a
	// transaction a single write failure does not abort the rest: the
	// failed keys are reported through a *BatchError alongside the count.
	BatchSet(ctx context.Context, items map[string][]byte) (int, error)
	// Delete removes key, returning 1 if a record was removed and 0
	// otherwise. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) (int, error)
	// Exists reports whether key is live.
	Exists(ctx context.Context, key string) (bool, error)
	// Keys enumerates all live keys, excluding logically expired entries
	// even when they have not been swept yet.
	Keys(ctx context.Context) ([]string, error)

	// SetExpire arms key's expiry to now+ttl, returning 1 when applied and
	// 0 when the key is absent. Callers validate ttl >= 1s before the
	// backend is reached.
	SetExpire(ctx context.Context, key string, ttl time.Duration) (int, error)
	// GetExpire returns the remaining lifetime of key, or ok=false when the
	// key is missing, expired, or carries no TTL.
	GetExpire(ctx context.Context, key string) (remaining time.Duration, ok bool, err error)

	// DeleteExpired physically removes every entry whose expiry has passed.
	// Safe to call concurrently with reads and writes.
	DeleteExpired(ctx context.Context) error
	// CountExpired returns the number of expired entries still present.
	CountExpired(ctx context.Context) (int, error)
	// KeysWithExpiry lists every entry that carries an expiry, live or not.
	KeysWithExpiry(ctx context.Context) ([]KeyExpiry, error)

	// SupportsTransactions reports whether Begin/Commit/Rollback are
	// usable on this backend.
	SupportsTransactions() bool
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// BatchError reports the keys a non-transactional BatchSet failed to write.
// The successful write count is returned alongside it.
type BatchError struct {
	Failed []string
	Errs   []error // aligned with Failed
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("stashkv: batch set failed for %d key(s): %s",
		len(e.Failed), strings.Join(e.Failed, ", "))
}

func (e *BatchError) Unwrap() []error { return e.Errs }
