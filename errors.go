package stashkv

import (
	"errors"
	"fmt"

	"github.com/unkn0wn-root/stashkv/adapter"
)

// Sentinels re-exported from the adapter package so callers matching with
// errors.Is rarely need both imports.
var (
	ErrClosed                  = adapter.ErrClosed
	ErrTransactionInProgress   = adapter.ErrTransactionInProgress
	ErrNoTransaction           = adapter.ErrNoTransaction
	ErrTransactionsUnsupported = adapter.ErrTransactionsUnsupported
)

// ErrRateLimited is returned by RateLimit-wrapped functions once the call
// budget for a window is spent.
var ErrRateLimited = errors.New("stashkv: rate limit exceeded")

// ValidationError reports input rejected before any backend call was
// attempted.
type ValidationError struct {
	Op     string // the operation that rejected the input
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("stashkv: %s: %s", e.Op, e.Reason)
}
