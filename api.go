package stashkv

import (
	"fmt"
	"time"

	"github.com/unkn0wn-root/stashkv/adapter"
)

// Options tune the cache facade. Only Adapter is required.
type Options struct {
	// Required. The storage backend; selected at construction time and
	// injected, never inspected at runtime.
	Adapter adapter.Adapter

	Logger Logger // if nil, NopLogger is used
	Hooks  Hooks  // if nil, NopHooks is used

	// SweepInterval is the delay between background expiry sweeps.
	// Zero or negative disables the sweeper; StartSweeper then does
	// nothing.
	SweepInterval time.Duration
}

// New builds a cache facade around opts.Adapter. Nothing is dialed until a
// session opens or the sweeper starts.
func New(opts Options) (*Cache, error) {
	if opts.Adapter == nil {
		return nil, fmt.Errorf("stashkv: adapter is required")
	}
	c := &Cache{
		adapter:       opts.Adapter,
		sweepInterval: opts.SweepInterval,
	}
	c.log = coalesce[Logger](opts.Logger, NopLogger{})
	c.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	return c, nil
}
