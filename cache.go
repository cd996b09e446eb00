package stashkv

import (
	"context"
	"sync"
	"time"

	"github.com/unkn0wn-root/stashkv/adapter"
)

// Cache is the engine's entry point. It owns the base adapter, scopes
// sessions over connected handles, and starts/stops the background TTL
// sweeper. Data operations are only reachable through a Session, so no
// caller can bypass the connect/create/close lifecycle.
type Cache struct {
	adapter       adapter.Adapter
	log           Logger
	hooks         Hooks
	sweepInterval time.Duration

	mu          sync.Mutex
	sweeper     *TTLWorker
	sweepHandle adapter.Adapter // connected handle owned by the running sweeper
}

// Session connects a fresh adapter handle, bootstraps schema and indexes,
// and runs fn with a Session over that handle. The handle is closed when fn
// returns, on success and error alike.
func (c *Cache) Session(ctx context.Context, fn func(s *Session) error) error {
	h, err := c.adapter.Connect(ctx)
	if err != nil {
		return err
	}
	if err := c.bootstrap(ctx, h); err != nil {
		_ = h.Close(ctx)
		return err
	}
	err = fn(&Session{adapter: h, log: c.log, hooks: c.hooks})
	cerr := h.Close(ctx)
	if err != nil {
		return err
	}
	return cerr
}

// bootstrap runs the idempotent schema and index creation that every
// session open performs.
func (c *Cache) bootstrap(ctx context.Context, h adapter.Adapter) error {
	if err := h.Create(ctx); err != nil {
		return err
	}
	return h.CreateIndex(ctx)
}

// StartSweeper connects a dedicated adapter handle and launches the
// periodic expiry sweep. The sweeper is independent of session lifecycle:
// it keeps running as sessions come and go, until StopSweeper or Close. A
// second Start replaces the running instance. With a non-positive
// SweepInterval this is a no-op.
func (c *Cache) StartSweeper(ctx context.Context) error {
	if c.sweepInterval <= 0 {
		c.log.Debug("sweeper disabled", Fields{"interval": c.sweepInterval})
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.stopSweeperLocked(ctx); err != nil {
		return err
	}

	h, err := c.adapter.Connect(ctx)
	if err != nil {
		return err
	}
	if err := c.bootstrap(ctx, h); err != nil {
		_ = h.Close(ctx)
		return err
	}

	w := NewTTLWorker(c.sweepInterval, h.DeleteExpired, c.log, c.hooks)
	w.Start(ctx)
	c.sweeper = w
	c.sweepHandle = h
	return nil
}

// StopSweeper cancels the running sweeper, waits for any in-flight sweep,
// and closes the sweeper's adapter handle. No sweep runs after it returns.
func (c *Cache) StopSweeper(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopSweeperLocked(ctx)
}

func (c *Cache) stopSweeperLocked(ctx context.Context) error {
	if c.sweeper == nil {
		return nil
	}
	c.sweeper.Stop()
	c.sweeper = nil
	h := c.sweepHandle
	c.sweepHandle = nil
	return h.Close(ctx)
}

// Close stops the sweeper. The base adapter holds no connection of its own;
// session handles are closed by their scopes.
func (c *Cache) Close(ctx context.Context) error {
	return c.StopSweeper(ctx)
}
