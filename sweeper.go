package stashkv

import (
	"context"
	"sync"
	"time"
)

// TTLWorker periodically invokes a sweep function that physically removes
// expired entries. At most one sweep loop is active per worker: Start
// cancels and joins a previous instance before launching a new one, and
// Stop does not return until the in-flight sweep (if any) has finished.
// Sweep failures are logged and do not stop the loop.
type TTLWorker struct {
	interval time.Duration
	sweep    func(ctx context.Context) error
	log      Logger
	hooks    Hooks

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewTTLWorker builds a worker around sweep. The worker does not run until
// Start.
func NewTTLWorker(interval time.Duration, sweep func(ctx context.Context) error, log Logger, hooks Hooks) *TTLWorker {
	return &TTLWorker{
		interval: interval,
		sweep:    sweep,
		log:      coalesce[Logger](log, NopLogger{}),
		hooks:    coalesce[Hooks](hooks, NopHooks{}),
	}
}

// Start launches the sweep loop. A running instance is stopped and awaited
// first, so two sweepers never run concurrently for one worker.
func (w *TTLWorker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	w.cancel = cancel
	w.done = done
	go w.run(runCtx, done)
}

// Stop cancels the loop and waits for it to exit. After Stop returns no
// further sweep occurs until the next Start.
func (w *TTLWorker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
}

// Running reports whether a sweep loop is currently active.
func (w *TTLWorker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done == nil {
		return false
	}
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

func (w *TTLWorker) stopLocked() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
	w.cancel = nil
	w.done = nil
}

// run sweeps once immediately, then on every interval tick until cancelled.
// The inter-tick wait is a select on the context, so cancellation takes
// effect immediately rather than after the sleep expires.
func (w *TTLWorker) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		if err := w.sweep(ctx); err != nil {
			w.log.Error("ttl sweep failed", Fields{"err": err})
			w.hooks.SweepFailed(err)
		} else {
			w.hooks.SweepCompleted()
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
