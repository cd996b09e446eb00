// Package asynchook decouples hook callbacks from cache hot paths by
// running them on a small worker pool. Events are dropped, not queued
// unboundedly, when the workers fall behind.
//
// usage:
//
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	cache, _ := stashkv.New(stashkv.Options{
//	    Adapter: ad,
//	    Hooks:   hooks, // or `raw` if you don't want async
//	})
package asynchook

import (
	"sync"

	"github.com/unkn0wn-root/stashkv"
)

type Hooks struct {
	inner stashkv.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

var _ stashkv.Hooks = (*Hooks)(nil)

func New(inner stashkv.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

func (h *Hooks) try(f func()) {
	select {
	case h.q <- f:
	default: // drop
	}
}

func (h *Hooks) SweepCompleted()     { h.try(func() { h.inner.SweepCompleted() }) }
func (h *Hooks) SweepFailed(e error) { h.try(func() { h.inner.SweepFailed(e) }) }
func (h *Hooks) BatchSetPartial(failed []string) {
	h.try(func() { h.inner.BatchSetPartial(failed) })
}
func (h *Hooks) TransactionRolledBack(e error) {
	h.try(func() { h.inner.TransactionRolledBack(e) })
}
