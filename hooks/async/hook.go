// Package asynchook moves hook work off the call path.
//
// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{MissEvery: 100})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	users, _ := tagcache.New(sig, loadUser, tagcache.Options[User]{
//	    Tags:  tagcache.Tags("users"),
//	    Hooks: hooks, // or `raw` if you don't want async
//	})
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/tagcache"
)

// Hooks forwards events to inner from a fixed pool of workers. Events that do
// not fit in the queue are dropped and counted.
type Hooks struct {
	inner   tagcache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

var _ tagcache.Hooks = (*Hooks)(nil)

func New(inner tagcache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}
	if inner == nil {
		inner = tagcache.NopHooks{}
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

// Close drains the queue and stops the workers. Events after Close are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

// Dropped returns how many events were discarded.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default: // drop
		h.dropped.Add(1)
	}
}

func (h *Hooks) Hit(k string)           { h.try(func() { h.inner.Hit(k) }) }
func (h *Hooks) Miss(k, r string)       { h.try(func() { h.inner.Miss(k, r) }) }
func (h *Hooks) WriteRejected(k string) { h.try(func() { h.inner.WriteRejected(k) }) }
func (h *Hooks) TagsMinted(tags []string) {
	cp := append([]string(nil), tags...)
	h.try(func() { h.inner.TagsMinted(cp) })
}
func (h *Hooks) BackendReadError(op string, n int, err error) {
	h.try(func() { h.inner.BackendReadError(op, n, err) })
}
func (h *Hooks) BackendWriteError(k string, err error) {
	h.try(func() { h.inner.BackendWriteError(k, err) })
}
