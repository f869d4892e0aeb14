// Package memory is an in-process map backend with per-entry TTLs and an
// optional janitor that sweeps expired entries.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/unkn0wn-root/tagcache/backend"
)

type entry struct {
	v   []byte
	exp time.Time // zero => no expiry
}

type Config struct {
	DefaultTTL      time.Duration // applied for backend.DefaultTTL; <=0 => no expiry
	CleanupInterval time.Duration // 0 => no background sweep (expired entries still miss)
	Now             func() time.Time
}

type Memory struct {
	mu         sync.RWMutex
	m          map[string]entry
	defaultTTL time.Duration
	now        func() time.Time

	ticker    *time.Ticker
	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

var _ backend.Backend = (*Memory)(nil)

func New(cfg Config) *Memory {
	m := &Memory{
		m:          make(map[string]entry),
		defaultTTL: cfg.DefaultTTL,
		now:        cfg.Now,
	}
	if m.now == nil {
		m.now = time.Now
	}
	if cfg.CleanupInterval > 0 {
		m.ticker = time.NewTicker(cfg.CleanupInterval)
		m.stopCh = make(chan struct{})
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for {
				select {
				case <-m.ticker.C:
					m.Sweep()
				case <-m.stopCh:
					return
				}
			}
		}()
	}
	return m
}

func (m *Memory) expiry(ttl time.Duration) time.Time {
	d := backend.Resolve(ttl, m.defaultTTL)
	if d <= 0 {
		return time.Time{}
	}
	return m.now().Add(d)
}

func (m *Memory) live(e entry, now time.Time) bool {
	return e.exp.IsZero() || now.Before(e.exp)
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	e, ok := m.m[key]
	m.mu.RUnlock()
	if !ok || !m.live(e, m.now()) {
		return nil, false, nil
	}
	return append([]byte(nil), e.v...), true, nil
}

// GetMany acquires the read lock once for the whole batch.
func (m *Memory) GetMany(_ context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	now := m.now()
	m.mu.RLock()
	for _, k := range keys {
		if e, ok := m.m[k]; ok && m.live(e, now) {
			out[k] = append([]byte(nil), e.v...)
		}
	}
	m.mu.RUnlock()
	return out, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := entry{v: append([]byte(nil), value...), exp: m.expiry(ttl)}
	m.mu.Lock()
	m.m[key] = e
	m.mu.Unlock()
	return nil
}

func (m *Memory) SetMany(_ context.Context, items map[string][]byte, ttl time.Duration) error {
	exp := m.expiry(ttl)
	m.mu.Lock()
	for k, v := range items {
		m.m[k] = entry{v: append([]byte(nil), v...), exp: exp}
	}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.m, key)
	m.mu.Unlock()
	return nil
}

// Sweep drops expired entries.
func (m *Memory) Sweep() {
	now := m.now()
	m.mu.Lock()
	for k, e := range m.m {
		if !m.live(e, now) {
			delete(m.m, k)
		}
	}
	m.mu.Unlock()
}

// Len reports the number of stored entries, expired ones included until swept.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.m)
}

// Keys returns the live keys in sorted order.
func (m *Memory) Keys() []string {
	now := m.now()
	m.mu.RLock()
	out := make([]string, 0, len(m.m))
	for k, e := range m.m {
		if m.live(e, now) {
			out = append(out, k)
		}
	}
	m.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Expiry returns the absolute expiry stored for key; zero means none.
func (m *Memory) Expiry(key string) (time.Time, bool) {
	m.mu.RLock()
	e, ok := m.m[key]
	m.mu.RUnlock()
	return e.exp, ok
}

func (m *Memory) Clear() {
	m.mu.Lock()
	m.m = make(map[string]entry)
	m.mu.Unlock()
}

func (m *Memory) Close(_ context.Context) error {
	m.closeOnce.Do(func() {
		if m.stopCh != nil {
			m.ticker.Stop()
			close(m.stopCh)
			m.wg.Wait()
		}
	})
	return nil
}
