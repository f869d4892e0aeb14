package tagcache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/tagcache/backend"
	"github.com/unkn0wn-root/tagcache/backend/memory"
)

// spyBackend wraps a memory backend, counts round trips and can be told to fail.
type spyBackend struct {
	*memory.Memory

	mu          sync.Mutex
	gets        int
	getManys    [][]string
	sets        []string
	setManys    int
	deletes     []string
	lastTTL     time.Duration
	failRead    error
	failGetMany error // batch reads only
	failWrite   error
	failDel     error
}

var _ backend.Backend = (*spyBackend)(nil)

func newSpy() *spyBackend { return &spyBackend{Memory: memory.New(memory.Config{})} }

func (s *spyBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	s.gets++
	err := s.failRead
	s.mu.Unlock()
	if err != nil {
		return nil, false, err
	}
	return s.Memory.Get(ctx, key)
}

func (s *spyBackend) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	s.mu.Lock()
	s.getManys = append(s.getManys, append([]string(nil), keys...))
	err := s.failRead
	if err == nil {
		err = s.failGetMany
	}
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.Memory.GetMany(ctx, keys)
}

func (s *spyBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	s.sets = append(s.sets, key)
	s.lastTTL = ttl
	err := s.failWrite
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Memory.Set(ctx, key, value, ttl)
}

func (s *spyBackend) SetMany(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	s.mu.Lock()
	s.setManys++
	err := s.failWrite
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Memory.SetMany(ctx, items, ttl)
}

func (s *spyBackend) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	s.deletes = append(s.deletes, key)
	err := s.failDel
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Memory.Delete(ctx, key)
}

func (s *spyBackend) reads() (gets, getManys int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets, len(s.getManys)
}

func (s *spyBackend) resetCounts() {
	s.mu.Lock()
	s.gets, s.getManys, s.sets, s.setManys, s.deletes = 0, nil, nil, 0, nil
	s.mu.Unlock()
}

type hookEvent struct {
	kind string
	key  string
	info string
}

type recHooks struct {
	mu     sync.Mutex
	events []hookEvent
}

func (h *recHooks) add(kind, key, info string) {
	h.mu.Lock()
	h.events = append(h.events, hookEvent{kind, key, info})
	h.mu.Unlock()
}

func (h *recHooks) Hit(key string)                             { h.add("hit", key, "") }
func (h *recHooks) Miss(key, reason string)                    { h.add("miss", key, reason) }
func (h *recHooks) BackendReadError(op string, _ int, _ error) { h.add("read_error", "", op) }
func (h *recHooks) BackendWriteError(key string, _ error)      { h.add("write_error", key, "") }
func (h *recHooks) WriteRejected(key string)                   { h.add("rejected", key, "") }
func (h *recHooks) TagsMinted(tags []string)                   { h.add("minted", CreateKey(tags), "") }

func (h *recHooks) count(kind string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, e := range h.events {
		if e.kind == kind {
			n++
		}
	}
	return n
}

// lastMissKey returns the key of the most recent miss.
func (h *recHooks) lastMissKey() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := len(h.events) - 1; i >= 0; i-- {
		if h.events[i].kind == "miss" {
			return h.events[i].key
		}
	}
	return ""
}

func (h *recHooks) lastMiss() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := len(h.events) - 1; i >= 0; i-- {
		if h.events[i].kind == "miss" {
			return h.events[i].info
		}
	}
	return ""
}

type logLine struct {
	level string
	msg   string
}

type recLogger struct {
	mu    sync.Mutex
	lines []logLine
}

func (l *recLogger) add(level, msg string) {
	l.mu.Lock()
	l.lines = append(l.lines, logLine{level, msg})
	l.mu.Unlock()
}

func (l *recLogger) Debug(msg string, _ Fields) { l.add("debug", msg) }
func (l *recLogger) Info(msg string, _ Fields)  { l.add("info", msg) }
func (l *recLogger) Warn(msg string, _ Fields)  { l.add("warn", msg) }
func (l *recLogger) Error(msg string, _ Fields) { l.add("error", msg) }

func (l *recLogger) has(level string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ln := range l.lines {
		if ln.level == level {
			return true
		}
	}
	return false
}

// counter is a cached computation that records how often it ran.
type counter struct {
	mu sync.Mutex
	n  int
}

func (c *counter) inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *counter) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func mustCached[V any](t *testing.T, sig Signature, fn Func[V], opts Options[V]) *Cached[V] {
	t.Helper()
	c, err := New(sig, fn, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}
