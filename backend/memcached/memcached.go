package memcached

import (
	"context"
	"errors"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/unkn0wn-root/tagcache/backend"
	"github.com/unkn0wn-root/tagcache/internal/util"
)

// maxKeyLen is memcached's protocol limit on key length.
const maxKeyLen = 250

// relativeLimit is the largest expiration memcached treats as relative seconds;
// anything above is read as a unix timestamp.
const relativeLimit = 30 * 24 * time.Hour

var ErrNilClient = errors.New("memcached backend: nil client")

// client is the part of *memcache.Client the backend uses.
type client interface {
	Get(key string) (*memcache.Item, error)
	GetMulti(keys []string) (map[string]*memcache.Item, error)
	Set(item *memcache.Item) error
	Delete(key string) error
	Ping() error
}

var _ client = (*memcache.Client)(nil)

type Memcached struct {
	c          client
	defaultTTL time.Duration
	now        func() time.Time
}

var _ backend.Backend = (*Memcached)(nil)

type Config struct {
	Client     *memcache.Client // takes precedence over Servers
	Servers    []string
	Timeout    time.Duration // socket timeout; 0 => client default
	DefaultTTL time.Duration // applied for backend.DefaultTTL; <=0 => no expiry
}

func New(cfg Config) (*Memcached, error) {
	c := cfg.Client
	if c == nil {
		if len(cfg.Servers) == 0 {
			return nil, ErrNilClient
		}
		c = memcache.New(cfg.Servers...)
	}
	if cfg.Timeout > 0 {
		c.Timeout = cfg.Timeout
	}
	return &Memcached{c: c, defaultTTL: cfg.DefaultTTL, now: time.Now}, nil
}

// Key maps a cache key onto a memcached-legal key.
func Key(k string) string { return util.SafeKey(k, maxKeyLen) }

// expiration translates a TTL into memcached's int32 seconds convention.
func (m *Memcached) expiration(ttl time.Duration) int32 {
	d := backend.Resolve(ttl, m.defaultTTL)
	if d <= 0 {
		return 0
	}
	secs := int64((d + time.Second - 1) / time.Second)
	if d > relativeLimit {
		return int32(m.now().Add(d).Unix())
	}
	return int32(secs)
}

func (m *Memcached) Get(_ context.Context, key string) ([]byte, bool, error) {
	it, err := m.c.Get(Key(key))
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return it.Value, true, nil
}

func (m *Memcached) GetMany(_ context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	byMC := make(map[string]string, len(keys))
	mcKeys := make([]string, 0, len(keys))
	for _, k := range keys {
		mk := Key(k)
		if _, dup := byMC[mk]; !dup {
			mcKeys = append(mcKeys, mk)
		}
		byMC[mk] = k
	}
	items, err := m.c.GetMulti(mcKeys)
	if err != nil {
		return nil, err
	}
	for mk, it := range items {
		if k, ok := byMC[mk]; ok {
			out[k] = it.Value
		}
	}
	return out, nil
}

func (m *Memcached) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	return m.c.Set(&memcache.Item{Key: Key(key), Value: value, Expiration: m.expiration(ttl)})
}

// SetMany issues one Set per item; the memcached text protocol has no multi-set.
func (m *Memcached) SetMany(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	var errs []error
	for k, v := range items {
		if err := m.Set(ctx, k, v, ttl); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Memcached) Delete(_ context.Context, key string) error {
	err := m.c.Delete(Key(key))
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil
	}
	return err
}

func (m *Memcached) Ping(context.Context) error { return m.c.Ping() }

// Close is a no-op; idle connections are reaped by the client.
func (m *Memcached) Close(context.Context) error { return nil }
