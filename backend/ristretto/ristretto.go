package ristretto

import (
	"context"
	"errors"
	"time"

	rc "github.com/dgraph-io/ristretto"

	"github.com/unkn0wn-root/tagcache/backend"
)

type CostFunc func(key string, value []byte) int64

type Ristretto struct {
	c          *rc.Cache
	cost       CostFunc
	defaultTTL time.Duration
	sync       bool
}

var _ backend.Backend = (*Ristretto)(nil)

type Config struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
	Metrics     bool
	Cost        CostFunc      // nil => 1 per entry
	DefaultTTL  time.Duration // applied for backend.DefaultTTL; <=0 => no expiry
	// Sync waits for the write buffers after every Set so a following Get
	// observes the value. Ristretto applies writes asynchronously otherwise.
	Sync bool
}

func New(cfg Config) (*Ristretto, error) {
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 || cfg.BufferItems <= 0 {
		return nil, errors.New("ristretto: invalid config")
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	cost := cfg.Cost
	if cost == nil {
		cost = func(string, []byte) int64 { return 1 }
	}
	return &Ristretto{c: c, cost: cost, defaultTTL: cfg.DefaultTTL, sync: cfg.Sync}, nil
}

func (p *Ristretto) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := p.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, _ := v.([]byte)
	if b == nil {
		// drop unexpected entry shape
		p.c.Del(key)
		return nil, false, nil
	}
	return b, true, nil
}

func (p *Ristretto) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if b, ok, _ := p.Get(ctx, k); ok {
			out[k] = b
		}
	}
	return out, nil
}

func (p *Ristretto) set(key string, value []byte, ttl time.Duration) bool {
	v := append([]byte(nil), value...)
	return p.c.SetWithTTL(key, v, p.cost(key, v), backend.Resolve(ttl, p.defaultTTL))
}

func (p *Ristretto) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	ok := p.set(key, value, ttl)
	if p.sync {
		p.c.Wait()
	}
	if !ok {
		return backend.ErrRejected
	}
	return nil
}

func (p *Ristretto) SetMany(_ context.Context, items map[string][]byte, ttl time.Duration) error {
	rejected := false
	for k, v := range items {
		if !p.set(k, v, ttl) {
			rejected = true
		}
	}
	if p.sync {
		p.c.Wait()
	}
	if rejected {
		return backend.ErrRejected
	}
	return nil
}

func (p *Ristretto) Delete(_ context.Context, key string) error {
	p.c.Del(key)
	return nil
}

func (p *Ristretto) Close(_ context.Context) error {
	p.c.Wait()
	p.c.Close()
	return nil
}

// Metrics exposes ristretto's counters; nil unless Config.Metrics was set.
func (p *Ristretto) Metrics() *rc.Metrics { return p.c.Metrics }
