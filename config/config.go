// Package config builds a backend registry from a YAML/JSON/TOML file and the
// environment.
//
//	default: hot
//	backends:
//	  hot:
//	    kind: ristretto
//	    max_cost: 100000
//	  shared:
//	    kind: redis
//	    addrs: ["localhost:6379"]
//	    key_prefix: app
//	    default_ttl: 1h
//
// Every key present in the file can be overridden from the environment as
// TAGCACHE_<PATH>, e.g. TAGCACHE_BACKENDS_SHARED_PASSWORD. Aliases are case-insensitive and
// normalized to lower case.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"github.com/unkn0wn-root/tagcache/backend"
	"github.com/unkn0wn-root/tagcache/backend/bigcache"
	"github.com/unkn0wn-root/tagcache/backend/memcached"
	"github.com/unkn0wn-root/tagcache/backend/memory"
	"github.com/unkn0wn-root/tagcache/backend/redis"
	"github.com/unkn0wn-root/tagcache/backend/ristretto"
)

const EnvPrefix = "TAGCACHE"

// Backend kinds.
const (
	KindMemory    = "memory"
	KindRedis     = "redis"
	KindMemcached = "memcached"
	KindRistretto = "ristretto"
	KindBigCache  = "bigcache"
)

var ErrUnknownKind = errors.New("config: unknown backend kind")

type Config struct {
	Default   string             `mapstructure:"default"`
	TagPrefix string             `mapstructure:"tag_prefix"`
	Backends  map[string]Backend `mapstructure:"backends"`
}

// Backend holds the settings of one alias. Only the fields of its Kind are used.
type Backend struct {
	Kind       string        `mapstructure:"kind"`
	DefaultTTL time.Duration `mapstructure:"default_ttl"`

	// memory
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`

	// redis
	Addrs     []string `mapstructure:"addrs"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	DB        int      `mapstructure:"db"`
	KeyPrefix string   `mapstructure:"key_prefix"`

	// memcached
	Servers []string      `mapstructure:"servers"`
	Timeout time.Duration `mapstructure:"timeout"`

	// ristretto
	MaxCost     int64 `mapstructure:"max_cost"`
	NumCounters int64 `mapstructure:"num_counters"`
	BufferItems int64 `mapstructure:"buffer_items"`

	// bigcache
	LifeWindow         time.Duration `mapstructure:"life_window"`
	Shards             int           `mapstructure:"shards"`
	HardMaxCacheSizeMB int           `mapstructure:"hard_max_cache_size_mb"`
}

// Load reads path (format from its extension) after loading any existing
// dotenv files into the process environment.
func Load(path string, envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", f, err)
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("default", backend.DefaultAlias)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unable to decode: %w", err)
	}
	cfg.Default = strings.ToLower(cfg.Default)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks kinds and the default alias.
func (c *Config) Validate() error {
	if len(c.Backends) == 0 {
		return errors.New("config: no backends")
	}
	for alias, b := range c.Backends {
		switch b.Kind {
		case KindMemory, KindRedis, KindMemcached, KindRistretto, KindBigCache:
		default:
			return fmt.Errorf("%w %q for %q", ErrUnknownKind, b.Kind, alias)
		}
	}
	if _, ok := c.Backends[c.Default]; !ok && len(c.Backends) > 1 {
		return fmt.Errorf("config: default %q is not a configured backend", c.Default)
	}
	return nil
}

// Aliases returns the configured aliases in sorted order.
func (c *Config) Aliases() []string {
	out := make([]string, 0, len(c.Backends))
	for a := range c.Backends {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Register opens every backend and registers it in reg. With a single
// backend and no matching default it becomes the default. Backends opened
// before a failure are closed again.
func (c *Config) Register(reg *backend.Registry) error {
	opened := make(map[string]backend.Backend, len(c.Backends))
	for _, alias := range c.Aliases() {
		b, err := Open(c.Backends[alias])
		if err != nil {
			for _, o := range opened {
				_ = o.Close(context.Background())
			}
			return fmt.Errorf("config: open %q: %w", alias, err)
		}
		opened[alias] = b
	}
	for alias, b := range opened {
		if err := reg.Register(alias, b); err != nil {
			return err
		}
	}
	def := c.Default
	if _, ok := opened[def]; !ok {
		def = c.Aliases()[0]
	}
	return reg.SetDefault(def)
}

// Open builds the adapter described by b.
func Open(b Backend) (backend.Backend, error) {
	switch b.Kind {
	case KindMemory:
		return memory.New(memory.Config{DefaultTTL: b.DefaultTTL, CleanupInterval: b.CleanupInterval}), nil
	case KindRedis:
		addrs := b.Addrs
		if len(addrs) == 0 {
			addrs = []string{"localhost:6379"}
		}
		client := goredis.NewUniversalClient(&goredis.UniversalOptions{
			Addrs:    addrs,
			Username: b.Username,
			Password: b.Password,
			DB:       b.DB,
		})
		return redis.New(redis.Config{Client: client, KeyPrefix: b.KeyPrefix, DefaultTTL: b.DefaultTTL, CloseClient: true})
	case KindMemcached:
		return memcached.New(memcached.Config{Servers: b.Servers, Timeout: b.Timeout, DefaultTTL: b.DefaultTTL})
	case KindRistretto:
		maxCost := coalesce(b.MaxCost, 1<<20)
		return ristretto.New(ristretto.Config{
			MaxCost:     maxCost,
			NumCounters: coalesce(b.NumCounters, 10*maxCost),
			BufferItems: coalesce(b.BufferItems, 64),
			DefaultTTL:  b.DefaultTTL,
		})
	case KindBigCache:
		return bigcache.New(bigcache.Config{
			LifeWindow:         coalesce(b.LifeWindow, 10*time.Minute),
			Shards:             b.Shards,
			HardMaxCacheSizeMB: b.HardMaxCacheSizeMB,
		})
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownKind, b.Kind)
}

func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
