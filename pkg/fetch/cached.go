package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/go-batches/pkg/batches"
	"github.com/Sternrassler/go-batches/pkg/cache"
	"github.com/Sternrassler/go-batches/pkg/logging"
)

// CacheConfig configures the Cached decorator.
type CacheConfig struct {
	// Source names the cached upstream in cache keys
	Source string `yaml:"source"`

	// MemorySize is the number of batches kept in memory (0 disables the tier)
	MemorySize int `yaml:"memory_size"`

	// MemoryTTL is the lifetime of in-memory batches
	MemoryTTL time.Duration `yaml:"memory_ttl"`

	// Redis is the optional shared tier
	Redis *cache.Manager `yaml:"-"`

	// RedisTTL is the lifetime of batches stored in Redis
	RedisTTL time.Duration `yaml:"redis_ttl"`

	// Logger overrides the component logger
	Logger *zerolog.Logger `yaml:"-"`
}

// DefaultCacheConfig returns a memory-only cache configuration for source.
func DefaultCacheConfig(source string) CacheConfig {
	return CacheConfig{
		Source:     source,
		MemorySize: 256,
		MemoryTTL:  60 * time.Second,
		RedisTTL:   cache.DefaultTTL,
	}
}

// Cached is a read-through batch cache in front of another fetcher.
//
// Lookups go memory, then Redis, then the wrapped fetcher. Errors are never
// cached. A failing cache tier is logged and skipped. Results of fetches that
// were cancelled, or that started before the last Purge, are returned but not
// stored.
type Cached[T any] struct {
	next   batches.Fetcher[T]
	source string
	memory *expirable.LRU[string, batches.Batch[T]]
	redis  *cache.Manager
	ttl    time.Duration
	logger zerolog.Logger

	// purges counts Purge calls.
	purges atomic.Uint64
}

// NewCached wraps next with the configured cache tiers.
func NewCached[T any](next batches.Fetcher[T], cfg CacheConfig) (*Cached[T], error) {
	if next == nil {
		return nil, batches.ErrNilFetch
	}
	if cfg.Source == "" {
		return nil, fmt.Errorf("cache source is required")
	}

	logger := logging.NewLogger("cache")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	c := &Cached[T]{
		next:   next,
		source: cfg.Source,
		redis:  cfg.Redis,
		ttl:    cfg.RedisTTL,
		logger: logger.With().Str("source", cfg.Source).Logger(),
	}
	if cfg.MemorySize > 0 {
		c.memory = expirable.NewLRU[string, batches.Batch[T]](cfg.MemorySize, nil, cfg.MemoryTTL)
	}

	return c, nil
}

// Fetch implements batches.Fetcher.
func (c *Cached[T]) Fetch(ctx context.Context, cursor batches.Cursor) (batches.Batch[T], error) {
	key := cache.Key{Source: c.source, Cursor: cursor}
	k := key.String()
	epoch := c.purges.Load()

	if c.memory != nil {
		if b, ok := c.memory.Get(k); ok {
			cache.CacheHits.WithLabelValues("memory").Inc()
			c.logger.Debug().Str("cursor", cursor.String()).Str("layer", "memory").Msg("Cache hit")
			return b, nil
		}
	}

	if c.redis != nil {
		b, err := c.getRedis(ctx, key)
		switch {
		case err == nil:
			c.logger.Debug().Str("cursor", cursor.String()).Str("layer", "redis").Msg("Cache hit")
			if c.memory != nil && c.current(ctx, epoch) {
				c.memory.Add(k, b)
			}
			return b, nil
		case errors.Is(err, cache.ErrCacheMiss):
		default:
			c.logger.Warn().Err(err).Str("cursor", cursor.String()).Msg("Cache get error")
		}
	} else if c.memory != nil {
		cache.CacheMisses.Inc()
	}

	b, err := c.next.Fetch(ctx, cursor)
	if err != nil {
		return b, err
	}

	if !c.current(ctx, epoch) {
		c.logger.Debug().Str("cursor", cursor.String()).Msg("Batch superseded, not cached")
		return b, nil
	}
	if c.memory != nil {
		c.memory.Add(k, b)
	}
	if c.redis != nil {
		c.setRedis(ctx, key, b)
	}

	return b, nil
}

// current reports whether a result fetched under epoch may still be stored.
func (c *Cached[T]) current(ctx context.Context, epoch uint64) bool {
	return ctx.Err() == nil && c.purges.Load() == epoch
}

func (c *Cached[T]) getRedis(ctx context.Context, key cache.Key) (batches.Batch[T], error) {
	entry, err := c.redis.Get(ctx, key)
	if err != nil {
		return batches.Batch[T]{}, err
	}
	return cache.DecodeBatch[T](entry)
}

func (c *Cached[T]) setRedis(ctx context.Context, key cache.Key, b batches.Batch[T]) {
	entry, err := cache.EncodeBatch(b, c.ttl)
	if err != nil {
		cache.CacheErrors.WithLabelValues("encode").Inc()
		c.logger.Warn().Err(err).Str("cursor", key.Cursor.String()).Msg("Failed to encode batch")
		return
	}

	if err := c.redis.Set(ctx, key, entry); err != nil {
		c.logger.Warn().Err(err).Str("cursor", key.Cursor.String()).Msg("Failed to cache batch")
	}
}

// Purge drops every cached batch of the source from both tiers. Fetches still
// in flight when Purge is called do not repopulate the cache.
func (c *Cached[T]) Purge(ctx context.Context) error {
	c.purges.Add(1)
	if c.memory != nil {
		c.memory.Purge()
	}
	if c.redis != nil {
		if err := c.redis.DeleteSource(ctx, c.source); err != nil {
			return fmt.Errorf("purge %s: %w", c.source, err)
		}
	}
	return nil
}
