// Package cache provides the read-path response cache. Entries expire after
// a TTL, concurrent loads for the same key are collapsed into one, and
// mutations invalidate whole key prefixes. Nothing stored here is needed for
// correctness: a missing or failing backend only costs extra reads.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Backend stores serialized entries. Every Invalidate advances a
// generation counter, and SetIfGeneration must check the counter and write
// atomically so a load that overlapped an invalidation is never stored.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Generation(ctx context.Context) (uint64, error)
	SetIfGeneration(ctx context.Context, key string, value []byte, ttl time.Duration, generation uint64) (bool, error)
	Invalidate(ctx context.Context, prefixes ...string) error
	Close() error
}

// Options configures a Cache.
type Options struct {
	TTL    time.Duration
	Logger *zap.Logger
	// OnResult is called with "hit", "miss" or "error" for every lookup.
	OnResult func(result string)
}

// Cache wraps a Backend with request de-duplication and invalidation.
type Cache struct {
	backend    Backend
	ttl        time.Duration
	log        *zap.Logger
	onResult   func(string)
	group      singleflight.Group
}

// New creates a cache over the given backend.
func New(backend Backend, opts Options) *Cache {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	onResult := opts.OnResult
	if onResult == nil {
		onResult = func(string) {}
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cache{
		backend:  backend,
		ttl:      ttl,
		log:      log,
		onResult: onResult,
	}
}

// Fetch returns the cached value for key or loads, stores and returns it.
// Concurrent callers for the same key share a single load. A nil cache
// always calls load.
func Fetch[T any](ctx context.Context, c *Cache, key string, load func(context.Context) (T, error)) (T, error) {
	if c == nil {
		return load(ctx)
	}

	if data, ok, err := c.backend.Get(ctx, key); err != nil {
		c.onResult("error")
		c.log.Warn("cache read failed", zap.String("key", key), zap.Error(err))
	} else if ok {
		var cached T
		if err := json.Unmarshal(data, &cached); err == nil {
			c.onResult("hit")
			return cached, nil
		}
		c.log.Warn("cache entry undecodable", zap.String("key", key))
	}
	c.onResult("miss")

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		generation, genErr := c.backend.Generation(ctx)
		value, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if genErr != nil {
			c.log.Warn("cache generation unavailable", zap.String("key", key), zap.Error(genErr))
			return value, nil
		}
		c.store(ctx, key, value, generation)
		return value, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

func (c *Cache) store(ctx context.Context, key string, value any, generation uint64) {
	data, err := json.Marshal(value)
	if err != nil {
		c.log.Warn("cache entry not serializable", zap.String("key", key), zap.Error(err))
		return
	}
	stored, err := c.backend.SetIfGeneration(ctx, key, data, c.ttl, generation)
	if err != nil {
		c.log.Warn("cache write failed", zap.String("key", key), zap.Error(err))
		return
	}
	if !stored {
		c.log.Debug("cache entry invalidated while loading", zap.String("key", key))
	}
}

// Invalidate drops every entry under the given prefixes. Errors are logged,
// entries that survive a failed delete still expire with their TTL.
func (c *Cache) Invalidate(ctx context.Context, prefixes ...string) {
	if c == nil {
		return
	}
	if err := c.backend.Invalidate(ctx, prefixes...); err != nil {
		c.log.Warn("cache invalidation failed", zap.Strings("prefixes", prefixes), zap.Error(err))
	}
}

// Close releases the backend.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.backend.Close()
}
