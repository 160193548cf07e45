package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// setIfGeneration writes KEYS[2] only while the counter in KEYS[1] still
// holds ARGV[1]. A missing counter counts as generation 0.
var setIfGeneration = redis.NewScript(`
local current = redis.call('GET', KEYS[1]) or '0'
if current ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
return 1
`)

// RedisBackend stores entries in Redis so several instances share them.
// The invalidation generation lives in Redis too, so an invalidation on
// one instance stops in-flight loads on every other instance from storing.
type RedisBackend struct {
	client        *redis.Client
	namespace     string
	generationKey string
}

// NewRedisBackend wraps a client. Keys are stored under namespace.
func NewRedisBackend(client *redis.Client, namespace string) *RedisBackend {
	if namespace != "" {
		namespace += ":"
	}
	return &RedisBackend{
		client:        client,
		namespace:     namespace,
		generationKey: namespace + "_generation",
	}
}

func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, r.namespace+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (r *RedisBackend) Generation(ctx context.Context) (uint64, error) {
	raw, err := r.client.Get(ctx, r.generationKey).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(raw, 10, 64)
}

func (r *RedisBackend) SetIfGeneration(ctx context.Context, key string, value []byte, ttl time.Duration, generation uint64) (bool, error) {
	stored, err := setIfGeneration.Run(ctx, r.client,
		[]string{r.generationKey, r.namespace + key},
		strconv.FormatUint(generation, 10), value, ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, err
	}
	return stored == 1, nil
}

// Invalidate bumps the shared generation before deleting, so a store that
// races the delete is rejected by the script.
func (r *RedisBackend) Invalidate(ctx context.Context, prefixes ...string) error {
	if err := r.client.Incr(ctx, r.generationKey).Err(); err != nil {
		return err
	}
	for _, prefix := range prefixes {
		if err := r.deletePrefix(ctx, prefix); err != nil {
			return err
		}
	}
	return nil
}

func (r *RedisBackend) deletePrefix(ctx context.Context, prefix string) error {
	iter := r.client.Scan(ctx, 0, r.namespace+prefix+"*", 100).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 100 {
			if err := r.client.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return r.client.Del(ctx, batch...).Err()
	}
	return nil
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}
