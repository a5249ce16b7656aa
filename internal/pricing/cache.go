package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"

	"taxScope/internal/model"
)

// SampleCache stores fetched feed windows.
type SampleCache interface {
	Get(ctx context.Context, key string) ([]model.PriceSample, bool, error)
	Set(ctx context.Context, key string, samples []model.PriceSample, ttl time.Duration) error
}

// MemoryCache is an in-process SampleCache.
type MemoryCache struct {
	c *gocache.Cache
}

func NewMemoryCache(defaultTTL time.Duration) *MemoryCache {
	return &MemoryCache{c: gocache.New(defaultTTL, 2*defaultTTL)}
}

func (m *MemoryCache) Get(_ context.Context, key string) ([]model.PriceSample, bool, error) {
	v, ok := m.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	return v.([]model.PriceSample), true, nil
}

func (m *MemoryCache) Set(_ context.Context, key string, samples []model.PriceSample, ttl time.Duration) error {
	m.c.Set(key, samples, ttl)
	return nil
}

// RedisCache shares feed windows across runs through Redis.
type RedisCache struct {
	Client *redis.Client
	Prefix string
}

func NewRedisCache(opt *redis.Options, prefix string) *RedisCache {
	return &RedisCache{Client: redis.NewClient(opt), Prefix: prefix}
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]model.PriceSample, bool, error) {
	b, err := r.Client.Get(ctx, r.Prefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var samples []model.PriceSample
	if err := json.Unmarshal(b, &samples); err != nil {
		return nil, false, fmt.Errorf("decode cached samples: %w", err)
	}
	return samples, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, samples []model.PriceSample, ttl time.Duration) error {
	b, err := json.Marshal(samples)
	if err != nil {
		return fmt.Errorf("encode samples: %w", err)
	}
	return r.Client.Set(ctx, r.Prefix+key, b, ttl).Err()
}

// Close releases the Redis connection pool.
func (r *RedisCache) Close() error {
	return r.Client.Close()
}
