package adapter

import (
	"context"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"
	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"github.com/wwetzel/maven-demo-day/pkg/utils/vector"
)

// EmbeddingCache stores computed embeddings keyed by a digest of model, dimension and text
type EmbeddingCache interface {
	Get(ctx context.Context, key string) ([]float32, bool, error)
	Set(ctx context.Context, key string, vec []float32) error
}

type memoryCache struct {
	cache *gocache.Cache
}

// NewMemoryCache creates a process-local embedding cache
func NewMemoryCache(ttl time.Duration) EmbeddingCache {
	return &memoryCache{cache: gocache.New(ttl, 2*ttl)}
}

func (c *memoryCache) Get(ctx context.Context, key string) ([]float32, bool, error) {
	v, ok := c.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	vec, ok := v.([]float32)
	return vec, ok, nil
}

func (c *memoryCache) Set(ctx context.Context, key string, vec []float32) error {
	c.cache.Set(key, vec, gocache.DefaultExpiration)
	return nil
}

type redisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache creates an embedding cache shared between processes
func NewRedisCache(ctx context.Context, addr, password string, db int, ttl time.Duration) (EmbeddingCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to connect to redis", goerr.V("addr", addr))
	}

	return &redisCache{
		client: client,
		prefix: "exitbot:embedding:",
		ttl:    ttl,
	}, nil
}

func (c *redisCache) Get(ctx context.Context, key string) ([]float32, bool, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, goerr.Wrap(err, "failed to get embedding from redis", goerr.V("key", key))
	}

	vec, err := vector.Decode(data)
	if err != nil {
		return nil, false, goerr.Wrap(err, "broken embedding in redis", goerr.V("key", key))
	}
	return vec, true, nil
}

func (c *redisCache) Set(ctx context.Context, key string, vec []float32) error {
	if err := c.client.Set(ctx, c.prefix+key, vector.Encode(vec), c.ttl).Err(); err != nil {
		return goerr.Wrap(err, "failed to set embedding to redis", goerr.V("key", key))
	}
	return nil
}
