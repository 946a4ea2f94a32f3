package terminology

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	arc "github.com/hashicorp/golang-lru/arc/v2"
	"go.uber.org/zap"
)

// CacheResolver memoizes expansions from an underlying resolver in an
// in-memory ARC cache.  Deferrals and errors are not cached.
type CacheResolver struct {
	next  Resolver
	cache *arc.ARCCache[string, *ValueSet]
}

func NewCacheResolver(next Resolver, size int) (*CacheResolver, error) {
	cache, err := arc.NewARC[string, *ValueSet](size)
	if err != nil {
		return nil, err
	}
	return &CacheResolver{next: next, cache: cache}, nil
}

var _ Resolver = (*CacheResolver)(nil)

func (c *CacheResolver) Expand(ctx context.Context, url string) (*ValueSet, error) {
	if vs, ok := c.cache.Get(url); ok {
		return vs, nil
	}
	vs, err := c.next.Expand(ctx, url)
	if err != nil || vs == nil {
		return vs, err
	}
	c.cache.Add(url, vs)
	return vs, nil
}

// RedisClient is the slice of the redis API the resolver uses; qualifying
// clients include *redis.Client and *redis.ClusterClient.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisResolver shares expansions across processes through redis, storing
// each as JSON under "fhirpath:valueset:<url>".  Redis outages degrade to
// the underlying resolver rather than failing expansion.
type RedisResolver struct {
	next   Resolver
	client RedisClient
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisResolver(next Resolver, client RedisClient, ttl time.Duration, logger *zap.Logger) *RedisResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisResolver{next: next, client: client, ttl: ttl, logger: logger}
}

var _ Resolver = (*RedisResolver)(nil)

func (r *RedisResolver) Expand(ctx context.Context, url string) (*ValueSet, error) {
	key := "fhirpath:valueset:" + url
	data, err := r.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var vs ValueSet
		if err := json.Unmarshal(data, &vs); err == nil {
			return &vs, nil
		}
		r.logger.Warn("discarding undecodable cached expansion", zap.String("url", url))
	case err != redis.Nil:
		r.logger.Warn("redis expansion cache unavailable",
			zap.String("url", url),
			zap.Error(err))
	}
	vs, err := r.next.Expand(ctx, url)
	if err != nil || vs == nil {
		return vs, err
	}
	if data, err := json.Marshal(vs); err == nil {
		if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
			r.logger.Warn("caching expansion in redis failed",
				zap.String("url", url),
				zap.Error(err))
		}
	}
	return vs, nil
}
