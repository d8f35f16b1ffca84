package cache

import (
	"context"
	"errors"
	"time"

	pkgcache "FinSignal/pkg/cache"
)

// RedisCache adapts the shared Redis store to BytesCache.
type RedisCache struct {
	store   *pkgcache.RedisCache
	timeout time.Duration
}

func NewRedisCache(store *pkgcache.RedisCache) *RedisCache {
	return &RedisCache{store: store, timeout: 500 * time.Millisecond}
}

func (r *RedisCache) GetBytes(key string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	b, err := r.store.GetBytes(ctx, "resp:"+key)
	if err != nil {
		if errors.Is(err, pkgcache.ErrCacheMiss) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return b, true, nil
}

func (r *RedisCache) SetBytes(key string, value []byte, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	return r.store.SetBytes(ctx, "resp:"+key, value, ttl)
}
