package cache

import (
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgcache "FinSignal/pkg/cache"
)

func TestTTLCacheExpiry(t *testing.T) {
	c := NewTTLCache(4)
	now := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.SetBytes("a", []byte("1"), time.Second))
	b, ok, err := c.GetBytes("a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("1"), b)

	now = now.Add(2 * time.Second)
	_, ok, _ = c.GetBytes("a")
	assert.False(t, ok)
}

func TestTTLCacheCap(t *testing.T) {
	c := NewTTLCache(2)
	_ = c.SetBytes("a", []byte("1"), time.Minute)
	_ = c.SetBytes("b", []byte("2"), time.Hour)
	_ = c.SetBytes("c", []byte("3"), time.Hour)

	assert.Len(t, c.m, 2)
	_, ok, _ := c.GetBytes("a")
	assert.False(t, ok, "soonest expiring entry is evicted")
}

func TestRedisCacheMiss(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewRedisCache(pkgcache.NewRedisCacheFromClient(db, "fs"))

	mock.ExpectGet("fs:resp:k").RedisNil()
	_, ok, err := c.GetBytes("k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}
