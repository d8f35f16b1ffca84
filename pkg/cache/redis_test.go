package cache

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisCacheBytes(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewRedisCacheFromClient(db, "fs")
	ctx := context.Background()

	mock.ExpectSet("fs:k", []byte("v"), time.Minute).SetVal("OK")
	require.NoError(t, c.SetBytes(ctx, "k", []byte("v"), time.Minute))

	mock.ExpectGet("fs:k").SetVal("v")
	got, err := c.GetBytes(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	mock.ExpectGet("fs:missing").RedisNil()
	_, err = c.GetBytes(ctx, "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisCacheLock(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewRedisCacheFromClient(db, "fs")
	ctx := context.Background()

	mock.ExpectSetNX("fs:lock:a", "locked", time.Second).SetVal(true)
	ok, err := c.TryLock(ctx, "lock:a", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectDel("fs:lock:a").SetVal(1)
	require.NoError(t, c.Unlock(ctx, "lock:a"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGenerateKey(t *testing.T) {
	assert.Equal(t, "model:AAPL:ensemble", GenerateKey("model", "AAPL", "ensemble"))
}
