package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type topicHandler string

func (h topicHandler) Topic() string                        { return string(h) }
func (h topicHandler) Handle(context.Context, []byte) error { return nil }

func TestBackoffWithJitter(t *testing.T) {
	lo, hi := 100*time.Millisecond, time.Second
	for attempt := 1; attempt <= 8; attempt++ {
		exp := lo << uint(attempt-1)
		if exp > hi {
			exp = hi
		}
		for i := 0; i < 20; i++ {
			d := backoffWithJitter(lo, hi, attempt)
			assert.LessOrEqual(t, d, exp)
			assert.GreaterOrEqual(t, d, exp/2)
		}
	}
	assert.Positive(t, backoffWithJitter(0, 0, 1))
}

func TestNewConsumer(t *testing.T) {
	_, err := NewConsumer(nil)
	assert.Error(t, err)

	c, err := NewConsumer(nil, WithConsumerBrokers([]string{"localhost:9092"}), WithConsumerWorkers(3), WithConsumerRetry(5, time.Millisecond, 10*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, 3, c.cfg.WorkerCount)
	assert.Equal(t, 5, c.cfg.RetryMax)
	assert.Nil(t, c.dlq)

	assert.Error(t, c.Start(), "no handlers")

	c.RegisterHandler(topicHandler("bars"))
	c.RegisterHandler(topicHandler("bars"))
	assert.Len(t, c.handlers, 1)
}

func TestPartitionLockIsShared(t *testing.T) {
	c, err := NewConsumer(nil, WithConsumerBrokers([]string{"localhost:9092"}))
	require.NoError(t, err)
	assert.Same(t, c.partitionLock("bars", 0), c.partitionLock("bars", 0))
	assert.NotSame(t, c.partitionLock("bars", 0), c.partitionLock("bars", 1))
}

func TestNewProducer(t *testing.T) {
	_, err := NewProducer()
	assert.Error(t, err)

	p, err := NewProducer(WithBrokers([]string{"localhost:9092"}), WithCompression("zstd"), WithHashByKey(false), WithBatching(50, time.Millisecond))
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, kafka.Zstd, p.writer.Compression)
	assert.IsType(t, &kafka.LeastBytes{}, p.writer.Balancer)
	assert.Equal(t, 50, p.writer.BatchSize)
}

func TestEncode(t *testing.T) {
	b, err := encode([]byte("raw"))
	require.NoError(t, err)
	assert.Equal(t, "raw", string(b))

	b, err = encode(map[string]int{"a": 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(b))

	_, err = encode(func() {})
	assert.Error(t, err)
}
