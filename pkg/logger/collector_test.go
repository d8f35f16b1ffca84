package logger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	mu    sync.Mutex
	batch [][]AggregatedLogEntry
}

func (c *capturePublisher) PublishMessage(_ context.Context, _ string, payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batch = append(c.batch, payload.([]AggregatedLogEntry))
	return nil
}

func (c *capturePublisher) batches() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batch)
}

func TestLogCollector_DeduplicatesEntries(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 10, Topic: "logs", Publisher: pub})
	defer c.Close()

	for i := 0; i < 5; i++ {
		c.AddLog("error", "train failed", map[string]interface{}{"symbol": "AAPL"}, "x.go:1")
	}
	c.AddLog("error", "train failed", map[string]interface{}{"symbol": "MSFT"}, "x.go:1")

	assert.Equal(t, 2, c.Pending())
}

func TestLogCollector_FlushesAtThreshold(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 2, Topic: "logs", Publisher: pub})
	defer c.Close()

	c.AddLog("error", "a", nil, "x.go:1")
	c.AddLog("error", "b", nil, "x.go:2")

	require.Eventually(t, func() bool { return pub.batches() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, c.Pending())
}

func TestLogger_WarningsCollectedWhenEnabled(t *testing.T) {
	pub := &capturePublisher{}
	l := NewNop()
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 100, Publisher: pub, IncludeWarnings: true})
	defer l.RemoveCollector()

	l.Warn("stale model", String("symbol", "AAPL"), Float64("accuracy", 0.4))
	l.Info("not collected")

	assert.Equal(t, 1, l.collector.Pending())
}

type slowPublisher struct {
	capturePublisher
	delay time.Duration
}

func (s *slowPublisher) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	time.Sleep(s.delay)
	return s.capturePublisher.PublishMessage(ctx, topic, payload)
}

func TestLogCollector_GroupsBySymbolAndModel(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, Topic: "logs", Publisher: pub})

	c.AddLog("error", "retrain failed", map[string]interface{}{"symbol": "AAPL", "model": "sequence", "error": "timeout"}, "x.go:1")
	c.AddLog("error", "retrain failed", map[string]interface{}{"symbol": "AAPL", "model": "sequence", "error": "no history"}, "x.go:1")
	c.AddLog("error", "retrain failed", map[string]interface{}{"symbol": "AAPL", "model": "ensemble", "error": "timeout"}, "x.go:1")
	assert.Equal(t, 2, c.Pending())

	c.Close()
	require.Equal(t, 1, pub.batches())
	batch := pub.batch[0]
	require.Len(t, batch, 2)
	byModel := map[string]AggregatedLogEntry{}
	for _, e := range batch {
		assert.Equal(t, "AAPL", e.Symbol)
		byModel[e.Model] = e
	}
	assert.Equal(t, 2, byModel["sequence"].Count)
	assert.Equal(t, "no history", byModel["sequence"].Fields["error"])
	assert.Equal(t, 1, byModel["ensemble"].Count)
}

func TestLogCollector_CloseWaitsForPublish(t *testing.T) {
	pub := &slowPublisher{delay: 50 * time.Millisecond}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, Topic: "logs", Publisher: pub})

	c.AddLog("warn", "stale model", nil, "x.go:1")
	c.Close()

	assert.Equal(t, 1, pub.batches())
}

func TestLogger_DomainFieldsShipped(t *testing.T) {
	pub := &capturePublisher{}
	l := NewNop()
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, Publisher: pub})

	l.Error("publish signal failed", SignalID("sig-1"), Symbol("MSFT"), Model("ensemble"), Error(errors.New("broker down")))
	l.Warn("not collected without warnings")
	l.RemoveCollector()

	require.Equal(t, 1, pub.batches())
	e := pub.batch[0][0]
	assert.Equal(t, "MSFT", e.Symbol)
	assert.Equal(t, "ensemble", e.Model)
	assert.Equal(t, "sig-1", e.Fields["signal_id"])
	assert.Equal(t, "broker down", e.Fields["error"])
	assert.Contains(t, e.Caller, "collector_test.go:")
}
