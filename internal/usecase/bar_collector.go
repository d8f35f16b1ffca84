package usecase

import (
	"context"
	"time"

	"FinSignal/internal/domain/models"
	drepo "FinSignal/internal/domain/repository"
	mid "FinSignal/internal/middleware"
	"FinSignal/pkg/logger"
)

// BarCollector reads bars from the market stream and pushes them through the pipeline.
type BarCollector struct {
	stream  drepo.BarStream
	pipe    *mid.RealtimePipeline
	metrics drepo.Metrics
	log     *logger.Logger
}

// NewBarCollector creates a new BarCollector instance.
func NewBarCollector(stream drepo.BarStream, pipe *mid.RealtimePipeline, metrics drepo.Metrics, log *logger.Logger) *BarCollector {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &BarCollector{stream: stream, pipe: pipe, metrics: metrics, log: log}
}

// IsConnected returns true if the market stream is connected.
func (c *BarCollector) IsConnected() bool {
	return c.stream.IsConnected()
}

func (c *BarCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx); err != nil {
		return err
	}
	c.pipe.Start(ctx)
	barCh, errCh := c.stream.Read(ctx)
	go c.consume(ctx, barCh, errCh)
	return nil
}

func (c *BarCollector) consume(ctx context.Context, barCh <-chan *models.MarketBar, errCh <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err == nil {
				continue
			}
			c.metrics.RecordError("stream")
			c.log.Warn("bar stream error, reconnecting", logger.Error(err))
			if !c.reconnect(ctx) {
				return
			}
			barCh, errCh = c.stream.Read(ctx)
		case b, ok := <-barCh:
			if !ok {
				barCh = nil
				continue
			}
			if b == nil {
				continue
			}
			if err := c.pipe.Process(ctx, b); err != nil {
				c.log.Debug("bar rejected", logger.Symbol(b.Symbol), logger.Error(err))
			}
		}
	}
}

// reconnect retries with exponential backoff until it succeeds or ctx ends.
func (c *BarCollector) reconnect(ctx context.Context) bool {
	backoff := time.Second
	for {
		err := c.stream.Reconnect(ctx)
		if err == nil {
			c.log.Info("bar stream reconnected")
			return true
		}
		c.metrics.RecordError("stream_reconnect")
		c.log.Error("bar stream reconnect failed", logger.Error(err), logger.Duration("backoff", backoff))
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 30*time.Second)
	}
}

// Shutdown stops the pipeline and closes the stream.
func (c *BarCollector) Shutdown(ctx context.Context) error {
	c.pipe.Stop()
	return c.stream.Close()
}
