package middleware

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"FinSignal/internal/domain/models"
	domrepo "FinSignal/internal/domain/repository"
)

var (
	// ErrInvalidBar marks bars rejected by validation.
	ErrInvalidBar = errors.New("invalid bar")
	// ErrOutOfOrder marks bars older than the last accepted bar of their symbol.
	ErrOutOfOrder = errors.New("bar out of order")
)

// Proc is the minimal processor interface the pipeline needs.
type Proc interface {
	Process(ctx context.Context, b *models.MarketBar) error
}

// RealtimePipeline sits between the bar stream and the engine. It validates,
// enforces per-symbol ordering, throttles floods and, once started, queues
// bars onto per-symbol-sharded workers so the stream reader never waits on
// model computation.
type RealtimePipeline struct {
	proc    Proc
	metrics domrepo.Metrics
	maxRPS  float64
	bufSize int
	workers int

	mu       sync.Mutex
	started  bool
	queues   []chan *models.MarketBar
	stopCh   chan struct{}
	wg       sync.WaitGroup
	lastSeen map[string]time.Time
	limiters map[string]*rate.Limiter

	transform func(*models.MarketBar) *models.MarketBar
}

type PipelineOption func(*RealtimePipeline)

// WithMaxRPS sets the max bars per second per symbol; 0 disables throttling.
func WithMaxRPS(n float64) PipelineOption {
	return func(p *RealtimePipeline) {
		if n >= 0 {
			p.maxRPS = n
		}
	}
}

// WithBufferSize sets the queue size of each worker.
func WithBufferSize(n int) PipelineOption {
	return func(p *RealtimePipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithWorkers sets the number of processing workers.
func WithWorkers(n int) PipelineOption {
	return func(p *RealtimePipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithTransform sets a hook that rewrites bars before validation of the result.
func WithTransform(fn func(*models.MarketBar) *models.MarketBar) PipelineOption {
	return func(p *RealtimePipeline) { p.transform = fn }
}

// NewRealtimePipeline creates a new pipeline.
func NewRealtimePipeline(proc Proc, metrics domrepo.Metrics, opts ...PipelineOption) *RealtimePipeline {
	p := &RealtimePipeline{
		proc:     proc,
		metrics:  metrics,
		maxRPS:   20,
		bufSize:  1000,
		workers:  4,
		lastSeen: make(map[string]time.Time),
		limiters: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the workers. Before Start, Process forwards synchronously.
func (p *RealtimePipeline) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.stopCh = make(chan struct{})
	p.queues = make([]chan *models.MarketBar, p.workers)
	for i := range p.queues {
		q := make(chan *models.MarketBar, p.bufSize)
		p.queues[i] = q
		p.wg.Add(1)
		go p.run(ctx, q)
	}
}

func (p *RealtimePipeline) run(ctx context.Context, q <-chan *models.MarketBar) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case b := <-q:
			p.forward(ctx, b)
		}
	}
}

// Stop stops the workers and waits for in-flight bars. Queued bars are dropped.
func (p *RealtimePipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	close(p.stopCh)
	p.mu.Unlock()
	p.wg.Wait()
}

// Process validates, orders and throttles a bar, then queues or forwards it.
func (p *RealtimePipeline) Process(ctx context.Context, b *models.MarketBar) error {
	if err := ValidateBar(b); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}
	if p.transform != nil {
		b = p.transform(b)
		if err := ValidateBar(b); err != nil {
			p.metrics.RecordError("pipeline_transform_invalid")
			return err
		}
	}

	p.mu.Lock()
	if last, ok := p.lastSeen[b.Symbol]; ok && b.Timestamp.Before(last) {
		p.mu.Unlock()
		p.metrics.RecordError("pipeline_out_of_order")
		return fmt.Errorf("%w: %s %s < %s", ErrOutOfOrder, b.Symbol, b.Timestamp.Format(time.RFC3339), last.Format(time.RFC3339))
	}
	if !p.allowLocked(b.Symbol) {
		p.mu.Unlock()
		p.metrics.RecordError("pipeline_throttle")
		return nil
	}
	p.lastSeen[b.Symbol] = b.Timestamp
	started := p.started
	var q chan *models.MarketBar
	if started {
		q = p.queues[shard(b.Symbol, len(p.queues))]
	}
	p.mu.Unlock()

	if !started {
		return p.forward(ctx, b)
	}
	select {
	case q <- b:
		p.metrics.RecordLatency("pipeline_buffer_depth", float64(len(q)))
		return nil
	default:
		p.metrics.RecordError("pipeline_buffer_full")
		return fmt.Errorf("pipeline buffer full for %s", b.Symbol)
	}
}

func (p *RealtimePipeline) forward(ctx context.Context, b *models.MarketBar) error {
	start := time.Now()
	if err := p.proc.Process(ctx, b); err != nil {
		p.metrics.RecordError("pipeline_process")
		return fmt.Errorf("pipeline downstream: %w", err)
	}
	p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
	return nil
}

func (p *RealtimePipeline) allowLocked(symbol string) bool {
	if p.maxRPS <= 0 {
		return true
	}
	l, ok := p.limiters[symbol]
	if !ok {
		burst := int(math.Max(1, math.Ceil(p.maxRPS)))
		l = rate.NewLimiter(rate.Limit(p.maxRPS), burst)
		p.limiters[symbol] = l
	}
	return l.Allow()
}

func shard(symbol string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(symbol))
	return int(h.Sum32() % uint32(n))
}

// ValidateBar rejects bars with missing identity, non-positive or non-finite
// prices, negative volume or an inverted range.
func ValidateBar(b *models.MarketBar) error {
	if b == nil {
		return fmt.Errorf("%w: nil", ErrInvalidBar)
	}
	if b.Symbol == "" {
		return fmt.Errorf("%w: symbol empty", ErrInvalidBar)
	}
	if b.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp missing", ErrInvalidBar)
	}
	for _, v := range []float64{b.Open, b.High, b.Low, b.Close} {
		if !(v > 0) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-positive price", ErrInvalidBar)
		}
	}
	if b.Volume < 0 || math.IsNaN(b.Volume) || math.IsInf(b.Volume, 0) {
		return fmt.Errorf("%w: invalid volume", ErrInvalidBar)
	}
	if b.High < b.Low {
		return fmt.Errorf("%w: high below low", ErrInvalidBar)
	}
	return nil
}
