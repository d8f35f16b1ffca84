package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"FinSignal/internal/domain/models"
	domrepo "FinSignal/internal/domain/repository"
	"FinSignal/internal/services/features"
	"FinSignal/internal/services/signals"
	"FinSignal/pkg/logger"
)

var (
	// ErrStaleBar is returned when a bar is older than the last one ingested for its symbol.
	ErrStaleBar = errors.New("bar older than last ingested bar")
	// ErrUnknownSymbol is returned when no history exists for a symbol.
	ErrUnknownSymbol = errors.New("no history for symbol")
	// ErrNoBarStore is returned by history-backed operations without a bar store.
	ErrNoBarStore = errors.New("no bar store configured")
)

// EngineConfig selects the signal predictor and warm-up behaviour.
type EngineConfig struct {
	Predictor   string
	WarmupBars  int
	Timeframe   domrepo.Timeframe
	OutcomeBand float64
}

// DefaultEngineConfig returns the documented defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Predictor:   models.ModelEnsemble,
		WarmupBars:  600,
		Timeframe:   domrepo.DefaultTimeframe(),
		OutcomeBand: 0.001,
	}
}

// symbolState is the single-writer state of one symbol.
type symbolState struct {
	mu     sync.Mutex
	last   models.MarketBar
	seen   bool
	preds  map[string]models.Direction
	signal *models.TradingSignal
}

// SignalEngine runs bars through features, predictors and the synthesizer and
// hands the resulting signals downstream. Bars of one symbol are processed
// serially; different symbols proceed in parallel.
type SignalEngine struct {
	cfg       EngineConfig
	features  *features.Extractor
	lifecycle *LifecycleManager
	synth     *signals.Synthesizer
	publisher domrepo.SignalPublisher
	store     domrepo.SignalStore
	bars      domrepo.BarStore
	metrics   domrepo.Metrics
	log       *logger.Logger

	symbols sync.Map // string -> *symbolState
}

// EngineOption configures a SignalEngine.
type EngineOption func(*SignalEngine)

// WithPublisher sets the downstream signal publisher.
func WithPublisher(p domrepo.SignalPublisher) EngineOption {
	return func(e *SignalEngine) { e.publisher = p }
}

// WithSignalStore sets the signal audit store.
func WithSignalStore(s domrepo.SignalStore) EngineOption {
	return func(e *SignalEngine) { e.store = s }
}

// WithBarStore sets the historical bar source used for warm-up and training.
func WithBarStore(s domrepo.BarStore) EngineOption {
	return func(e *SignalEngine) { e.bars = s }
}

func NewSignalEngine(cfg EngineConfig, fx *features.Extractor, lc *LifecycleManager, synth *signals.Synthesizer, metrics domrepo.Metrics, log *logger.Logger, opts ...EngineOption) *SignalEngine {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	e := &SignalEngine{
		cfg:       cfg,
		features:  fx,
		lifecycle: lc,
		synth:     synth,
		metrics:   metrics,
		log:       log,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Lifecycle exposes the model lifecycle manager.
func (e *SignalEngine) Lifecycle() *LifecycleManager { return e.lifecycle }

// Features exposes the feature extractor.
func (e *SignalEngine) Features() *features.Extractor { return e.features }

func (e *SignalEngine) state(symbol string) *symbolState {
	if v, ok := e.symbols.Load(symbol); ok {
		return v.(*symbolState)
	}
	v, _ := e.symbols.LoadOrStore(symbol, &symbolState{})
	return v.(*symbolState)
}

// Ingest processes one bar. It returns the emitted signal, or nil when the
// cycle produced none. A non-nil error never loses the signal: publish and
// store failures are reported alongside it.
func (e *SignalEngine) Ingest(ctx context.Context, bar models.MarketBar) (*models.TradingSignal, error) {
	start := time.Now()
	defer func() { e.metrics.RecordLatency("ingest_seconds", time.Since(start).Seconds()) }()

	st := e.state(bar.Symbol)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.seen && bar.Timestamp.Before(st.last.Timestamp) {
		e.metrics.RecordError("stale_bar")
		return nil, fmt.Errorf("%w: %s at %s", ErrStaleBar, bar.Symbol, bar.Timestamp.Format(time.RFC3339))
	}
	e.score(st, bar)

	e.features.AddBar(bar)
	fv := e.features.Extract(bar.Symbol, bar)
	e.metrics.RecordBarIngested(bar.Symbol)
	e.lifecycle.Maintain(bar.Symbol, e.features.History().Snapshot(bar.Symbol))

	st.last, st.seen = bar, true
	st.preds, st.signal = nil, nil
	if fv.Empty() {
		return nil, nil
	}

	preds := e.predictAll(bar, fv)
	st.preds = make(map[string]models.Direction, len(preds))
	for model, p := range preds {
		st.preds[model] = p.Direction
	}

	chosen, ok := preds[e.cfg.Predictor]
	if !ok {
		e.metrics.RecordSignalSkipped("not_ready")
		return nil, nil
	}
	sig, reason := e.synth.Synthesize(*chosen, bar, fv)
	if sig == nil {
		e.metrics.RecordSignalSkipped(reason)
		e.log.Debug("signal skipped",
			logger.Symbol(bar.Symbol),
			logger.Model(chosen.Model),
			logger.String("reason", reason),
			logger.Float64("confidence", chosen.Confidence))
		return nil, nil
	}
	st.signal = sig
	e.metrics.RecordSignal(sig.Strategy, sig.Side)
	e.log.Info("signal emitted",
		logger.Symbol(sig.Symbol),
		logger.String("side", string(sig.Side)),
		logger.Float64("quantity", sig.Quantity),
		logger.Float64("price", sig.Price),
		logger.Float64("stop_loss", sig.StopLoss),
		logger.Float64("take_profit", sig.TakeProfit),
		logger.String("rationale", sig.Rationale))
	return sig, e.deliver(ctx, sig)
}

// Process adapts Ingest to the ingest pipeline.
func (e *SignalEngine) Process(ctx context.Context, b *models.MarketBar) error {
	if b == nil {
		return fmt.Errorf("bar is nil")
	}
	_, err := e.Ingest(ctx, *b)
	return err
}

// predictAll runs every ready managed predictor and feeds the bar into its buffer.
func (e *SignalEngine) predictAll(bar models.MarketBar, fv models.FeatureVector) map[string]*models.Prediction {
	out := make(map[string]*models.Prediction)
	for _, model := range e.lifecycle.Models() {
		p, err := e.lifecycle.Predictor(bar.Symbol, model)
		if err != nil {
			continue
		}
		if p.IsReady() {
			t := time.Now()
			if pred := p.Predict(bar, fv); pred != nil {
				e.metrics.RecordPrediction(model, pred.Direction, time.Since(t).Seconds())
				out[model] = pred
			}
		}
		p.Update(bar, fv)
	}
	return out
}

// score resolves the previous bar's predictions and signal against the realized move.
func (e *SignalEngine) score(st *symbolState, bar models.MarketBar) {
	if !st.seen || !bar.Timestamp.After(st.last.Timestamp) {
		return
	}
	ret := bar.ReturnFrom(st.last)
	actual := models.DirectionFromReturn(ret, e.cfg.OutcomeBand)
	for model, dir := range st.preds {
		e.lifecycle.Observe(bar.Symbol, model, dir == actual)
	}
	if st.signal != nil {
		won := (st.signal.Side == models.SideBuy && ret > 0) || (st.signal.Side == models.SideSell && ret < 0)
		e.synth.Performance().Record(won)
	}
}

func (e *SignalEngine) deliver(ctx context.Context, sig *models.TradingSignal) error {
	var errs []error
	if e.publisher != nil {
		if err := e.publisher.Publish(ctx, sig); err != nil {
			e.metrics.RecordError("signal_publish")
			e.log.Error("publish signal failed", logger.SignalID(sig.ID), logger.Symbol(sig.Symbol), logger.Error(err))
			errs = append(errs, fmt.Errorf("publish signal: %w", err))
		}
	}
	if e.store != nil {
		if err := e.store.StoreSignal(ctx, sig); err != nil {
			e.metrics.RecordError("signal_store")
			e.log.Error("store signal failed", logger.SignalID(sig.ID), logger.Symbol(sig.Symbol), logger.Error(err))
			errs = append(errs, fmt.Errorf("store signal: %w", err))
		}
	}
	return errors.Join(errs...)
}

// latest returns the newest bar and its feature vector for symbol.
func (e *SignalEngine) latest(symbol string) (models.MarketBar, models.FeatureVector, error) {
	hist := e.features.History().Snapshot(symbol)
	if len(hist) == 0 {
		return models.MarketBar{}, models.FeatureVector{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	bar := hist[len(hist)-1]
	return bar, e.features.Extract(symbol, bar), nil
}

// Preview runs model on the latest bar of symbol and reports what the
// synthesizer would do, without publishing anything.
func (e *SignalEngine) Preview(symbol, model string) (*models.SignalPreview, error) {
	bar, fv, err := e.latest(symbol)
	if err != nil {
		return nil, err
	}
	p, err := e.lifecycle.Predictor(symbol, model)
	if err != nil {
		return nil, err
	}
	out := &models.SignalPreview{Symbol: symbol, Model: model}
	if fv.Empty() {
		out.SkipReason = "insufficient_history"
		return out, nil
	}
	if !p.IsReady() {
		out.SkipReason = "not_ready"
		return out, nil
	}
	pred := p.Predict(bar, fv)
	if pred == nil {
		out.SkipReason = "not_ready"
		return out, nil
	}
	out.Prediction = pred
	out.Signal, out.SkipReason = e.synth.Synthesize(*pred, bar, fv)
	return out, nil
}

// History loads the newest n bars of symbol from the bar store.
func (e *SignalEngine) History(ctx context.Context, symbol string, n int) ([]models.MarketBar, error) {
	if e.bars == nil {
		return nil, ErrNoBarStore
	}
	if n <= 0 {
		n = e.cfg.WarmupBars
	}
	bars, err := e.bars.GetLatestNBars(ctx, symbol, n, e.cfg.Timeframe)
	if err != nil {
		return nil, fmt.Errorf("load bars for %s: %w", symbol, err)
	}
	return bars, nil
}

// Warmup primes feature history from the bar store and trains every model
// that did not come back ready from persistence. Models train in the background.
func (e *SignalEngine) Warmup(ctx context.Context, symbols []string) error {
	var errs []error
	for _, s := range symbols {
		bars, err := e.History(ctx, s, e.cfg.WarmupBars)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, b := range bars {
			e.features.AddBar(b)
		}
		if n := len(bars); n > 0 {
			st := e.state(s)
			st.mu.Lock()
			st.last, st.seen = bars[n-1], true
			st.mu.Unlock()
		}
		handles := e.lifecycle.Maintain(s, bars)
		e.log.Info("symbol warmed up",
			logger.Symbol(s),
			logger.Int("bars", len(bars)),
			logger.Int("trainings", len(handles)))
	}
	return errors.Join(errs...)
}

// Retrain starts training model ("all" for every managed model) of symbol on
// the newest n stored bars and returns the handles of started runs.
func (e *SignalEngine) Retrain(ctx context.Context, symbol, model string, n int) ([]*TrainHandle, error) {
	bars, err := e.History(ctx, symbol, n)
	if err != nil {
		return nil, err
	}
	targets := []string{model}
	if model == "" || model == models.ModelAll {
		targets = e.lifecycle.Models()
	}
	var (
		handles []*TrainHandle
		errs    []error
	)
	for _, m := range targets {
		h, err := e.lifecycle.TrainAsync(symbol, m, bars)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", m, err))
			continue
		}
		handles = append(handles, h)
	}
	return handles, errors.Join(errs...)
}

// TrainSymbol is the blocking variant of Retrain; it returns per-model results.
func (e *SignalEngine) TrainSymbol(ctx context.Context, symbol, model string, n int) (map[string]error, error) {
	handles, err := e.Retrain(ctx, symbol, model, n)
	if len(handles) == 0 && err != nil {
		return nil, err
	}
	res := make(map[string]error, len(handles))
	for _, h := range handles {
		ok, werr := h.Wait(ctx)
		if werr == nil && !ok {
			werr = errors.New("training rejected")
		}
		res[h.Model] = werr
	}
	return res, err
}
