package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"FinSignal/internal/domain/models"
	domrepo "FinSignal/internal/domain/repository"
	domsvc "FinSignal/internal/domain/service"
	"FinSignal/pkg/logger"
)

var (
	// ErrTrainingInProgress is returned when a (symbol, model) pair is already training.
	ErrTrainingInProgress = errors.New("training already in progress")
	// ErrNotEnoughData is returned when the supplied history is below the model minimum.
	ErrNotEnoughData = errors.New("not enough data to train")
	// ErrUnknownModel is returned for a model the manager does not own.
	ErrUnknownModel = errors.New("unknown model")
)

// PredictorFactory builds a fresh, untrained predictor for a (symbol, model) pair.
type PredictorFactory func(symbol, model string) (domsvc.Predictor, error)

// LifecycleConfig controls retraining triggers.
type LifecycleConfig struct {
	Models             []string
	Staleness          time.Duration
	AccuracyFloor      float64
	MinAccuracySamples int
	AccuracyWindow     int
	RetryBackoff       time.Duration
}

// DefaultLifecycleConfig returns the documented defaults.
func DefaultLifecycleConfig() LifecycleConfig {
	return LifecycleConfig{
		Models:             []string{models.ModelEnsemble, models.ModelSequence},
		Staleness:          30 * 24 * time.Hour,
		AccuracyFloor:      0.45,
		MinAccuracySamples: 20,
		AccuracyWindow:     100,
		RetryBackoff:       5 * time.Minute,
	}
}

// TrainHandle is the future of one asynchronous training run.
type TrainHandle struct {
	Symbol string
	Model  string

	done   chan struct{}
	cancel context.CancelFunc
	ok     bool
	err    error
}

// Done is closed when training finishes.
func (h *TrainHandle) Done() <-chan struct{} { return h.done }

// Finished polls without blocking.
func (h *TrainHandle) Finished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Wait blocks until training finishes or ctx ends. Abandoning the wait does not stop training.
func (h *TrainHandle) Wait(ctx context.Context) (bool, error) {
	select {
	case <-h.done:
		return h.ok, h.err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Cancel stops the training run; the serving model is left untouched.
func (h *TrainHandle) Cancel() { h.cancel() }

// Result returns the outcome; valid once Finished reports true.
func (h *TrainHandle) Result() (bool, error) {
	<-h.done
	return h.ok, h.err
}

// outcomeWindow keeps the trailing hit/miss record used for degradation checks.
type outcomeWindow struct {
	results []bool
	next    int
	n       int
}

func newOutcomeWindow(size int) *outcomeWindow {
	return &outcomeWindow{results: make([]bool, max(1, size))}
}

func (w *outcomeWindow) add(ok bool) {
	w.results[w.next] = ok
	w.next = (w.next + 1) % len(w.results)
	w.n = min(w.n+1, len(w.results))
}

func (w *outcomeWindow) accuracy() (float64, int) {
	if w.n == 0 {
		return 0, 0
	}
	hits := 0
	for i := 0; i < w.n; i++ {
		if w.results[i] {
			hits++
		}
	}
	return float64(hits) / float64(w.n), w.n
}

type lifecycleKey struct{ symbol, model string }

type lifecycleEntry struct {
	mu        sync.RWMutex
	predictor domsvc.Predictor
	state     models.LifecycleState
	lastErr   string
	failedAt  time.Time
	outcomes  *outcomeWindow
	inflight  *TrainHandle
}

// LifecycleManager owns every trainable predictor per (symbol, model) and
// drives Untrained -> Training -> Ready -> Degraded -> Training.
// Training runs on a copy; the serving predictor is swapped only on success.
type LifecycleManager struct {
	cfg      LifecycleConfig
	factory  PredictorFactory
	features domsvc.FeatureSource
	store    domrepo.ModelStore
	metrics  domrepo.Metrics
	log      *logger.Logger
	clock    func() time.Time

	mu      sync.RWMutex
	entries map[lifecycleKey]*lifecycleEntry

	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup
}

// LifecycleOption configures a LifecycleManager.
type LifecycleOption func(*LifecycleManager)

// WithModelStore enables Save/Load and persistence after successful training.
func WithModelStore(s domrepo.ModelStore) LifecycleOption {
	return func(m *LifecycleManager) { m.store = s }
}

// WithLifecycleClock injects the clock used for staleness checks.
func WithLifecycleClock(now func() time.Time) LifecycleOption {
	return func(m *LifecycleManager) { m.clock = now }
}

// NewLifecycleManager creates a manager. features computes the training series.
func NewLifecycleManager(cfg LifecycleConfig, factory PredictorFactory, features domsvc.FeatureSource, metrics domrepo.Metrics, log *logger.Logger, opts ...LifecycleOption) *LifecycleManager {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &LifecycleManager{
		cfg:      cfg,
		factory:  factory,
		features: features,
		metrics:  metrics,
		log:      log,
		clock:    time.Now,
		entries:  make(map[lifecycleKey]*lifecycleEntry),
		base:     ctx,
		stop:     cancel,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Models returns the managed model names.
func (m *LifecycleManager) Models() []string { return append([]string(nil), m.cfg.Models...) }

func (m *LifecycleManager) manages(model string) bool {
	for _, x := range m.cfg.Models {
		if x == model {
			return true
		}
	}
	return false
}

func (m *LifecycleManager) entry(symbol, model string) (*lifecycleEntry, error) {
	if !m.manages(model) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, model)
	}
	k := lifecycleKey{symbol, model}
	m.mu.RLock()
	e, ok := m.entries[k]
	m.mu.RUnlock()
	if ok {
		return e, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok = m.entries[k]; ok {
		return e, nil
	}
	p, err := m.factory(symbol, model)
	if err != nil {
		return nil, fmt.Errorf("build %s for %s: %w", model, symbol, err)
	}
	e = &lifecycleEntry{predictor: p, state: models.StateUntrained, outcomes: newOutcomeWindow(m.cfg.AccuracyWindow)}
	m.entries[k] = e
	return e, nil
}

// Predictor returns the predictor currently serving (symbol, model).
func (m *LifecycleManager) Predictor(symbol, model string) (domsvc.Predictor, error) {
	e, err := m.entry(symbol, model)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.predictor, nil
}

// State returns the lifecycle state of (symbol, model).
func (m *LifecycleManager) State(symbol, model string) models.LifecycleState {
	e, err := m.entry(symbol, model)
	if err != nil {
		return models.StateUntrained
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (m *LifecycleManager) setState(symbol, model string, e *lifecycleEntry, s models.LifecycleState) {
	if e.state == s {
		return
	}
	m.log.Info("model state changed",
		logger.Symbol(symbol),
		logger.Model(model),
		logger.String("from", string(e.state)),
		logger.String("to", string(s)))
	e.state = s
	m.metrics.RecordModelState(symbol, model, s)
}

// TrainAsync starts training a copy of (symbol, model) on history. The
// current predictor keeps serving until the copy succeeds.
func (m *LifecycleManager) TrainAsync(symbol, model string, history []models.MarketBar) (*TrainHandle, error) {
	e, err := m.entry(symbol, model)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.inflight != nil && !e.inflight.Finished() {
		h := e.inflight
		e.mu.Unlock()
		return h, ErrTrainingInProgress
	}
	live := e.predictor
	if len(history) < live.MinTrainingSize() {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %d bars, need %d", ErrNotEnoughData, len(history), live.MinTrainingSize())
	}
	ctx, cancel := context.WithCancel(m.base)
	h := &TrainHandle{Symbol: symbol, Model: model, done: make(chan struct{}), cancel: cancel}
	e.inflight = h
	prev := e.state
	m.setState(symbol, model, e, models.StateTraining)
	e.mu.Unlock()

	bars := append([]models.MarketBar(nil), history...)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		h.ok, h.err = m.train(ctx, symbol, model, e, live, prev, bars)
		close(h.done)
	}()
	return h, nil
}

// Train runs TrainAsync and waits for the result.
func (m *LifecycleManager) Train(ctx context.Context, symbol, model string, history []models.MarketBar) (bool, error) {
	h, err := m.TrainAsync(symbol, model, history)
	if err != nil {
		return false, err
	}
	return h.Wait(ctx)
}

func (m *LifecycleManager) train(ctx context.Context, symbol, model string, e *lifecycleEntry, live domsvc.Predictor, prev models.LifecycleState, bars []models.MarketBar) (bool, error) {
	start := time.Now()
	next, ok, err := m.trainCopy(ctx, symbol, model, live, bars)
	m.metrics.RecordTraining(model, ok, time.Since(start).Seconds())

	e.mu.Lock()
	defer e.mu.Unlock()
	if !ok {
		restore := prev
		if restore == models.StateTraining {
			restore = models.StateUntrained
		}
		err = errOr(err, "training rejected")
		e.lastErr = err.Error()
		e.failedAt = m.clock()
		m.setState(symbol, model, e, restore)
		m.log.Error("model training failed",
			logger.Symbol(symbol),
			logger.Model(model),
			logger.Int("bars", len(bars)),
			logger.Error(err))
		return false, err
	}

	carryObservations(live, next)
	e.predictor = next
	e.lastErr = ""
	e.failedAt = time.Time{}
	e.outcomes = newOutcomeWindow(m.cfg.AccuracyWindow)
	m.setState(symbol, model, e, models.StateReady)
	m.log.Info("model trained",
		logger.Symbol(symbol),
		logger.Model(model),
		logger.Int("bars", len(bars)),
		logger.Duration("elapsed", time.Since(start)))

	if m.store != nil {
		if serr := m.saveLocked(ctx, symbol, model, next); serr != nil {
			m.log.Warn("persist trained model failed",
				logger.Symbol(symbol),
				logger.Model(model),
				logger.Error(serr))
		}
	}
	return true, nil
}

// trainCopy builds a fresh predictor seeded from live and trains it.
func (m *LifecycleManager) trainCopy(ctx context.Context, symbol, model string, live domsvc.Predictor, bars []models.MarketBar) (domsvc.Predictor, bool, error) {
	next, err := m.factory(symbol, model)
	if err != nil {
		return nil, false, fmt.Errorf("build %s for %s: %w", model, symbol, err)
	}
	if live.IsReady() {
		blob, err := live.MarshalBinary()
		if err != nil {
			return nil, false, fmt.Errorf("snapshot %s: %w", model, err)
		}
		if err := next.UnmarshalBinary(blob); err != nil {
			return nil, false, fmt.Errorf("clone %s: %w", model, err)
		}
	}
	bars, series := m.trainingSet(live, bars)
	ok, err := next.Train(ctx, bars, series)
	if err != nil {
		return nil, false, err
	}
	if ctx.Err() != nil {
		return nil, false, ctx.Err()
	}
	return next, ok, nil
}

// trainingSet computes the feature series for bars and extends it with the
// observations live buffered through Update. Buffered vectors fill in where
// the extractor had too little history to produce one.
func (m *LifecycleManager) trainingSet(live domsvc.Predictor, bars []models.MarketBar) ([]models.MarketBar, []models.FeatureVector) {
	series := m.features.Series(bars)
	buf, ok := live.(domsvc.ObservationBuffer)
	if !ok {
		return bars, series
	}
	obs := buf.Observations()
	if len(obs) == 0 {
		return bars, series
	}
	hist := make([]models.Observation, len(bars))
	for i := range bars {
		hist[i] = models.Observation{Bar: bars[i], Features: series[i]}
	}
	return models.SplitObservations(models.MergeObservations(obs, hist, 0))
}

// carryObservations hands the buffer of the outgoing predictor to its
// replacement so updates seen during training are not lost.
func carryObservations(from, to domsvc.Predictor) {
	src, ok := from.(domsvc.ObservationBuffer)
	if !ok {
		return
	}
	if dst, ok := to.(domsvc.ObservationBuffer); ok {
		dst.SetObservations(src.Observations())
	}
}

// Observe records whether the last prediction of (symbol, model) was right.
func (m *LifecycleManager) Observe(symbol, model string, correct bool) {
	e, err := m.entry(symbol, model)
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.predictor.IsReady() {
		return
	}
	e.outcomes.add(correct)
	e.predictor.RecordOutcome(correct)
}

// Maintain applies the retraining policy for every managed model of symbol and
// starts background training where needed. It never blocks on training.
func (m *LifecycleManager) Maintain(symbol string, history []models.MarketBar) []*TrainHandle {
	var started []*TrainHandle
	for _, model := range m.cfg.Models {
		e, err := m.entry(symbol, model)
		if err != nil {
			continue
		}
		if !m.needsTraining(symbol, model, e, len(history)) {
			continue
		}
		h, err := m.TrainAsync(symbol, model, history)
		if err != nil {
			if !errors.Is(err, ErrTrainingInProgress) && !errors.Is(err, ErrNotEnoughData) {
				m.log.Warn("schedule training failed",
					logger.Symbol(symbol),
					logger.Model(model),
					logger.Error(err))
			}
			continue
		}
		started = append(started, h)
	}
	return started
}

func (m *LifecycleManager) needsTraining(symbol, model string, e *lifecycleEntry, bars int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inflight != nil && !e.inflight.Finished() {
		return false
	}
	if bars < e.predictor.MinTrainingSize() {
		return false
	}
	switch e.state {
	case models.StateUntrained, models.StateDegraded:
		return e.failedAt.IsZero() || m.clock().Sub(e.failedAt) >= m.cfg.RetryBackoff
	case models.StateReady:
		if reason := m.degradation(e); reason != "" {
			m.log.Warn("model degraded",
				logger.Symbol(symbol),
				logger.Model(model),
				logger.String("reason", reason))
			m.setState(symbol, model, e, models.StateDegraded)
			return true
		}
	}
	return false
}

func (m *LifecycleManager) degradation(e *lifecycleEntry) string {
	if acc, n := e.outcomes.accuracy(); n >= m.cfg.MinAccuracySamples && acc < m.cfg.AccuracyFloor {
		return fmt.Sprintf("accuracy %.2f below %.2f over %d outcomes", acc, m.cfg.AccuracyFloor, n)
	}
	last := e.predictor.State().LastTrained
	if m.cfg.Staleness > 0 && !last.IsZero() && m.clock().Sub(last) > m.cfg.Staleness {
		return "stale"
	}
	return ""
}

// Save persists the serving predictor of (symbol, model).
func (m *LifecycleManager) Save(ctx context.Context, symbol, model string) error {
	if m.store == nil {
		return errors.New("no model store configured")
	}
	e, err := m.entry(symbol, model)
	if err != nil {
		return err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return m.saveLocked(ctx, symbol, model, e.predictor)
}

func (m *LifecycleManager) saveLocked(ctx context.Context, symbol, model string, p domsvc.Predictor) error {
	blob, err := p.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal %s/%s: %w", symbol, model, err)
	}
	return m.store.SaveBlob(ctx, symbol, model, blob)
}

// Load restores (symbol, model) from the store and marks it ready.
func (m *LifecycleManager) Load(ctx context.Context, symbol, model string) error {
	if m.store == nil {
		return errors.New("no model store configured")
	}
	e, err := m.entry(symbol, model)
	if err != nil {
		return err
	}
	blob, err := m.store.LoadBlob(ctx, symbol, model)
	if err != nil {
		return err
	}
	next, err := m.factory(symbol, model)
	if err != nil {
		return err
	}
	if err := next.UnmarshalBinary(blob); err != nil {
		return fmt.Errorf("restore %s/%s: %w", symbol, model, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inflight != nil && !e.inflight.Finished() {
		return ErrTrainingInProgress
	}
	live := e.predictor
	carryObservations(live, next)
	e.predictor = next
	e.lastErr = ""
	e.outcomes = newOutcomeWindow(m.cfg.AccuracyWindow)
	m.setState(symbol, model, e, models.StateReady)
	return nil
}

// LoadAll restores every managed model for symbols; missing blobs are skipped.
func (m *LifecycleManager) LoadAll(ctx context.Context, symbols []string) error {
	var errs []error
	for _, s := range symbols {
		for _, model := range m.cfg.Models {
			err := m.Load(ctx, s, model)
			switch {
			case err == nil:
				m.log.Info("model restored", logger.Symbol(s), logger.Model(model))
			case errors.Is(err, domrepo.ErrModelNotFound):
			default:
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Status reports every managed model of symbol.
func (m *LifecycleManager) Status(symbol string) []models.ModelStatus {
	out := make([]models.ModelStatus, 0, len(m.cfg.Models))
	for _, model := range m.cfg.Models {
		e, err := m.entry(symbol, model)
		if err != nil {
			continue
		}
		e.mu.RLock()
		st := e.predictor.State()
		out = append(out, models.ModelStatus{
			Symbol:      symbol,
			Model:       model,
			State:       e.state,
			Ready:       st.Ready,
			LastTrained: st.LastTrained,
			Predictions: st.Predictions,
			Correct:     st.CorrectPredictions,
			Accuracy:    st.Accuracy(),
			Samples:     st.TrainingSamples,
			LastError:   e.lastErr,
		})
		e.mu.RUnlock()
	}
	return out
}

// Close cancels in-flight training and waits for it to unwind.
func (m *LifecycleManager) Close() {
	m.stop()
	m.wg.Wait()
}

func errOr(err error, msg string) error {
	if err != nil {
		return err
	}
	return errors.New(msg)
}
