package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"FinSignal/internal/domain/models"
	domrepo "FinSignal/internal/domain/repository"
	domsvc "FinSignal/internal/domain/service"
)

var t0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

// makeBars returns n daily bars drifting up by step per bar.
func makeBars(symbol string, n int, step float64) []models.MarketBar {
	out := make([]models.MarketBar, n)
	price := 100.0
	for i := range out {
		open := price
		price += step
		out[i] = models.MarketBar{
			Symbol:    symbol,
			Timestamp: t0.AddDate(0, 0, i),
			Open:      open,
			High:      max(open, price) + 0.5,
			Low:       min(open, price) - 0.5,
			Close:     price,
			Volume:    1e6 + float64(i*1000),
		}
	}
	return out
}

func nextBar(prev models.MarketBar, close float64) models.MarketBar {
	return models.MarketBar{
		Symbol:    prev.Symbol,
		Timestamp: prev.Timestamp.AddDate(0, 0, 1),
		Open:      prev.Close,
		High:      max(prev.Close, close) + 0.5,
		Low:       min(prev.Close, close) - 0.5,
		Close:     close,
		Volume:    1e6,
	}
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeFactory builds fakePredictors whose behaviour is shared and adjustable mid-test.
type fakeFactory struct {
	mu       sync.Mutex
	min      int
	dir      models.Direction
	conf     float64
	trainErr error
	reject   bool
	block    chan struct{}
	clock    func() time.Time
	built    int
	trained  int
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{min: 10, dir: models.DirectionUp, conf: 0.9, clock: time.Now}
}

func (f *fakeFactory) build(symbol, model string) (domsvc.Predictor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.built++
	return &fakePredictor{f: f, name: model}, nil
}

func (f *fakeFactory) set(fn func(f *fakeFactory)) {
	f.mu.Lock()
	fn(f)
	f.mu.Unlock()
}

type fakePredictor struct {
	f    *fakeFactory
	name string

	mu      sync.Mutex
	ready   bool
	trained time.Time
	preds   int64
	correct int64
	updates int
	obs     []models.Observation

	// bars and non-empty vectors seen by the last Train
	trainedBars, trainedVectors int
}

type fakeSnapshot struct {
	Ready   bool      `json:"ready"`
	Trained time.Time `json:"trained"`
}

func (p *fakePredictor) Name() string { return p.name }

func (p *fakePredictor) Train(ctx context.Context, history []models.MarketBar, series []models.FeatureVector) (bool, error) {
	p.f.mu.Lock()
	block, err, reject, now := p.f.block, p.f.trainErr, p.f.reject, p.f.clock()
	p.f.trained++
	p.f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	if err != nil {
		return false, err
	}
	if reject {
		return false, nil
	}
	vectors := 0
	for _, fv := range series {
		if !fv.Empty() {
			vectors++
		}
	}
	p.mu.Lock()
	p.ready, p.trained = true, now
	p.trainedBars, p.trainedVectors = len(history), vectors
	p.mu.Unlock()
	return true, nil
}

func (p *fakePredictor) Predict(bar models.MarketBar, _ models.FeatureVector) *models.Prediction {
	p.mu.Lock()
	ready := p.ready
	p.mu.Unlock()
	if !ready {
		return nil
	}
	p.f.mu.Lock()
	dir, conf := p.f.dir, p.f.conf
	p.f.mu.Unlock()
	pred := models.NewPrediction(bar.Symbol, bar.Timestamp, p.name, dir, conf, models.RegimeBull, nil,
		map[string]float64{"momentum_10": 0.5})
	return &pred
}

func (p *fakePredictor) Update(bar models.MarketBar, fv models.FeatureVector) {
	p.mu.Lock()
	p.updates++
	p.obs = models.AppendObservation(p.obs, models.Observation{Bar: bar, Features: fv}, 0)
	p.mu.Unlock()
}

func (p *fakePredictor) Observations() []models.Observation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.Observation(nil), p.obs...)
}

func (p *fakePredictor) SetObservations(obs []models.Observation) {
	p.mu.Lock()
	p.obs = append([]models.Observation(nil), obs...)
	p.mu.Unlock()
}

func (p *fakePredictor) lastTraining() (bars, vectors int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.trainedBars, p.trainedVectors
}

func (p *fakePredictor) IsReady() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

func (p *fakePredictor) MinTrainingSize() int { return p.f.min }

func (p *fakePredictor) State() models.ModelState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return models.ModelState{Model: p.name, Ready: p.ready, LastTrained: p.trained, Predictions: p.preds, CorrectPredictions: p.correct}
}

func (p *fakePredictor) RecordOutcome(correct bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.preds++
	if correct {
		p.correct++
	}
}

func (p *fakePredictor) MarshalBinary() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return json.Marshal(fakeSnapshot{Ready: p.ready, Trained: p.trained})
}

func (p *fakePredictor) UnmarshalBinary(data []byte) error {
	var s fakeSnapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	p.mu.Lock()
	p.ready, p.trained = s.Ready, s.Trained
	p.mu.Unlock()
	return nil
}

type memModelStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newMemModelStore() *memModelStore { return &memModelStore{blobs: map[string][]byte{}} }

func (s *memModelStore) SaveBlob(_ context.Context, symbol, model string, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[symbol+"/"+model] = append([]byte(nil), blob...)
	return nil
}

func (s *memModelStore) LoadBlob(_ context.Context, symbol, model string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blobs[symbol+"/"+model]
	if !ok {
		return nil, domrepo.ErrModelNotFound
	}
	return b, nil
}

func (s *memModelStore) has(symbol, model string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blobs[symbol+"/"+model]
	return ok
}

type fakeBarStore struct {
	bars []models.MarketBar
	err  error
}

func (s *fakeBarStore) GetBars(_ context.Context, symbol string, from, to time.Time, _ domrepo.Timeframe) ([]models.MarketBar, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []models.MarketBar
	for _, b := range s.bars {
		if b.Symbol == symbol && !b.Timestamp.Before(from) && !b.Timestamp.After(to) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *fakeBarStore) GetLatestNBars(_ context.Context, symbol string, n int, _ domrepo.Timeframe) ([]models.MarketBar, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []models.MarketBar
	for _, b := range s.bars {
		if b.Symbol == symbol {
			out = append(out, b)
		}
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []*models.TradingSignal
	err  error
}

func (p *fakePublisher) Publish(_ context.Context, s *models.TradingSignal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, s)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

type fakeSignalStore struct {
	mu     sync.Mutex
	stored []models.TradingSignal
}

func (s *fakeSignalStore) StoreSignal(_ context.Context, sig *models.TradingSignal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stored = append(s.stored, *sig)
	return nil
}

func (s *fakeSignalStore) RecentSignals(context.Context, string, time.Time, int) ([]models.TradingSignal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.TradingSignal(nil), s.stored...), nil
}

func (s *fakeSignalStore) Health(context.Context) error { return nil }

// recMetrics counts errors by kind.
type recMetrics struct {
	nopMetrics
	mu     sync.Mutex
	errors map[string]int
	states []models.LifecycleState
}

func newRecMetrics() *recMetrics { return &recMetrics{errors: map[string]int{}} }

func (m *recMetrics) RecordError(kind string) {
	m.mu.Lock()
	m.errors[kind]++
	m.mu.Unlock()
}

func (m *recMetrics) RecordModelState(_, _ string, s models.LifecycleState) {
	m.mu.Lock()
	m.states = append(m.states, s)
	m.mu.Unlock()
}

func (m *recMetrics) errorCount(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errors[kind]
}

var errBoom = errors.New("boom")
