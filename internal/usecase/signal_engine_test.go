package usecase

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinSignal/internal/domain/models"
	"FinSignal/internal/services/features"
	"FinSignal/internal/services/signals"
)

type engineFixture struct {
	engine  *SignalEngine
	factory *fakeFactory
	pub     *fakePublisher
	store   *fakeSignalStore
	bars    []models.MarketBar
	metrics *recMetrics
}

// newEngineFixture returns an engine whose ensemble is trained and whose
// feature history is primed with 30 rising bars of AAPL.
func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	f := newFakeFactory()
	fx := features.NewExtractor()
	m := newRecMetrics()
	cfg := DefaultLifecycleConfig()
	cfg.Models = []string{models.ModelEnsemble}
	lc := NewLifecycleManager(cfg, f.build, fx, m, nil)
	t.Cleanup(lc.Close)

	bars := makeBars(sym, 30, 1)
	ok, err := lc.Train(context.Background(), sym, models.ModelEnsemble, bars)
	require.NoError(t, err)
	require.True(t, ok)

	pub := &fakePublisher{}
	store := &fakeSignalStore{}
	n := 0
	synth := signals.NewSynthesizer(
		signals.WithClock(func() time.Time { return t0 }),
		signals.WithIDGenerator(func() string { n++; return "sig-" + strconv.Itoa(n) }),
	)
	engine := NewSignalEngine(DefaultEngineConfig(), fx, lc, synth, m, nil,
		WithPublisher(pub), WithSignalStore(store), WithBarStore(&fakeBarStore{bars: bars}))
	require.NoError(t, engine.Warmup(context.Background(), []string{sym}))

	return &engineFixture{engine: engine, factory: f, pub: pub, store: store, bars: bars, metrics: m}
}

func (fx *engineFixture) last() models.MarketBar { return fx.bars[len(fx.bars)-1] }

func TestSignalEngine_EmitsSignal(t *testing.T) {
	fx := newEngineFixture(t)

	bar := nextBar(fx.last(), fx.last().Close+1)
	sig, err := fx.engine.Ingest(context.Background(), bar)
	require.NoError(t, err)
	require.NotNil(t, sig)

	assert.Equal(t, sym, sig.Symbol)
	assert.Equal(t, models.SideBuy, sig.Side)
	assert.Equal(t, bar.Close, sig.Price)
	assert.Equal(t, models.ModelEnsemble, sig.Strategy)
	assert.Less(t, sig.StopLoss, sig.Price)
	assert.Greater(t, sig.TakeProfit, sig.Price)
	assert.Greater(t, sig.Quantity, 0.0)
	assert.Equal(t, 1, fx.pub.count())
	assert.Len(t, fx.store.stored, 1)
}

func TestSignalEngine_SellSignal(t *testing.T) {
	fx := newEngineFixture(t)
	fx.factory.set(func(f *fakeFactory) { f.dir = models.DirectionDown })

	sig, err := fx.engine.Ingest(context.Background(), nextBar(fx.last(), fx.last().Close-1))
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, models.SideSell, sig.Side)
	assert.Greater(t, sig.StopLoss, sig.Price)
	assert.Less(t, sig.TakeProfit, sig.Price)
}

func TestSignalEngine_NoSignal(t *testing.T) {
	tests := []struct {
		name string
		set  func(f *fakeFactory)
	}{
		{"low confidence", func(f *fakeFactory) { f.conf = 0.3 }},
		{"sideways", func(f *fakeFactory) { f.dir = models.DirectionSideways }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newEngineFixture(t)
			fx.factory.set(tt.set)

			sig, err := fx.engine.Ingest(context.Background(), nextBar(fx.last(), fx.last().Close+1))
			require.NoError(t, err)
			assert.Nil(t, sig)
			assert.Zero(t, fx.pub.count())
		})
	}
}

func TestSignalEngine_NoSignalBeforeMinHistory(t *testing.T) {
	f := newFakeFactory()
	fx := features.NewExtractor()
	cfg := DefaultLifecycleConfig()
	cfg.Models = []string{models.ModelEnsemble}
	lc := NewLifecycleManager(cfg, f.build, fx, nil, nil)
	defer lc.Close()
	_, err := lc.Train(context.Background(), "MSFT", models.ModelEnsemble, makeBars("MSFT", 30, 1))
	require.NoError(t, err)

	pub := &fakePublisher{}
	engine := NewSignalEngine(DefaultEngineConfig(), fx, lc, signals.NewSynthesizer(), nil, nil, WithPublisher(pub))
	for _, b := range makeBars("MSFT", 5, 1) {
		sig, err := engine.Ingest(context.Background(), b)
		require.NoError(t, err)
		assert.Nil(t, sig)
	}
	assert.Zero(t, pub.count())
}

func TestSignalEngine_RejectsStaleBar(t *testing.T) {
	fx := newEngineFixture(t)

	old := fx.bars[10]
	sig, err := fx.engine.Ingest(context.Background(), old)
	assert.ErrorIs(t, err, ErrStaleBar)
	assert.Nil(t, sig)
	assert.Equal(t, 1, fx.metrics.errorCount("stale_bar"))
}

func TestSignalEngine_PublishFailureKeepsSignal(t *testing.T) {
	fx := newEngineFixture(t)
	fx.pub.err = errBoom

	sig, err := fx.engine.Ingest(context.Background(), nextBar(fx.last(), fx.last().Close+1))
	assert.ErrorIs(t, err, errBoom)
	require.NotNil(t, sig)
	// the audit store still gets it
	assert.Len(t, fx.store.stored, 1)
	assert.Equal(t, 1, fx.metrics.errorCount("signal_publish"))
}

func TestSignalEngine_ScoresPreviousPrediction(t *testing.T) {
	fx := newEngineFixture(t)

	b1 := nextBar(fx.last(), fx.last().Close+1)
	_, err := fx.engine.Ingest(context.Background(), b1)
	require.NoError(t, err)

	b2 := nextBar(b1, b1.Close+2)
	_, err = fx.engine.Ingest(context.Background(), b2)
	require.NoError(t, err)

	st := fx.engine.Lifecycle().Status(sym)
	require.Len(t, st, 1)
	assert.EqualValues(t, 1, st[0].Predictions)
	assert.EqualValues(t, 1, st[0].Correct)

	rate, n := fx.engine.synth.Performance().WinRate()
	assert.Equal(t, 1, n)
	assert.Equal(t, 1.0, rate)
}

func TestSignalEngine_Preview(t *testing.T) {
	fx := newEngineFixture(t)

	p, err := fx.engine.Preview(sym, models.ModelEnsemble)
	require.NoError(t, err)
	require.NotNil(t, p.Prediction)
	require.NotNil(t, p.Signal)
	assert.Empty(t, p.SkipReason)
	assert.Zero(t, fx.pub.count(), "preview never publishes")

	_, err = fx.engine.Preview("TSLA", models.ModelEnsemble)
	assert.ErrorIs(t, err, ErrUnknownSymbol)
}

func TestSignalEngine_HistoryNeedsStore(t *testing.T) {
	lc := NewLifecycleManager(DefaultLifecycleConfig(), newFakeFactory().build, features.NewExtractor(), nil, nil)
	defer lc.Close()
	engine := NewSignalEngine(DefaultEngineConfig(), features.NewExtractor(), lc, signals.NewSynthesizer(), nil, nil)

	_, err := engine.History(context.Background(), sym, 10)
	assert.ErrorIs(t, err, ErrNoBarStore)
	assert.Error(t, engine.Warmup(context.Background(), []string{sym}))
}

func TestSignalEngine_TrainSymbol(t *testing.T) {
	fx := newEngineFixture(t)

	res, err := fx.engine.TrainSymbol(context.Background(), sym, models.ModelAll, 0)
	require.NoError(t, err)
	require.Contains(t, res, models.ModelEnsemble)
	assert.NoError(t, res[models.ModelEnsemble])

	_, err = fx.engine.TrainSymbol(context.Background(), sym, "lstm", 0)
	assert.ErrorIs(t, err, ErrUnknownModel)
}

func TestSignalEngine_ProcessNilBar(t *testing.T) {
	fx := newEngineFixture(t)
	assert.Error(t, fx.engine.Process(context.Background(), nil))
}
