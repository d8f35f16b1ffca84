package sequence

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinSignal/internal/domain/models"
	"FinSignal/internal/services/features"
	"FinSignal/internal/testutil"
)

func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.Lookback = 5
	cfg.HiddenSize = 8
	cfg.LatentDim = 3
	cfg.Epochs = 20
	cfg.BatchSize = 16
	cfg.Dropout = 0.1
	return cfg
}

// uptrend rises every bar by more than the label band, so every label is UP.
func uptrend(n int) []models.MarketBar {
	closes := make([]float64, n)
	c := 100.0
	for i := range closes {
		closes[i] = c
		c *= 1.01 + 0.002*math.Sin(float64(i))
	}
	return testutil.FromCloses("UP", closes)
}

func trained(t *testing.T, bars []models.MarketBar, opts ...Option) (*Model, []models.FeatureVector) {
	t.Helper()
	m := New(append([]Option{WithConfig(smallConfig())}, opts...)...)
	series := features.NewExtractor().Series(bars)
	ok, err := m.Train(context.Background(), bars, series)
	require.NoError(t, err)
	require.True(t, ok)
	return m, series
}

func TestPredict_NeutralWhenUntrained(t *testing.T) {
	m := New()
	bar := testutil.Bar("AAPL", 0, 100, 101, 10)
	p := m.Predict(bar, models.FeatureVector{})
	require.NotNil(t, p)
	assert.Equal(t, models.DirectionSideways, p.Direction)
	assert.Equal(t, 0.1, p.Confidence)
	assert.Equal(t, 1.0, p.Metric(models.MetricUncertainty, 0))
	for _, k := range []string{models.MetricProbUp, models.MetricProbDown, models.MetricProbSideways} {
		assert.InDelta(t, 1.0/3, p.Metric(k, 0), 1e-9)
	}
}

func TestTrain_NotEnoughSamples(t *testing.T) {
	m := New(WithConfig(smallConfig()))
	bars := uptrend(m.MinTrainingSize() - 1)
	ok, err := m.Train(context.Background(), bars, features.NewExtractor().Series(bars))
	assert.ErrorIs(t, err, ErrNotEnoughSamples)
	assert.False(t, ok)
	assert.False(t, m.IsReady())
}

func TestMinTrainingSize_CoversFeatureWarmup(t *testing.T) {
	cfg := smallConfig()
	m := New(WithConfig(cfg))
	assert.Equal(t, features.DefaultConfig().MinHistory-1+cfg.Lookback+minWindows, m.MinTrainingSize())

	bars := uptrend(m.MinTrainingSize())
	ok, err := m.Train(context.Background(), bars, features.NewExtractor().Series(bars))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, minWindows, m.State().TrainingSamples)

	cfg.WarmupBars = 0
	assert.Equal(t, cfg.Lookback+minWindows, New(WithConfig(cfg)).MinTrainingSize())
}

func TestPredict_MetricsConsistent(t *testing.T) {
	bars := testutil.RandomWalk("RW", 120, 100, 0.01, 17)
	m, series := trained(t, bars)

	for i := 100; i < len(bars); i++ {
		p := m.Predict(bars[i], series[i])
		require.NotNil(t, p)
		up, down, side := p.Metric(models.MetricProbUp, -1), p.Metric(models.MetricProbDown, -1), p.Metric(models.MetricProbSideways, -1)
		assert.InDelta(t, 1.0, up+down+side, 1e-9)

		unc := p.Metric(models.MetricUncertainty, -1)
		assert.Greater(t, unc, 0.0)
		best := math.Max(up, math.Max(down, side))
		assert.InDelta(t, best*(1-math.Min(unc, 0.5)), p.Confidence, 1e-9)
		assert.GreaterOrEqual(t, p.Confidence, 0.0)
		assert.LessOrEqual(t, p.Confidence, 1.0)

		assert.LessOrEqual(t, p.Metric(models.MetricEntropy, -1), math.Log(3)+1e-9)
		assert.GreaterOrEqual(t, p.Metric(models.MetricKLDivergence, -1), 0.0)
		assert.InDelta(t, bars[i].Close*(1+(up-down)*0.02), p.Metric(models.MetricPriceTarget, 0), 1e-9)
	}
}

func TestPredict_DeterministicForSeed(t *testing.T) {
	bars := testutil.RandomWalk("RW", 100, 100, 0.01, 5)
	a, series := trained(t, bars, WithSeed(11))
	b, _ := trained(t, bars, WithSeed(11))

	for i := 80; i < len(bars); i++ {
		assert.Equal(t, a.Predict(bars[i], series[i]), b.Predict(bars[i], series[i]))
	}
}

func TestPredict_DirectionStableAcrossNoise(t *testing.T) {
	bars := uptrend(90)
	m, series := trained(t, bars)
	last := len(bars) - 1

	decisive := 0
	for seed := uint64(1); seed <= 20; seed++ {
		m.Reseed(seed)
		p := m.Predict(bars[last], series[last])
		up := p.Metric(models.MetricProbUp, 0)
		rest := math.Max(p.Metric(models.MetricProbDown, 0), p.Metric(models.MetricProbSideways, 0))
		if up-rest > 0.2 {
			decisive++
			assert.Equal(t, models.DirectionUp, p.Direction, "seed %d", seed)
		}
	}
	assert.Positive(t, decisive)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	bars := testutil.RandomWalk("RW", 100, 100, 0.01, 23)
	m, series := trained(t, bars)
	m.RecordOutcome(true)

	path := filepath.Join(t.TempDir(), "seq.bin")
	require.NoError(t, m.Save(path))

	loaded := New()
	require.NoError(t, loaded.Load(path))
	require.True(t, loaded.IsReady())
	assert.Equal(t, m.State().Predictions, loaded.State().Predictions)
	assert.Equal(t, m.Config(), loaded.Config())

	last := len(bars) - 1
	want := m.Predict(bars[last], series[last])
	got := loaded.Predict(bars[last], series[last])
	assert.Equal(t, want.Direction, got.Direction)
	assert.InDelta(t, want.Confidence, got.Confidence, 0.02)
}

func TestMarshal_UntrainedFails(t *testing.T) {
	_, err := New().MarshalBinary()
	assert.Error(t, err)
}

func TestTrain_CancelKeepsPreviousState(t *testing.T) {
	bars := testutil.RandomWalk("RW", 100, 100, 0.01, 31)
	m, series := trained(t, bars)
	before := m.State()
	last := len(bars) - 1

	m.Reseed(7)
	p1 := m.Predict(bars[last], series[last])

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	other := testutil.RandomWalk("RW", 100, 50, 0.03, 99)
	ok, err := m.Train(ctx, other, features.NewExtractor().Series(other))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ok)

	m.Reseed(7)
	p2 := m.Predict(bars[last], series[last])
	assert.Equal(t, p1, p2)
	assert.Equal(t, before, m.State())
}

func TestUpdate_BufferBoundedAndOrdered(t *testing.T) {
	cfg := smallConfig()
	cfg.UpdateBuffer = 10
	m := New(WithConfig(cfg))
	bars := testutil.RandomWalk("RW", 60, 100, 0.01, 3)
	series := features.NewExtractor().Series(bars)
	for i := range bars {
		m.Update(bars[i], series[i])
		m.Update(bars[i], series[i])
	}
	assert.Equal(t, 10, m.BufferLen())
}

func TestObservations_MergedAndBounded(t *testing.T) {
	cfg := smallConfig()
	cfg.UpdateBuffer = 30
	m := New(WithConfig(cfg))
	bars := testutil.RandomWalk("RW", 60, 100, 0.01, 3)
	series := features.NewExtractor().Series(bars)
	for i := 40; i < len(bars); i++ {
		m.Update(bars[i], series[i])
	}

	older := make([]models.Observation, 0, 20)
	for i := 20; i < 40; i++ {
		older = append(older, models.Observation{Bar: bars[i], Features: series[i]})
	}
	m.SetObservations(older)

	obs := m.Observations()
	require.Len(t, obs, 30)
	assert.Equal(t, bars[30].Timestamp, obs[0].Bar.Timestamp)
	assert.Equal(t, bars[59].Timestamp, obs[29].Bar.Timestamp)
}
