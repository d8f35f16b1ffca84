package signals

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinSignal/internal/domain/models"
	"FinSignal/internal/services/features"
)

var now = time.Date(2024, 6, 3, 14, 30, 0, 0, time.UTC)

func newTestSynth(opts ...Option) *Synthesizer {
	return NewSynthesizer(append([]Option{
		WithClock(func() time.Time { return now }),
		WithIDGenerator(func() string { return "sig-1" }),
	}, opts...)...)
}

func pred(dir models.Direction, conf float64, regime models.Regime) models.Prediction {
	return models.NewPrediction("AAPL", now, models.ModelEnsemble, dir, conf, regime, nil, map[string]float64{
		features.Momentum10: 0.4, features.RSI14: 0.2, features.MACD: 0.3, features.BodyRatio: 0.05,
	})
}

func fvWithVol(vol float64) models.FeatureVector {
	return models.FeatureVector{
		Symbol: "AAPL",
		Names:  []string{features.Volatility20},
		Values: map[string]float64{features.Volatility20: vol},
	}
}

var bar = models.MarketBar{Symbol: "AAPL", Timestamp: now, Open: 99, High: 101, Low: 98, Close: 100, Volume: 1e6}

func TestSynthesize_Skips(t *testing.T) {
	s := newTestSynth()
	tests := []struct {
		name   string
		pred   models.Prediction
		bar    models.MarketBar
		reason string
	}{
		{"sideways", pred(models.DirectionSideways, 0.9, ""), bar, SkipSideways},
		{"below threshold", pred(models.DirectionUp, 0.5, ""), bar, SkipLowConfidence},
		{"zero price", pred(models.DirectionUp, 0.9, ""), models.MarketBar{Symbol: "AAPL"}, SkipInvalidPrice},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, reason := s.Synthesize(tt.pred, tt.bar, fvWithVol(0.01))
			assert.Nil(t, sig)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestSynthesize_Long(t *testing.T) {
	s := newTestSynth()
	sig, reason := s.Synthesize(pred(models.DirectionUp, 0.8, models.RegimeBull), bar, fvWithVol(0.01))
	require.NotNil(t, sig)
	assert.Empty(t, reason)

	assert.Equal(t, "sig-1", sig.ID)
	assert.Equal(t, models.SideBuy, sig.Side)
	assert.Equal(t, 100.0, sig.Price)
	assert.Equal(t, now, sig.CreatedAt)
	assert.Equal(t, models.ModelEnsemble, sig.Strategy)

	// 1.0 * 0.1 * min(1.5, 1.2) * max(0.3, 0.9) * 1.0
	assert.InDelta(t, 0.108, sig.Quantity, 1e-9)
	// vol scale max(0.5, 0.01/0.02) = 0.5 -> 0.02*0.5 = 1%
	assert.InDelta(t, 99.0, sig.StopLoss, 1e-9)
	// 1% * 2 * (1 + 0.5*0.5) * 1.3 (aligned with BULL)
	assert.InDelta(t, 100*(1+0.01*2*1.25*1.3), sig.TakeProfit, 1e-9)
	assert.GreaterOrEqual(t, sig.RewardRisk(), 2.0)
}

func TestSynthesize_ShortMirrorsLevels(t *testing.T) {
	s := newTestSynth()
	sig, _ := s.Synthesize(pred(models.DirectionDown, 0.8, models.RegimeBear), bar, fvWithVol(0.02))
	require.NotNil(t, sig)
	assert.Equal(t, models.SideSell, sig.Side)
	assert.Greater(t, sig.StopLoss, sig.Price)
	assert.Less(t, sig.TakeProfit, sig.Price)
	assert.InDelta(t, 102.0, sig.StopLoss, 1e-9)
	assert.GreaterOrEqual(t, sig.RewardRisk(), 2.0)
}

func TestSynthesize_VolatileRegimeWidensStop(t *testing.T) {
	s := newTestSynth()
	fv := fvWithVol(0.045)

	calm, _ := s.Synthesize(pred(models.DirectionUp, 0.8, models.RegimeBull), bar, fv)
	volatile, _ := s.Synthesize(pred(models.DirectionUp, 0.8, models.RegimeVolatile), bar, fv)
	require.NotNil(t, calm)
	require.NotNil(t, volatile)

	calmStop := bar.Close - calm.StopLoss
	volatileStop := bar.Close - volatile.StopLoss
	assert.InDelta(t, 1.5, volatileStop/calmStop, 1e-9)
	// damping max(0.3, 1-0.45)
	assert.InDelta(t, 0.1*1.2*0.55, volatile.Quantity, 1e-9)
}

func TestStopDistance_Clamped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseStop = 0.05
	s := newTestSynth(WithConfig(cfg))
	assert.Equal(t, 0.05, s.StopDistance(1.0, models.RegimeVolatile))

	cfg.BaseStop = 0.001
	s = newTestSynth(WithConfig(cfg))
	assert.Equal(t, 0.005, s.StopDistance(0.001, models.RegimeSideways))
}

func TestPositionSize_Bounds(t *testing.T) {
	s := newTestSynth()
	for _, conf := range []float64{0.6, 0.75, 1.0} {
		for _, vol := range []float64{0, 0.01, 0.5, 10} {
			q := s.PositionSize(conf, vol)
			assert.Greater(t, q, 0.0)
			assert.LessOrEqual(t, q, s.Config().MaxPosition)
		}
	}
}

func TestPositionSize_PerformanceBands(t *testing.T) {
	s := newTestSynth()
	base := s.PositionSize(1, 0)

	for i := 0; i < 10; i++ {
		s.Performance().Record(i < 2)
	}
	assert.InDelta(t, base*0.7, s.PositionSize(1, 0), 1e-9)

	s = newTestSynth()
	for i := 0; i < 10; i++ {
		s.Performance().Record(i < 8)
	}
	assert.InDelta(t, base*1.2, s.PositionSize(1, 0), 1e-9)
}

func TestPerformance_TrailingWindow(t *testing.T) {
	p := NewPerformance(4, 1)
	for _, won := range []bool{false, false, true, true, true, true} {
		p.Record(won)
	}
	rate, n := p.WinRate()
	assert.Equal(t, 4, n)
	assert.Equal(t, 1.0, rate)
	assert.Equal(t, 1.2, p.Multiplier())
}

func TestRationale(t *testing.T) {
	r := Rationale(pred(models.DirectionUp, 0.72, models.RegimeBull), 3)
	assert.True(t, strings.HasPrefix(r, "model=ensemble direction=UP confidence=0.72 regime=BULL"))
	assert.Contains(t, r, "drivers=momentum_10(0.400),macd(0.300),rsi_14(0.200)")
	assert.NotContains(t, r, features.BodyRatio)

	r = Rationale(pred(models.DirectionDown, 0.6, models.RegimeNone), 2)
	assert.NotContains(t, r, "regime=")
}
