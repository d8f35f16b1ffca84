package analytics

import (
	"math"

	"FinSignal/internal/domain/models"
	"FinSignal/internal/services/features"
)

// Trend rule weights and thresholds.
const (
	trendSMAWeight      = 0.4
	trendMomentumWeight = 0.3
	trendMACDWeight     = 0.3
	trendUpThreshold    = 0.4
	trendDownThreshold  = 0.2
)

// TrendModel follows trends: a bullish score from price above SMA20,
// positive 10-bar momentum and positive MACD.
type TrendModel struct{ *specialist }

// NewTrendModel creates an untrained TrendModel.
func NewTrendModel(opts ...Option) *TrendModel {
	return &TrendModel{newSpecialist(models.ModelTrend, evaluateTrend, opts...)}
}

func evaluateTrend(fv models.FeatureVector) evaluation {
	mom := fv.Get(features.Momentum10)
	score := 0.0
	if fv.Get(features.PriceVsSMA20) > 0 {
		score += trendSMAWeight
	}
	if mom > 0 {
		score += trendMomentumWeight
	}
	if fv.Get(features.MACD) > 0 {
		score += trendMACDWeight
	}

	strength := math.Min(0.3, math.Abs(mom)*3)
	ev := evaluation{
		metrics: map[string]float64{models.MetricBullishScore: score},
		importance: map[string]float64{
			features.PriceVsSMA20: trendSMAWeight,
			features.Momentum10:   trendMomentumWeight,
			features.MACD:         trendMACDWeight,
		},
	}
	switch {
	case score > trendUpThreshold:
		ev.direction = models.DirectionUp
		ev.confidence = 0.3 + 0.4*score + strength
	case score < trendDownThreshold:
		ev.direction = models.DirectionDown
		ev.confidence = 0.3 + 0.4*(1-score) + strength
	default:
		ev.direction = models.DirectionSideways
		ev.confidence = 0.4
	}
	return ev
}
