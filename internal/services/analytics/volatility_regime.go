package analytics

import (
	"math"

	"FinSignal/internal/domain/models"
	"FinSignal/internal/services/features"
)

const (
	volatileLevel      = 0.03 // per-bar stdev of returns over 20 bars
	volatileRatio      = 1.5  // short/long volatility expansion
	volatileRatioFloor = 0.01 // ratio only counts above this level
	regimeMomentum     = 0.02
)

// VolatilityRegimeModel labels the market regime. Its direction mirrors the
// regime for standalone use; fusion reads only the regime.
type VolatilityRegimeModel struct{ *specialist }

// NewVolatilityRegimeModel creates an untrained VolatilityRegimeModel.
func NewVolatilityRegimeModel(opts ...Option) *VolatilityRegimeModel {
	return &VolatilityRegimeModel{newSpecialist(models.ModelVolatilityRegime, evaluateVolatilityRegime, opts...)}
}

func evaluateVolatilityRegime(fv models.FeatureVector) evaluation {
	vol := fv.Get(features.Volatility20)
	ratio := fv.Get(features.VolatilityRatio)
	mom := fv.Get(features.Momentum10)

	ev := evaluation{
		metrics: map[string]float64{
			features.Volatility20:    vol,
			features.VolatilityRatio: ratio,
		},
		importance: map[string]float64{
			features.Volatility20:    0.5,
			features.VolatilityRatio: 0.3,
			features.Momentum10:      0.2,
		},
	}
	switch {
	case vol > volatileLevel || (ratio > volatileRatio && vol > volatileRatioFloor):
		ev.regime = models.RegimeVolatile
		ev.direction = models.DirectionSideways
		ev.confidence = 0.5 + math.Max((vol-volatileLevel)*10, (ratio-volatileRatio)*0.5)
	case mom > regimeMomentum:
		ev.regime = models.RegimeBull
		ev.direction = models.DirectionUp
		ev.confidence = 0.5 + math.Min(0.4, mom*5)
	case mom < -regimeMomentum:
		ev.regime = models.RegimeBear
		ev.direction = models.DirectionDown
		ev.confidence = 0.5 + math.Min(0.4, -mom*5)
	default:
		ev.regime = models.RegimeSideways
		ev.direction = models.DirectionSideways
		ev.confidence = 0.5 + (regimeMomentum-math.Abs(mom))*10
	}
	return ev
}
