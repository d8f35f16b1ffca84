package analytics

import (
	"math"

	"FinSignal/internal/domain/models"
	"FinSignal/internal/services/features"
)

const (
	reversionRSIWeight   = 0.4
	reversionBBWeight    = 0.35
	reversionRangeWeight = 0.25
	reversionThreshold   = 0.3
)

// MeanReversionModel bets on a reversal when price is stretched:
// RSI, Bollinger position and range position far from their centres.
type MeanReversionModel struct{ *specialist }

// NewMeanReversionModel creates an untrained MeanReversionModel.
func NewMeanReversionModel(opts ...Option) *MeanReversionModel {
	return &MeanReversionModel{newSpecialist(models.ModelMeanReversion, evaluateMeanReversion, opts...)}
}

// bandExtremity maps x to a reversal pull in [-1,1]: negative above hi, positive below lo.
func bandExtremity(x, lo, hi, span float64) float64 {
	switch {
	case x > hi:
		return -math.Min(1, (x-hi)/span)
	case x < lo:
		return math.Min(1, (lo-x)/span)
	default:
		return 0
	}
}

func evaluateMeanReversion(fv models.FeatureVector) evaluation {
	rsi := bandExtremity(fv.Get(features.RSI14), 30, 70, 30)
	bb := bandExtremity(fv.Get(features.BBPosition), 0.2, 0.8, 0.2)
	rng := 0.0
	if fv.Get(features.Range20) > 0 {
		rng = bandExtremity(fv.Get(features.RangePosition20), 0.2, 0.8, 0.2)
	}
	score := reversionRSIWeight*rsi + reversionBBWeight*bb + reversionRangeWeight*rng

	ev := evaluation{
		metrics: map[string]float64{"reversion_score": score},
		importance: map[string]float64{
			features.RSI14:           reversionRSIWeight * math.Abs(rsi),
			features.BBPosition:      reversionBBWeight * math.Abs(bb),
			features.RangePosition20: reversionRangeWeight * math.Abs(rng),
		},
	}
	switch {
	case score > reversionThreshold:
		ev.direction = models.DirectionUp
		ev.confidence = math.Min(1, math.Abs(score))
	case score < -reversionThreshold:
		ev.direction = models.DirectionDown
		ev.confidence = math.Min(1, math.Abs(score))
	default:
		ev.direction = models.DirectionSideways
		ev.confidence = 0.3
	}
	return ev
}
