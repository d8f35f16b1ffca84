package analytics

import (
	"math"

	"FinSignal/internal/domain/models"
	"FinSignal/internal/services/features"
)

const (
	patternThreshold = 0.2
	gapThreshold     = 0.005
)

// PatternModel scores single-candle patterns (doji, hammer, shooting star,
// strong body) and opening gaps.
type PatternModel struct{ *specialist }

// NewPatternModel creates an untrained PatternModel.
func NewPatternModel(opts ...Option) *PatternModel {
	return &PatternModel{newSpecialist(models.ModelPattern, evaluatePattern, opts...)}
}

func evaluatePattern(fv models.FeatureVector) evaluation {
	body := fv.Get(features.BodyRatio)
	upper := fv.Get(features.UpperShadowRatio)
	lower := fv.Get(features.LowerShadowRatio)
	gap := fv.Get(features.OpeningGap)
	imp := map[string]float64{}
	score := 0.0

	if fv.Get(features.IntradayRange) > 0 {
		switch {
		case body < 0.1:
			// doji: indecision against the short-term move
			score -= 0.3 * sign(fv.Get(features.Momentum5))
			imp[features.BodyRatio] += 0.3
			imp[features.Momentum5] += 0.1
		case lower >= 0.6 && upper <= 0.15:
			score += 0.5
			imp[features.LowerShadowRatio] += 0.5
		case upper >= 0.6 && lower <= 0.15:
			score -= 0.5
			imp[features.UpperShadowRatio] += 0.5
		case body >= 0.6:
			score += 0.35 * fv.Get(features.BodyDirection)
			imp[features.BodyRatio] += 0.35
		}
	}
	switch {
	case gap > gapThreshold:
		score += 0.3
		imp[features.OpeningGap] += 0.3
	case gap < -gapThreshold:
		score -= 0.3
		imp[features.OpeningGap] += 0.3
	}
	score = math.Max(-1, math.Min(1, score))

	ev := evaluation{
		metrics:    map[string]float64{"pattern_score": score},
		importance: imp,
	}
	switch {
	case score > patternThreshold:
		ev.direction = models.DirectionUp
		ev.confidence = 0.4 + math.Abs(score)*0.6
	case score < -patternThreshold:
		ev.direction = models.DirectionDown
		ev.confidence = 0.4 + math.Abs(score)*0.6
	default:
		ev.direction = models.DirectionSideways
		ev.confidence = 0.3
	}
	return ev
}

func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}
