package models

import (
	"math"
	"time"
)

// Direction is the predicted price direction over the next bar.
type Direction string

const (
	DirectionUp       Direction = "UP"
	DirectionDown     Direction = "DOWN"
	DirectionSideways Direction = "SIDEWAYS"
)

// Sign maps UP to +1, DOWN to -1 and SIDEWAYS to 0.
func (d Direction) Sign() float64 {
	switch d {
	case DirectionUp:
		return 1
	case DirectionDown:
		return -1
	default:
		return 0
	}
}

// DirectionFromReturn labels a realized return using a symmetric neutral band.
func DirectionFromReturn(ret, band float64) Direction {
	switch {
	case ret > band:
		return DirectionUp
	case ret < -band:
		return DirectionDown
	default:
		return DirectionSideways
	}
}

// Regime is a coarse market-condition label. The zero value means "not provided".
type Regime string

const (
	RegimeNone     Regime = ""
	RegimeBull     Regime = "BULL"
	RegimeBear     Regime = "BEAR"
	RegimeSideways Regime = "SIDEWAYS"
	RegimeVolatile Regime = "VOLATILE"
)

// Diagnostic metric keys carried in Prediction.Metrics.
const (
	MetricProbUp        = "prob_up"
	MetricProbDown      = "prob_down"
	MetricProbSideways  = "prob_sideways"
	MetricUncertainty   = "uncertainty"
	MetricKLDivergence  = "kl_divergence"
	MetricEntropy       = "entropy"
	MetricPriceTarget   = "price_target"
	MetricAgreement     = "agreement"
	MetricBullishScore  = "bullish_score"
	MetricBearishScore  = "bearish_score"
	MetricSpecialistCnt = "specialists"
)

// Prediction is an immutable model output for one symbol at one timestamp.
type Prediction struct {
	Symbol            string             `json:"symbol"`
	Timestamp         time.Time          `json:"timestamp"`
	Direction         Direction          `json:"direction"`
	Confidence        float64            `json:"confidence"`
	Regime            Regime             `json:"regime,omitempty"`
	Metrics           map[string]float64 `json:"metrics,omitempty"`
	FeatureImportance map[string]float64 `json:"feature_importance,omitempty"`
	Model             string             `json:"model"`
}

// NewPrediction builds a prediction with confidence clamped to [0,1] and
// negative importances dropped. Maps are copied so the value stays immutable.
func NewPrediction(symbol string, ts time.Time, model string, dir Direction, confidence float64, regime Regime, metrics, importance map[string]float64) Prediction {
	p := Prediction{
		Symbol:     symbol,
		Timestamp:  ts,
		Direction:  dir,
		Confidence: Clamp01(confidence),
		Regime:     regime,
		Model:      model,
	}
	if len(metrics) > 0 {
		p.Metrics = make(map[string]float64, len(metrics))
		for k, v := range metrics {
			p.Metrics[k] = v
		}
	}
	if len(importance) > 0 {
		p.FeatureImportance = make(map[string]float64, len(importance))
		for k, v := range importance {
			if v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0) {
				p.FeatureImportance[k] = v
			}
		}
	}
	return p
}

// Metric returns a diagnostic metric or def when absent.
func (p Prediction) Metric(key string, def float64) float64 {
	if v, ok := p.Metrics[key]; ok {
		return v
	}
	return def
}

// Clamp01 clamps v into [0,1]; NaN maps to 0.
func Clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// EnsembleWeightSet holds one weight per specialist.
type EnsembleWeightSet struct {
	Trend         float64 `json:"trend"`
	MeanReversion float64 `json:"mean_reversion"`
	Volatility    float64 `json:"volatility"`
	Pattern       float64 `json:"pattern"`
}

// Sum returns the total weight.
func (w EnsembleWeightSet) Sum() float64 {
	return w.Trend + w.MeanReversion + w.Volatility + w.Pattern
}

// Normalized returns a copy with negative weights zeroed and the rest scaled to sum to 1.
// A degenerate set falls back to equal weights.
func (w EnsembleWeightSet) Normalized() EnsembleWeightSet {
	fix := func(v float64) float64 {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return 0
		}
		return v
	}
	out := EnsembleWeightSet{fix(w.Trend), fix(w.MeanReversion), fix(w.Volatility), fix(w.Pattern)}
	s := out.Sum()
	if s <= 0 {
		return EnsembleWeightSet{0.25, 0.25, 0.25, 0.25}
	}
	out.Trend /= s
	out.MeanReversion /= s
	out.Volatility /= s
	out.Pattern /= s
	return out
}
