package signals

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"FinSignal/internal/domain/models"
	domsvc "FinSignal/internal/domain/service"
	"FinSignal/internal/services/features"
)

// Skip reasons reported when no signal is produced.
const (
	SkipSideways      = "sideways"
	SkipLowConfidence = "low_confidence"
	SkipInvalidPrice  = "invalid_price"
	SkipZeroQuantity  = "zero_quantity"
)

// Config holds the sizing and risk parameters.
type Config struct {
	MinConfidence float64
	MaxPosition   float64
	BaseFraction  float64
	BaseStop      float64
	MinStop       float64
	MaxStop       float64
	ReferenceVol  float64
	RewardRisk    float64
	RegimeBoost   float64
	WinRateWindow int
	WinRateMin    int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MinConfidence: 0.6,
		MaxPosition:   1.0,
		BaseFraction:  0.1,
		BaseStop:      0.02,
		MinStop:       0.005,
		MaxStop:       0.05,
		ReferenceVol:  0.02,
		RewardRisk:    2.0,
		RegimeBoost:   1.3,
		WinRateWindow: 50,
		WinRateMin:    10,
	}
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithConfig replaces the configuration.
func WithConfig(cfg Config) Option { return func(s *Synthesizer) { s.cfg = cfg } }

// WithClock injects the signal timestamp source.
func WithClock(now func() time.Time) Option { return func(s *Synthesizer) { s.clock = now } }

// WithIDGenerator overrides signal ID generation.
func WithIDGenerator(gen func() string) Option { return func(s *Synthesizer) { s.newID = gen } }

// Synthesizer turns predictions into position-sized trading signals.
type Synthesizer struct {
	cfg   Config
	perf  *Performance
	clock func() time.Time
	newID func() string
}

// NewSynthesizer creates a Synthesizer.
func NewSynthesizer(opts ...Option) *Synthesizer {
	s := &Synthesizer{cfg: DefaultConfig(), clock: time.Now, newID: uuid.NewString}
	for _, o := range opts {
		o(s)
	}
	s.perf = NewPerformance(s.cfg.WinRateWindow, s.cfg.WinRateMin)
	return s
}

// Performance exposes the win-rate tracker fed by signal outcomes.
func (s *Synthesizer) Performance() *Performance { return s.perf }

// Config returns the active configuration.
func (s *Synthesizer) Config() Config { return s.cfg }

// Synthesize returns a signal, or nil and the skip reason.
func (s *Synthesizer) Synthesize(pred models.Prediction, bar models.MarketBar, fv models.FeatureVector) (*models.TradingSignal, string) {
	if pred.Direction == models.DirectionSideways || pred.Direction == "" {
		return nil, SkipSideways
	}
	if pred.Confidence < s.cfg.MinConfidence {
		return nil, SkipLowConfidence
	}
	price := bar.Close
	if !(price > 0) || math.IsInf(price, 0) {
		return nil, SkipInvalidPrice
	}

	side := models.SideBuy
	if pred.Direction == models.DirectionDown {
		side = models.SideSell
	}
	vol := math.Max(0, fv.Get(features.Volatility20))

	qty := s.PositionSize(pred.Confidence, vol)
	if !(qty > 0) {
		return nil, SkipZeroQuantity
	}
	stop := s.StopDistance(vol, pred.Regime)
	take := s.TakeProfitDistance(stop, pred.Confidence, pred.Regime, side)
	sig := &models.TradingSignal{
		ID:         s.newID(),
		Symbol:     bar.Symbol,
		Side:       side,
		Quantity:   qty,
		Price:      price,
		Confidence: pred.Confidence,
		Regime:     pred.Regime,
		Strategy:   pred.Model,
		CreatedAt:  s.clock(),
	}
	if side == models.SideBuy {
		sig.StopLoss = price * (1 - stop)
		sig.TakeProfit = price * (1 + take)
	} else {
		sig.StopLoss = price * (1 + stop)
		sig.TakeProfit = price * (1 - take)
	}
	sig.Rationale = Rationale(pred, 3)
	return sig, ""
}

// PositionSize = max*baseFraction * min(1.5, 1.5*confidence) * max(0.3, 1-10*vol) * performance.
func (s *Synthesizer) PositionSize(confidence, vol float64) float64 {
	base := s.cfg.MaxPosition * s.cfg.BaseFraction
	confScale := math.Min(1.5, confidence*1.5)
	damping := math.Max(0.3, 1-10*vol)
	q := base * confScale * damping * s.perf.Multiplier()
	return math.Min(q, s.cfg.MaxPosition)
}

// StopDistance returns the fractional stop distance, clamped to [MinStop, MaxStop].
func (s *Synthesizer) StopDistance(vol float64, regime models.Regime) float64 {
	d := s.cfg.BaseStop * s.volatilityScale(vol) * regimeScale(regime)
	return math.Max(s.cfg.MinStop, math.Min(s.cfg.MaxStop, d))
}

// TakeProfitDistance scales the stop distance by the reward-risk baseline,
// the confidence above threshold and regime alignment.
func (s *Synthesizer) TakeProfitDistance(stop, confidence float64, regime models.Regime, side models.TradeSide) float64 {
	d := stop * s.cfg.RewardRisk * s.confidenceScale(confidence)
	if (regime == models.RegimeBull && side == models.SideBuy) || (regime == models.RegimeBear && side == models.SideSell) {
		d *= s.cfg.RegimeBoost
	}
	return d
}

// volatilityScale is vol relative to the reference level, bounded to [0.5, 1.5].
// Missing volatility counts as the reference.
func (s *Synthesizer) volatilityScale(vol float64) float64 {
	if vol <= 0 || s.cfg.ReferenceVol <= 0 {
		return 1
	}
	return math.Max(0.5, math.Min(1.5, vol/s.cfg.ReferenceVol))
}

// confidenceScale grows from 1 at the threshold to 1.5 at full confidence.
func (s *Synthesizer) confidenceScale(confidence float64) float64 {
	span := 1 - s.cfg.MinConfidence
	if span <= 0 {
		return 1
	}
	return 1 + 0.5*models.Clamp01((confidence-s.cfg.MinConfidence)/span)
}

func regimeScale(r models.Regime) float64 {
	switch r {
	case models.RegimeVolatile:
		return 1.5
	case models.RegimeSideways:
		return 0.7
	default:
		return 1.0
	}
}

// Rationale renders the audit string: model, direction, confidence, regime and top features.
func Rationale(pred models.Prediction, top int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "model=%s direction=%s confidence=%.2f", pred.Model, pred.Direction, pred.Confidence)
	if pred.Regime != models.RegimeNone {
		fmt.Fprintf(&b, " regime=%s", pred.Regime)
	}
	if feats := TopFeatures(pred.FeatureImportance, top); len(feats) > 0 {
		parts := make([]string, len(feats))
		for i, k := range feats {
			parts[i] = fmt.Sprintf("%s(%.3f)", k, pred.FeatureImportance[k])
		}
		b.WriteString(" drivers=")
		b.WriteString(strings.Join(parts, ","))
	}
	return b.String()
}

// TopFeatures returns up to n keys by descending importance, ties by name.
func TopFeatures(importance map[string]float64, n int) []string {
	keys := make([]string, 0, len(importance))
	for k := range importance {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := importance[keys[i]], importance[keys[j]]
		if a != b {
			return a > b
		}
		return keys[i] < keys[j]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}

var _ domsvc.SignalPolicy = (*Synthesizer)(nil)
