package analytics

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"sync"

	"FinSignal/internal/domain/models"
	domsvc "FinSignal/internal/domain/service"
	"FinSignal/internal/services/features"
	"FinSignal/internal/services/modelio"
)

// Dynamic weight bounds.
const (
	trendBase, trendMax           = 0.2, 0.5
	reversionBase, reversionMax   = 0.2, 0.5
	volatilityBase, volatilityMax = 0.15, 0.4
	patternWeight                 = 0.25

	directionFloor     = 0.3
	sidewaysConfidence = 0.5
)

// SpecialistOutputs carries one optional prediction per specialist.
type SpecialistOutputs struct {
	Trend         *models.Prediction
	MeanReversion *models.Prediction
	Volatility    *models.Prediction
	Pattern       *models.Prediction
}

func (o SpecialistOutputs) directional() []*models.Prediction {
	var out []*models.Prediction
	for _, p := range []*models.Prediction{o.Trend, o.MeanReversion, o.Pattern} {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

func (o SpecialistOutputs) count() int {
	n := len(o.directional())
	if o.Volatility != nil {
		n++
	}
	return n
}

// ComputeWeights derives the normalized specialist weights from current market conditions.
func ComputeWeights(fv models.FeatureVector) models.EnsembleWeightSet {
	trend := trendBase + 2*(math.Abs(fv.Get(features.Momentum10))+math.Abs(fv.Get(features.TrendStrength)))
	rsiExtremity := math.Max(0, math.Abs(fv.Get(features.RSI14)-50)-20) / 30
	reversion := reversionBase + 2*math.Abs(fv.Get(features.PriceVsSMA20)) + 0.3*rsiExtremity
	volatility := volatilityBase + 5*math.Abs(fv.Get(features.Volatility20))

	return models.EnsembleWeightSet{
		Trend:         clampWeight(trend, trendBase, trendMax),
		MeanReversion: clampWeight(reversion, reversionBase, reversionMax),
		Volatility:    clampWeight(volatility, volatilityBase, volatilityMax),
		Pattern:       patternWeight,
	}.Normalized()
}

func clampWeight(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	return math.Min(v, hi)
}

// Agreement returns the fraction of agreeing direction pairs, or 0.5 with fewer than two voters.
func Agreement(preds []*models.Prediction) float64 {
	if len(preds) < 2 {
		return 0.5
	}
	var pairs, agree int
	for i := 0; i < len(preds); i++ {
		for j := i + 1; j < len(preds); j++ {
			pairs++
			if preds[i].Direction == preds[j].Direction {
				agree++
			}
		}
	}
	return float64(agree) / float64(pairs)
}

// Fuse combines specialist outputs into one prediction. It returns nil when
// no specialist produced an output.
func Fuse(bar models.MarketBar, fv models.FeatureVector, out SpecialistOutputs) *models.Prediction {
	if out.count() == 0 {
		return nil
	}
	w := ComputeWeights(fv)

	var bullish, bearish float64
	vote := func(p *models.Prediction, weight float64) {
		if p == nil {
			return
		}
		switch p.Direction {
		case models.DirectionUp:
			bullish += weight * p.Confidence
		case models.DirectionDown:
			bearish += weight * p.Confidence
		}
	}
	vote(out.Trend, w.Trend)
	vote(out.MeanReversion, w.MeanReversion)
	vote(out.Pattern, w.Pattern)

	dir, conf := models.DirectionSideways, sidewaysConfidence
	switch {
	case bullish > bearish && bullish > directionFloor:
		dir, conf = models.DirectionUp, bullish
	case bearish > bullish && bearish > directionFloor:
		dir, conf = models.DirectionDown, bearish
	}
	agreement := Agreement(out.directional())
	conf *= 0.5 + 0.5*agreement

	regime := models.RegimeNone
	if out.Volatility != nil {
		regime = out.Volatility.Regime
	}

	importance := map[string]float64{}
	merge := func(p *models.Prediction, weight float64) {
		if p == nil {
			return
		}
		for k, v := range p.FeatureImportance {
			importance[k] += weight * v
		}
	}
	merge(out.Trend, w.Trend)
	merge(out.MeanReversion, w.MeanReversion)
	merge(out.Volatility, w.Volatility)
	merge(out.Pattern, w.Pattern)

	metrics := map[string]float64{
		models.MetricBullishScore:  bullish,
		models.MetricBearishScore:  bearish,
		models.MetricAgreement:     agreement,
		models.MetricSpecialistCnt: float64(out.count()),
		"weight_trend":             w.Trend,
		"weight_mean_reversion":    w.MeanReversion,
		"weight_volatility":        w.Volatility,
		"weight_pattern":           w.Pattern,
	}
	p := models.NewPrediction(bar.Symbol, bar.Timestamp, models.ModelEnsemble, dir, conf, regime, metrics, importance)
	return &p
}

// Ensemble owns the four specialists of one symbol and fuses their outputs.
type Ensemble struct {
	trend      *TrendModel
	reversion  *MeanReversionModel
	volatility *VolatilityRegimeModel
	pattern    *PatternModel

	mu          sync.RWMutex
	predictions int64
	correct     int64
}

// NewEnsemble creates an ensemble of untrained specialists sharing opts.
func NewEnsemble(opts ...Option) *Ensemble {
	return &Ensemble{
		trend:      NewTrendModel(opts...),
		reversion:  NewMeanReversionModel(opts...),
		volatility: NewVolatilityRegimeModel(opts...),
		pattern:    NewPatternModel(opts...),
	}
}

// Members returns the specialists in fusion order.
func (e *Ensemble) Members() []domsvc.Predictor {
	return []domsvc.Predictor{e.trend, e.reversion, e.volatility, e.pattern}
}

func (e *Ensemble) Name() string { return models.ModelEnsemble }

func (e *Ensemble) MinTrainingSize() int {
	n := 0
	for _, m := range e.Members() {
		n = max(n, m.MinTrainingSize())
	}
	return n
}

// Train trains every specialist independently. It succeeds only if all of them do.
func (e *Ensemble) Train(ctx context.Context, history []models.MarketBar, series []models.FeatureVector) (bool, error) {
	all := true
	var errs []error
	for _, m := range e.Members() {
		ok, err := m.Train(ctx, history, series)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", m.Name(), err))
		}
		all = all && ok
		if ctx.Err() != nil {
			break
		}
	}
	return all && len(errs) == 0, errors.Join(errs...)
}

// Specialists returns the raw output of every specialist for bar.
func (e *Ensemble) Specialists(bar models.MarketBar, fv models.FeatureVector) SpecialistOutputs {
	return SpecialistOutputs{
		Trend:         e.trend.Predict(bar, fv),
		MeanReversion: e.reversion.Predict(bar, fv),
		Volatility:    e.volatility.Predict(bar, fv),
		Pattern:       e.pattern.Predict(bar, fv),
	}
}

func (e *Ensemble) Predict(bar models.MarketBar, fv models.FeatureVector) *models.Prediction {
	return Fuse(bar, fv, e.Specialists(bar, fv))
}

func (e *Ensemble) Update(bar models.MarketBar, fv models.FeatureVector) {
	for _, m := range e.Members() {
		m.Update(bar, fv)
	}
}

// Observations returns the buffer shared by the specialists; they all receive
// the same updates.
func (e *Ensemble) Observations() []models.Observation { return e.trend.Observations() }

// SetObservations seeds every specialist buffer.
func (e *Ensemble) SetObservations(obs []models.Observation) {
	e.trend.SetObservations(obs)
	e.reversion.SetObservations(obs)
	e.volatility.SetObservations(obs)
	e.pattern.SetObservations(obs)
}

// IsReady reports whether at least one direction-bearing specialist is ready.
func (e *Ensemble) IsReady() bool {
	return e.trend.IsReady() || e.reversion.IsReady() || e.pattern.IsReady()
}

func (e *Ensemble) RecordOutcome(correct bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.predictions++
	if correct {
		e.correct++
	}
}

func (e *Ensemble) State() models.ModelState {
	st := models.ModelState{Model: models.ModelEnsemble, Ready: e.IsReady()}
	for _, m := range e.Members() {
		ms := m.State()
		if ms.LastTrained.After(st.LastTrained) {
			st.LastTrained = ms.LastTrained
		}
		st.TrainingSamples = max(st.TrainingSamples, ms.TrainingSamples)
	}
	e.mu.RLock()
	st.Predictions, st.CorrectPredictions = e.predictions, e.correct
	e.mu.RUnlock()
	return st
}

type ensembleBlob struct {
	Members     map[string][]byte
	Predictions int64
	Correct     int64
}

func (e *Ensemble) MarshalBinary() ([]byte, error) {
	blob := ensembleBlob{Members: make(map[string][]byte, 4)}
	for _, m := range e.Members() {
		b, err := m.MarshalBinary()
		if err != nil {
			return nil, err
		}
		blob.Members[m.Name()] = b
	}
	e.mu.RLock()
	blob.Predictions, blob.Correct = e.predictions, e.correct
	e.mu.RUnlock()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(blob); err != nil {
		return nil, fmt.Errorf("encode ensemble: %w", err)
	}
	return buf.Bytes(), nil
}

func (e *Ensemble) UnmarshalBinary(data []byte) error {
	var blob ensembleBlob
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&blob); err != nil {
		return fmt.Errorf("decode ensemble: %w", err)
	}
	for _, m := range e.Members() {
		b, ok := blob.Members[m.Name()]
		if !ok {
			return fmt.Errorf("ensemble blob missing %s", m.Name())
		}
		if err := m.UnmarshalBinary(b); err != nil {
			return err
		}
	}
	e.mu.Lock()
	e.predictions, e.correct = blob.Predictions, blob.Correct
	e.mu.Unlock()
	return nil
}

// Save writes the ensemble to path.
func (e *Ensemble) Save(path string) error { return modelio.Save(path, e) }

// Load restores the ensemble from path.
func (e *Ensemble) Load(path string) error { return modelio.Load(path, e) }

var (
	_ domsvc.Predictor         = (*Ensemble)(nil)
	_ domsvc.ObservationBuffer = (*Ensemble)(nil)
)
