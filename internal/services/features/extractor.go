package features

import (
	"math"

	"FinSignal/internal/domain/models"
)

// Config controls the extractor window and which feature families are emitted.
type Config struct {
	HistoryWindow int
	MinHistory    int
	BarsPerYear   float64
	Families      []Family
}

// DefaultConfig returns the production defaults: a 200-bar window, 20 bars
// minimum and every family enabled on daily bars.
func DefaultConfig() Config {
	return Config{
		HistoryWindow: 200,
		MinHistory:    20,
		BarsPerYear:   252,
		Families:      AllFamilies,
	}
}

// Option configures an Extractor.
type Option func(*Config)

// WithHistoryWindow bounds the number of bars kept per symbol.
func WithHistoryWindow(n int) Option { return func(c *Config) { c.HistoryWindow = n } }

// WithMinHistory sets the number of bars required before features are produced.
func WithMinHistory(n int) Option { return func(c *Config) { c.MinHistory = n } }

// WithBarsPerYear sets the annualisation factor.
func WithBarsPerYear(n float64) Option { return func(c *Config) { c.BarsPerYear = n } }

// WithFamilies restricts the emitted families.
func WithFamilies(fs ...Family) Option { return func(c *Config) { c.Families = fs } }

// Extractor turns bar history into versioned feature vectors.
// It is safe for concurrent use across symbols.
type Extractor struct {
	cfg     Config
	keys    []string
	enabled map[Family]bool
	history *History
}

// NewExtractor creates an Extractor.
func NewExtractor(opts ...Option) *Extractor {
	cfg := DefaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.MinHistory < 2 {
		cfg.MinHistory = 2
	}
	if cfg.HistoryWindow < cfg.MinHistory {
		cfg.HistoryWindow = cfg.MinHistory
	}
	if cfg.BarsPerYear <= 0 {
		cfg.BarsPerYear = 252
	}
	enabled := make(map[Family]bool, len(cfg.Families))
	for _, f := range cfg.Families {
		enabled[f] = true
	}
	return &Extractor{
		cfg:     cfg,
		keys:    Keys(cfg.Families...),
		enabled: enabled,
		history: NewHistory(cfg.HistoryWindow),
	}
}

// Keys returns the ordered feature schema this extractor emits.
func (e *Extractor) Keys() []string { return append([]string(nil), e.keys...) }

// MinHistory returns the bar count needed for a non-empty vector.
func (e *Extractor) MinHistory() int { return e.cfg.MinHistory }

// History exposes the rolling bar store.
func (e *Extractor) History() *History { return e.history }

// AddBar appends a bar to the symbol's rolling window.
func (e *Extractor) AddBar(bar models.MarketBar) {
	e.history.Add(bar)
}

// Extract computes features for bar using the symbol's stored history.
// A bar newer than the stored history is treated as the latest bar without
// being stored. The result is empty when fewer than MinHistory bars are available.
func (e *Extractor) Extract(symbol string, bar models.MarketBar) models.FeatureVector {
	snap := e.history.Snapshot(symbol)
	window := snap[:0:0]
	for _, b := range snap {
		if b.Timestamp.After(bar.Timestamp) {
			break
		}
		if b.Timestamp.Equal(bar.Timestamp) {
			continue
		}
		window = append(window, b)
	}
	window = append(window, bar)
	if len(window) > e.cfg.HistoryWindow {
		window = window[len(window)-e.cfg.HistoryWindow:]
	}
	return e.Compute(symbol, window)
}

// Series computes one vector per bar of an ordered history, each from the
// bars preceding it. Entries before MinHistory are empty so indices line up.
func (e *Extractor) Series(bars []models.MarketBar) []models.FeatureVector {
	out := make([]models.FeatureVector, len(bars))
	for i := range bars {
		start := i + 1 - e.cfg.HistoryWindow
		if start < 0 {
			start = 0
		}
		out[i] = e.Compute(bars[i].Symbol, bars[start:i+1])
	}
	return out
}

// Compute derives the feature vector for the last bar of window.
func (e *Extractor) Compute(symbol string, window []models.MarketBar) models.FeatureVector {
	if len(window) < e.cfg.MinHistory {
		return models.FeatureVector{Symbol: symbol, Version: SchemaVersion}
	}
	last := window[len(window)-1]
	values := make(map[string]float64, len(e.keys))
	closes := closesOf(window)
	returns := SimpleReturns(window)

	if e.enabled[FamilyPrice] {
		priceFeatures(values, window, closes)
	}
	if e.enabled[FamilyVolume] {
		volumeFeatures(values, window, returns)
	}
	if e.enabled[FamilyTechnical] {
		technicalFeatures(values, window, closes)
	}
	if e.enabled[FamilyStatistical] {
		statisticalFeatures(values, closes, returns)
	}
	if e.enabled[FamilyVolatility] {
		volatilityFeatures(values, window, returns, e.cfg.BarsPerYear)
	}
	if e.enabled[FamilyMicrostructure] {
		microstructureFeatures(values, window)
	}

	for _, k := range e.keys {
		values[k] = finite(values[k])
	}
	return models.FeatureVector{
		Symbol:    symbol,
		Timestamp: last.Timestamp,
		Version:   SchemaVersion,
		Names:     e.Keys(),
		Values:    values,
	}
}

func closesOf(bars []models.MarketBar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

func volumesOf(bars []models.MarketBar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Volume
	}
	return out
}

func momentum(closes []float64, n int) float64 {
	if len(closes) <= n {
		return 0
	}
	base := closes[len(closes)-1-n]
	if base == 0 {
		return 0
	}
	return closes[len(closes)-1]/base - 1
}

func priceVsSMA(closes []float64, n int) float64 {
	sma, ok := SMA(closes, n)
	if !ok || sma == 0 {
		return 0
	}
	return closes[len(closes)-1]/sma - 1
}

func priceFeatures(v map[string]float64, bars []models.MarketBar, closes []float64) {
	last := bars[len(bars)-1]
	v[Return1] = last.ReturnFrom(bars[len(bars)-2])
	v[PriceVsSMA5] = priceVsSMA(closes, 5)
	v[PriceVsSMA10] = priceVsSMA(closes, 10)
	v[PriceVsSMA20] = priceVsSMA(closes, 20)
	v[PriceVsSMA50] = priceVsSMA(closes, 50)
	v[Momentum5] = momentum(closes, 5)
	v[Momentum10] = momentum(closes, 10)
	v[Momentum20] = momentum(closes, 20)

	sma5, ok5 := SMA(closes, 5)
	sma20, ok20 := SMA(closes, 20)
	if ok5 && ok20 {
		v[TrendStrength] = ratio(sma5-sma20, sma20)
	}

	hh, ll := highLow(bars[max(0, len(bars)-20):])
	v[RangePosition20] = ratio(last.Close-ll, hh-ll)
	v[Range20] = ratio(hh-ll, last.Close)
	v[DistFromHigh20] = ratio(hh-last.Close, last.Close)
	v[DistFromLow20] = ratio(last.Close-ll, last.Close)
}

func volumeFeatures(v map[string]float64, bars []models.MarketBar, returns []float64) {
	vols := volumesOf(bars)
	cur := vols[len(vols)-1]
	avg5, _ := SMA(vols, 5)
	avg20, _ := SMA(vols, 20)
	v[VolumeRatio5] = ratio(cur, avg5)
	v[VolumeRatio20] = ratio(cur, avg20)
	v[VolumeTrend] = ratio(avg5, avg20)

	// co-movement: +1 when price and volume move together, -1 when they diverge
	n := min(10, len(returns))
	if n == 0 {
		return
	}
	score := 0.0
	for i := len(bars) - n; i < len(bars); i++ {
		dp := bars[i].Close - bars[i-1].Close
		dv := bars[i].Volume - bars[i-1].Volume
		switch {
		case dp*dv > 0:
			score++
		case dp*dv < 0:
			score--
		}
	}
	v[PriceVolumeScore] = score / float64(n)
}

func technicalFeatures(v map[string]float64, bars []models.MarketBar, closes []float64) {
	rsi := RSI(closes, 14)
	v[RSI14] = rsi
	v[RSIOverbought] = boolFeature(rsi > 70)
	v[RSIOversold] = boolFeature(rsi < 30)

	m := ComputeMACD(closes, 12, 26, 9)
	v[MACD] = m.Line
	v[MACDSignal] = m.Signal
	v[MACDHistogram] = m.Histogram
	v[MACDBullishCross] = boolFeature(m.Histogram > 0 && m.PrevHistogram <= 0)

	if mid, upper, lower, ok := Bollinger(closes, 20, 2); ok {
		v[BBPosition] = ratio(closes[len(closes)-1]-lower, upper-lower)
		v[BBWidth] = ratio(upper-lower, mid)
	}

	k, d := Stochastic(bars, 14, 3)
	v[StochK] = k
	v[StochD] = d
	v[StochOverbought] = boolFeature(k > 80)
	v[StochOversold] = boolFeature(k < 20)
}

func statisticalFeatures(v map[string]float64, closes, returns []float64) {
	v[PriceMean20], v[PriceStd20], v[PriceSkew20], v[PriceKurtosis20] = Moments(tail(closes, 20))
	v[ReturnMean20], v[ReturnStd20], v[ReturnSkew20], v[ReturnKurtosis20] = Moments(tail(returns, 20))
}

func volatilityFeatures(v map[string]float64, bars []models.MarketBar, returns []float64, barsPerYear float64) {
	_, v[Volatility5], _, _ = Moments(tail(returns, 5))
	_, v[Volatility10], _, _ = Moments(tail(returns, 10))
	_, v[Volatility20], _, _ = Moments(tail(returns, 20))

	logs := ComputeLogReturns(bars)
	v[AnnualizedVol5] = RealizedVolatility(logs, min(5, len(logs)), barsPerYear)
	v[AnnualizedVol20] = RealizedVolatility(logs, min(20, len(logs)), barsPerYear)
	v[VolatilityRatio] = ratio(v[Volatility5], v[Volatility20])

	last := bars[len(bars)-1]
	v[IntradayRange] = ratio(last.Range(), last.Close)
}

func microstructureFeatures(v map[string]float64, bars []models.MarketBar) {
	last := bars[len(bars)-1]
	prev := bars[len(bars)-2]
	rng := last.Range()
	v[BodyRatio] = ratio(last.Body(), rng)
	v[UpperShadowRatio] = ratio(last.High-math.Max(last.Open, last.Close), rng)
	v[LowerShadowRatio] = ratio(math.Min(last.Open, last.Close)-last.Low, rng)
	v[ClosePosition] = ratio(last.Close-last.Low, rng)
	switch {
	case last.Close > last.Open:
		v[BodyDirection] = 1
	case last.Close < last.Open:
		v[BodyDirection] = -1
	}
	v[OpeningGap] = ratio(last.Open-prev.Close, prev.Close)
}
