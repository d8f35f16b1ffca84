package features

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinSignal/internal/domain/models"
	"FinSignal/internal/testutil"
)

func feed(e *Extractor, bars []models.MarketBar) {
	for _, b := range bars {
		e.AddBar(b)
	}
}

func TestExtract_EmptyBelowMinHistory(t *testing.T) {
	e := NewExtractor()
	bars := testutil.Rising("AAPL", 19, 100, 0.01)
	feed(e, bars)

	fv := e.Extract("AAPL", bars[len(bars)-1])
	assert.True(t, fv.Empty())
	assert.Equal(t, SchemaVersion, fv.Version)
}

func TestExtract_AllKeysPresentAtThreshold(t *testing.T) {
	e := NewExtractor()
	bars := testutil.RandomWalk("AAPL", 20, 100, 0.01, 7)
	feed(e, bars)

	fv := e.Extract("AAPL", bars[len(bars)-1])
	require.False(t, fv.Empty())
	assert.Equal(t, Keys(AllFamilies...), fv.Names)
	for _, k := range Keys(AllFamilies...) {
		require.True(t, fv.Has(k), k)
		v := fv.Get(k)
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0), "%s = %v", k, v)
	}
	assert.Equal(t, bars[len(bars)-1].Timestamp, fv.Timestamp)
}

func TestExtract_Idempotent(t *testing.T) {
	e := NewExtractor()
	bars := testutil.RandomWalk("AAPL", 60, 100, 0.02, 3)
	feed(e, bars)

	last := bars[len(bars)-1]
	a := e.Extract("AAPL", last)
	b := e.Extract("AAPL", last)
	assert.Equal(t, a, b)
}

func TestExtract_UnstoredNewerBarCountsTowardsWindow(t *testing.T) {
	e := NewExtractor()
	bars := testutil.Rising("AAPL", 20, 100, 0.01)
	feed(e, bars[:19])

	fv := e.Extract("AAPL", bars[19])
	require.False(t, fv.Empty())
	assert.Equal(t, 19, e.History().Len("AAPL"))
}

func TestExtract_ZeroRangeBarsProduceFiniteValues(t *testing.T) {
	e := NewExtractor()
	bars := testutil.Flat("FLAT", 40, 50)
	feed(e, bars)

	fv := e.Extract("FLAT", bars[len(bars)-1])
	require.False(t, fv.Empty())
	for k, v := range fv.Values {
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0), "%s = %v", k, v)
	}
	assert.Zero(t, fv.Get(BodyRatio))
	assert.Zero(t, fv.Get(RangePosition20))
	assert.Equal(t, 50.0, fv.Get(RSI14))
}

func TestExtract_FamilyToggle(t *testing.T) {
	e := NewExtractor(WithFamilies(FamilyPrice, FamilyTechnical))
	bars := testutil.RandomWalk("AAPL", 30, 100, 0.01, 11)
	feed(e, bars)

	fv := e.Extract("AAPL", bars[len(bars)-1])
	assert.True(t, fv.Has(RSI14))
	assert.True(t, fv.Has(Momentum10))
	assert.False(t, fv.Has(Volatility20))
	assert.False(t, fv.Has(BodyRatio))
	assert.Len(t, fv.Names, len(FamilyKeys(FamilyPrice))+len(FamilyKeys(FamilyTechnical)))
}

func TestExtract_RisingSeriesIndicators(t *testing.T) {
	e := NewExtractor()
	bars := testutil.Rising("AAPL", 60, 100, 0.01)
	feed(e, bars)

	fv := e.Extract("AAPL", bars[len(bars)-1])
	assert.Greater(t, fv.Get(PriceVsSMA20), 0.0)
	assert.Greater(t, fv.Get(Momentum10), 0.09)
	assert.Greater(t, fv.Get(MACD), 0.0)
	assert.Equal(t, 100.0, fv.Get(RSI14))
	assert.Equal(t, 1.0, fv.Get(RSIOverbought))
	assert.InDelta(t, 0.01, fv.Get(Return1), 1e-9)
}

func TestSeries_AlignsWithBars(t *testing.T) {
	e := NewExtractor()
	bars := testutil.RandomWalk("AAPL", 50, 100, 0.01, 5)

	series := e.Series(bars)
	require.Len(t, series, len(bars))
	for i := 0; i < 19; i++ {
		assert.True(t, series[i].Empty(), "index %d", i)
	}
	for i := 19; i < len(bars); i++ {
		assert.False(t, series[i].Empty(), "index %d", i)
	}

	feed(e, bars)
	assert.Equal(t, e.Extract("AAPL", bars[49]).Values, series[49].Values)
}

func TestHistory_BoundedWindow(t *testing.T) {
	e := NewExtractor(WithHistoryWindow(30))
	bars := testutil.Rising("AAPL", 100, 10, 0.001)
	feed(e, bars)

	snap := e.History().Snapshot("AAPL")
	require.Len(t, snap, 30)
	assert.Equal(t, bars[70].Timestamp, snap[0].Timestamp)
	assert.Equal(t, bars[99].Timestamp, snap[29].Timestamp)
}

func TestHistory_ReplacesSameTimestamp(t *testing.T) {
	h := NewHistory(10)
	b := testutil.Bar("AAPL", 0, 10, 11, 100)
	h.Add(b)
	b.Close = 12
	h.Add(b)

	snap := h.Snapshot("AAPL")
	require.Len(t, snap, 1)
	assert.Equal(t, 12.0, snap[0].Close)
}

func TestHistory_ConcurrentSymbols(t *testing.T) {
	e := NewExtractor()
	var wg sync.WaitGroup
	for _, sym := range []string{"A", "B", "C", "D"} {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			for _, b := range testutil.RandomWalk(sym, 80, 100, 0.01, 1) {
				e.AddBar(b)
				_ = e.Extract(sym, b)
			}
		}(sym)
	}
	wg.Wait()
	for _, sym := range []string{"A", "B", "C", "D"} {
		assert.Equal(t, 80, e.History().Len(sym))
	}
}

func TestRSI_Bounds(t *testing.T) {
	assert.Equal(t, 50.0, RSI([]float64{1, 2}, 14))
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = float64(30 - i)
	}
	assert.Equal(t, 0.0, RSI(closes, 14))
}

func TestRealizedVolatility_Flat(t *testing.T) {
	bars := testutil.Flat("X", 30, 10)
	assert.Zero(t, RealizedVolatility(ComputeLogReturns(bars), 20, 252))
}
