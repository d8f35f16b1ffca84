// Package testutil builds deterministic bar series for tests.
package testutil

import (
	"math"
	"math/rand/v2"
	"time"

	"FinSignal/internal/domain/models"
)

// Epoch is the timestamp of the first generated bar.
var Epoch = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

// Bar builds a bar at day i whose open is the previous close.
func Bar(symbol string, i int, open, close, volume float64) models.MarketBar {
	hi := math.Max(open, close) * 1.002
	lo := math.Min(open, close) * 0.998
	return models.MarketBar{
		Symbol:    symbol,
		Timestamp: Epoch.AddDate(0, 0, i),
		Open:      open,
		High:      hi,
		Low:       lo,
		Close:     close,
		Volume:    volume,
	}
}

// FromCloses turns a close series into bars.
func FromCloses(symbol string, closes []float64) []models.MarketBar {
	out := make([]models.MarketBar, len(closes))
	prev := closes[0]
	for i, c := range closes {
		out[i] = Bar(symbol, i, prev, c, 1000+float64(i%7)*50)
		prev = c
	}
	return out
}

// Rising returns n bars whose close grows by step (a fraction) every bar.
func Rising(symbol string, n int, start, step float64) []models.MarketBar {
	closes := make([]float64, n)
	c := start
	for i := range closes {
		closes[i] = c
		c *= 1 + step
	}
	return FromCloses(symbol, closes)
}

// Falling returns n bars whose close shrinks by step every bar.
func Falling(symbol string, n int, start, step float64) []models.MarketBar {
	return Rising(symbol, n, start, -step)
}

// Flat returns n bars with an identical OHLC; range and returns are zero.
func Flat(symbol string, n int, price float64) []models.MarketBar {
	out := make([]models.MarketBar, n)
	for i := range out {
		out[i] = models.MarketBar{
			Symbol:    symbol,
			Timestamp: Epoch.AddDate(0, 0, i),
			Open:      price, High: price, Low: price, Close: price,
			Volume: 1000,
		}
	}
	return out
}

// Wave returns n bars following a sine wave of the given amplitude and period.
func Wave(symbol string, n int, base, amplitude float64, period int) []models.MarketBar {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = base * (1 + amplitude*math.Sin(2*math.Pi*float64(i)/float64(period)))
	}
	return FromCloses(symbol, closes)
}

// RandomWalk returns n bars with seeded gaussian returns of stdev sigma.
func RandomWalk(symbol string, n int, start, sigma float64, seed uint64) []models.MarketBar {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	closes := make([]float64, n)
	c := start
	for i := range closes {
		closes[i] = c
		c *= 1 + r.NormFloat64()*sigma
		if c <= 0 {
			c = start * 0.01
		}
	}
	return FromCloses(symbol, closes)
}
