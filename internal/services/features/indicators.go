package features

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"FinSignal/internal/domain/models"
)

// finite maps NaN and Inf to the 0 sentinel.
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// ratio divides a by b, returning 0 when b is zero.
func ratio(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return finite(a / b)
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func tail(xs []float64, n int) []float64 {
	if n >= len(xs) {
		return xs
	}
	return xs[len(xs)-n:]
}

// SMA returns the simple moving average of the last n values.
// ok is false when fewer than n values are available.
func SMA(xs []float64, n int) (float64, bool) {
	if n <= 0 || len(xs) < n {
		return 0, false
	}
	return stat.Mean(tail(xs, n), nil), true
}

// EMASeries returns the exponential moving average series seeded with the first value.
func EMASeries(xs []float64, n int) []float64 {
	if len(xs) == 0 || n <= 0 {
		return nil
	}
	k := 2.0 / float64(n+1)
	out := make([]float64, len(xs))
	out[0] = xs[0]
	for i := 1; i < len(xs); i++ {
		out[i] = xs[i]*k + out[i-1]*(1-k)
	}
	return out
}

// RSI computes Wilder's relative strength index over period.
// It returns the neutral 50 when history is too short.
func RSI(closes []float64, period int) float64 {
	if period <= 0 || len(closes) < period+1 {
		return 50
	}
	var gain, loss float64
	for i := 1; i <= period; i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)
	for i := period + 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		g, l := 0.0, 0.0
		if d > 0 {
			g = d
		} else {
			l = -d
		}
		avgGain = (avgGain*float64(period-1) + g) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + l) / float64(period)
	}
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// MACDResult holds the latest MACD line values plus the previous histogram.
type MACDResult struct {
	Line, Signal, Histogram, PrevHistogram float64
}

// ComputeMACD computes MACD(fast, slow, signal) on closes.
func ComputeMACD(closes []float64, fast, slow, signal int) MACDResult {
	if len(closes) < 2 {
		return MACDResult{}
	}
	ef := EMASeries(closes, fast)
	es := EMASeries(closes, slow)
	line := make([]float64, len(closes))
	for i := range closes {
		line[i] = ef[i] - es[i]
	}
	sig := EMASeries(line, signal)
	n := len(line) - 1
	return MACDResult{
		Line:          line[n],
		Signal:        sig[n],
		Histogram:     line[n] - sig[n],
		PrevHistogram: line[n-1] - sig[n-1],
	}
}

// Bollinger returns the middle, upper and lower bands over the last period closes.
func Bollinger(closes []float64, period int, width float64) (mid, upper, lower float64, ok bool) {
	if len(closes) < period || period < 2 {
		return 0, 0, 0, false
	}
	mean, std := stat.PopMeanStdDev(tail(closes, period), nil)
	return mean, mean + width*std, mean - width*std, true
}

// Stochastic returns %K over kPeriod and %D as the dPeriod average of %K.
func Stochastic(bars []models.MarketBar, kPeriod, dPeriod int) (k, d float64) {
	if len(bars) < kPeriod {
		return 50, 50
	}
	ks := make([]float64, 0, dPeriod)
	for off := dPeriod - 1; off >= 0; off-- {
		end := len(bars) - off
		if end-kPeriod < 0 {
			continue
		}
		ks = append(ks, stochK(bars[end-kPeriod:end]))
	}
	return ks[len(ks)-1], stat.Mean(ks, nil)
}

func stochK(window []models.MarketBar) float64 {
	hh, ll := highLow(window)
	if hh == ll {
		return 50
	}
	return (window[len(window)-1].Close - ll) / (hh - ll) * 100
}

func highLow(window []models.MarketBar) (hh, ll float64) {
	if len(window) == 0 {
		return 0, 0
	}
	hh, ll = window[0].High, window[0].Low
	for _, b := range window[1:] {
		hh = math.Max(hh, b.High)
		ll = math.Min(ll, b.Low)
	}
	return hh, ll
}

// Moments returns mean, sample stdev, skewness and excess kurtosis of xs.
// Undefined moments collapse to 0.
func Moments(xs []float64) (mean, std, skew, kurt float64) {
	if len(xs) == 0 {
		return 0, 0, 0, 0
	}
	mean, std = stat.MeanStdDev(xs, nil)
	if len(xs) < 4 || finite(std) == 0 {
		return finite(mean), 0, 0, 0
	}
	return finite(mean), finite(std), finite(stat.Skew(xs, nil)), finite(stat.ExKurtosis(xs, nil))
}

// SimpleReturns returns close-to-close returns; length len(bars)-1.
func SimpleReturns(bars []models.MarketBar) []float64 {
	if len(bars) < 2 {
		return nil
	}
	out := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		out = append(out, bars[i].ReturnFrom(bars[i-1]))
	}
	return out
}

// ComputeLogReturns computes log returns r_t = ln(C_t / C_{t-1}).
// It returns a slice of length len(bars)-1, or nil if insufficient data.
func ComputeLogReturns(bars []models.MarketBar) []float64 {
	if len(bars) < 2 {
		return nil
	}
	out := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		prev, cur := bars[i-1].Close, bars[i].Close
		if prev <= 0 || cur <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, math.Log(cur/prev))
	}
	return out
}

// RealizedVolatility computes annualized realized volatility over the latest window
// of log returns using the provided number of bars per year.
func RealizedVolatility(logReturns []float64, window int, barsPerYear float64) float64 {
	if window <= 1 || len(logReturns) < window {
		return 0
	}
	variance := stat.Variance(tail(logReturns, window), nil)
	if !(variance > 0) {
		return 0
	}
	return math.Sqrt(variance * barsPerYear)
}

// BarsPerYearForTF returns the approximate number of bars per year for a timeframe.
func BarsPerYearForTF(tf string) float64 {
	switch tf {
	case "1m":
		return 365 * 24 * 60
	case "5m":
		return 365 * 24 * 12
	case "1h":
		return 365 * 24
	case "1d", "":
		return 252
	default:
		return 252
	}
}
