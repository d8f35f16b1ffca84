package finnhub

import (
	"sort"
	"time"

	"FinSignal/internal/domain/models"
)

// BarAggregator folds trades into fixed-width OHLCV bars per symbol. A bar is
// emitted once a trade of a later bucket arrives or the bucket is flushed.
type BarAggregator struct {
	width time.Duration
	open  map[string]*models.MarketBar
}

// NewBarAggregator creates an aggregator with the given bucket width.
func NewBarAggregator(width time.Duration) *BarAggregator {
	if width <= 0 {
		width = time.Minute
	}
	return &BarAggregator{width: width, open: make(map[string]*models.MarketBar)}
}

// Add folds one trade and returns the bar it completed, if any. Trades older
// than the open bucket are dropped.
func (a *BarAggregator) Add(symbol string, ts time.Time, price, volume float64) *models.MarketBar {
	if symbol == "" || !(price > 0) {
		return nil
	}
	bucket := ts.UTC().Truncate(a.width)
	cur, ok := a.open[symbol]
	if ok && bucket.Before(cur.Timestamp) {
		return nil
	}
	if ok && bucket.Equal(cur.Timestamp) {
		cur.High = max(cur.High, price)
		cur.Low = min(cur.Low, price)
		cur.Close = price
		cur.Volume += volume
		return nil
	}
	a.open[symbol] = &models.MarketBar{
		Symbol: symbol, Timestamp: bucket,
		Open: price, High: price, Low: price, Close: price, Volume: volume,
	}
	return cur
}

// Flush emits every open bar whose bucket ended at or before now, ordered by symbol.
func (a *BarAggregator) Flush(now time.Time) []*models.MarketBar {
	var out []*models.MarketBar
	for sym, b := range a.open {
		if !b.Timestamp.Add(a.width).After(now) {
			out = append(out, b)
			delete(a.open, sym)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
