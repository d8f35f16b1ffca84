package models

import "time"

// MarketBar represents one OHLCV sample for a symbol. Bars are treated as
// immutable once created; consumers copy, never mutate.
type MarketBar struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Range returns the high-low span of the bar.
func (b MarketBar) Range() float64 { return b.High - b.Low }

// Body returns the absolute open-close span of the bar.
func (b MarketBar) Body() float64 {
	if b.Close >= b.Open {
		return b.Close - b.Open
	}
	return b.Open - b.Close
}

// ReturnFrom returns the simple return of this bar's close relative to prev's close.
// A non-positive previous close yields 0.
func (b MarketBar) ReturnFrom(prev MarketBar) float64 {
	if prev.Close <= 0 {
		return 0
	}
	return (b.Close - prev.Close) / prev.Close
}
