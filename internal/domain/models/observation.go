package models

import "slices"

// Observation is a bar together with the feature vector computed for it.
type Observation struct {
	Bar      MarketBar
	Features FeatureVector
}

// AppendObservation adds o to a time-ordered buffer. An equal timestamp
// replaces the tail, an older one is dropped. The result keeps at most limit
// entries when limit is positive.
func AppendObservation(buf []Observation, o Observation, limit int) []Observation {
	if n := len(buf); n > 0 && !buf[n-1].Bar.Timestamp.Before(o.Bar.Timestamp) {
		if buf[n-1].Bar.Timestamp.Equal(o.Bar.Timestamp) {
			buf[n-1] = o
		}
		return buf
	}
	buf = append(buf, o)
	if over := len(buf) - limit; limit > 0 && over > 0 {
		buf = append(buf[:0:0], buf[over:]...)
	}
	return buf
}

// MergeObservations returns a and b as one time-ordered slice. On equal
// timestamps the entry from b wins unless its features are empty and a's are not.
func MergeObservations(a, b []Observation, limit int) []Observation {
	all := make([]Observation, 0, len(a)+len(b))
	all = append(append(all, a...), b...)
	slices.SortStableFunc(all, func(x, y Observation) int { return x.Bar.Timestamp.Compare(y.Bar.Timestamp) })

	out := all[:0]
	for _, o := range all {
		if n := len(out); n > 0 && out[n-1].Bar.Timestamp.Equal(o.Bar.Timestamp) {
			if !o.Features.Empty() || out[n-1].Features.Empty() {
				out[n-1] = o
			}
			continue
		}
		out = append(out, o)
	}
	if over := len(out) - limit; limit > 0 && over > 0 {
		out = out[over:]
	}
	return out
}

// SplitObservations returns the bars and feature vectors of obs in order.
func SplitObservations(obs []Observation) ([]MarketBar, []FeatureVector) {
	bars := make([]MarketBar, len(obs))
	series := make([]FeatureVector, len(obs))
	for i, o := range obs {
		bars[i], series[i] = o.Bar, o.Features
	}
	return bars, series
}
