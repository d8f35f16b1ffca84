package models

import "time"

// FeatureVector is a named feature set derived from a bar and its preceding history.
// Names preserves the schema order; Values holds one entry per name.
// An empty vector (no names) signals insufficient history.
type FeatureVector struct {
	Symbol    string             `json:"symbol"`
	Timestamp time.Time          `json:"timestamp"`
	Version   int                `json:"version"`
	Names     []string           `json:"names"`
	Values    map[string]float64 `json:"values"`
}

// Empty reports whether the vector carries no features.
func (v FeatureVector) Empty() bool { return len(v.Names) == 0 }

// Len returns the number of features.
func (v FeatureVector) Len() int { return len(v.Names) }

// Get returns the named feature or 0 when absent.
func (v FeatureVector) Get(name string) float64 { return v.Values[name] }

// Has reports whether the feature is present.
func (v FeatureVector) Has(name string) bool {
	_, ok := v.Values[name]
	return ok
}

// Slice returns the values in schema order.
func (v FeatureVector) Slice() []float64 {
	out := make([]float64, len(v.Names))
	for i, n := range v.Names {
		out[i] = v.Values[n]
	}
	return out
}
