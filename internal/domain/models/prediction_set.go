package models

import "time"

// PredictionSet gathers every model's view of one symbol at its latest bar.
// Models that failed or had nothing to say are reported in Errors.
type PredictionSet struct {
	Symbol      string                 `json:"symbol"`
	Timestamp   time.Time              `json:"timestamp"`
	Price       float64                `json:"price"`
	Predictions map[string]*Prediction `json:"predictions"`
	Errors      map[string]string      `json:"errors,omitempty"`
}

// SignalPreview is the synthesizer's verdict on the latest prediction of one model.
type SignalPreview struct {
	Symbol     string         `json:"symbol"`
	Model      string         `json:"model"`
	Prediction *Prediction    `json:"prediction,omitempty"`
	Signal     *TradingSignal `json:"signal,omitempty"`
	SkipReason string         `json:"skip_reason,omitempty"`
}
