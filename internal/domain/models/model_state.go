package models

import "time"

// LifecycleState is the training state of one (symbol, model) pair.
type LifecycleState string

const (
	StateUntrained LifecycleState = "untrained"
	StateTraining  LifecycleState = "training"
	StateReady     LifecycleState = "ready"
	StateDegraded  LifecycleState = "degraded"
)

// ModelState is the bookkeeping owned by a trainable component.
// TrainingSamples counts the labelled samples the last training used.
type ModelState struct {
	Model              string    `json:"model"`
	Ready              bool      `json:"ready"`
	LastTrained        time.Time `json:"last_trained"`
	Predictions        int64     `json:"predictions"`
	CorrectPredictions int64     `json:"correct_predictions"`
	TrainingSamples    int       `json:"training_samples"`
	Blob               []byte    `json:"-"`
}

// Accuracy returns correct/total or 0 with no scored predictions.
func (s ModelState) Accuracy() float64 {
	if s.Predictions == 0 {
		return 0
	}
	return float64(s.CorrectPredictions) / float64(s.Predictions)
}

// ModelStatus is the lifecycle view of one (symbol, model) pair.
type ModelStatus struct {
	Symbol      string         `json:"symbol"`
	Model       string         `json:"model"`
	State       LifecycleState `json:"state"`
	Ready       bool           `json:"ready"`
	LastTrained time.Time      `json:"last_trained"`
	Predictions int64          `json:"predictions"`
	Correct     int64          `json:"correct"`
	Accuracy    float64        `json:"accuracy"`
	Samples     int            `json:"samples"`
	LastError   string         `json:"last_error,omitempty"`
}
