package service

import (
	"context"

	"FinSignal/internal/domain/models"
)

// Predictor is the capability shared by every trainable prediction component.
// Predict returns nil when the component has nothing to say (for example not ready).
type Predictor interface {
	Name() string
	Train(ctx context.Context, history []models.MarketBar, features []models.FeatureVector) (bool, error)
	Predict(bar models.MarketBar, fv models.FeatureVector) *models.Prediction
	Update(bar models.MarketBar, fv models.FeatureVector)
	IsReady() bool
	MinTrainingSize() int
	State() models.ModelState
	RecordOutcome(correct bool)
	MarshalBinary() ([]byte, error)
	UnmarshalBinary(data []byte) error
}

// ObservationBuffer is implemented by predictors that keep the observations
// passed to Update so a retrain can extend its history with them.
type ObservationBuffer interface {
	Observations() []models.Observation
	SetObservations(obs []models.Observation)
}

// FeatureSource computes feature vectors for bars.
type FeatureSource interface {
	AddBar(bar models.MarketBar)
	Extract(symbol string, bar models.MarketBar) models.FeatureVector
	Series(bars []models.MarketBar) []models.FeatureVector
}

// SignalPolicy converts a prediction into an optional trading signal.
type SignalPolicy interface {
	Synthesize(pred models.Prediction, bar models.MarketBar, fv models.FeatureVector) (*models.TradingSignal, string)
}
