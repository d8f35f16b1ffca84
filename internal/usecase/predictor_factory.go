package usecase

import (
	"fmt"

	"FinSignal/internal/domain/models"
	domsvc "FinSignal/internal/domain/service"
	"FinSignal/internal/services/analytics"
	"FinSignal/internal/services/sequence"
)

// NewPredictorFactory builds predictors by model name. Every call returns a
// fresh untrained instance.
func NewPredictorFactory(specialist []analytics.Option, seq sequence.Config) PredictorFactory {
	return func(symbol, model string) (domsvc.Predictor, error) {
		switch model {
		case models.ModelEnsemble:
			return analytics.NewEnsemble(specialist...), nil
		case models.ModelSequence:
			return sequence.New(sequence.WithConfig(seq)), nil
		case models.ModelTrend:
			return analytics.NewTrendModel(specialist...), nil
		case models.ModelMeanReversion:
			return analytics.NewMeanReversionModel(specialist...), nil
		case models.ModelVolatilityRegime:
			return analytics.NewVolatilityRegimeModel(specialist...), nil
		case models.ModelPattern:
			return analytics.NewPatternModel(specialist...), nil
		default:
			return nil, fmt.Errorf("%w: %q for %s", ErrUnknownModel, model, symbol)
		}
	}
}
