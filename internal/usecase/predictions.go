package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"FinSignal/internal/domain/models"
	domsvc "FinSignal/internal/domain/service"
)

// memberSource is implemented by predictors composed of sub-models.
type memberSource interface {
	Members() []domsvc.Predictor
}

// PredictionsUseCase gathers every model's prediction for a symbol concurrently.
type PredictionsUseCase struct {
	engine  *SignalEngine
	timeout time.Duration
}

func NewPredictionsUseCase(engine *SignalEngine) *PredictionsUseCase {
	return &PredictionsUseCase{engine: engine, timeout: 5 * time.Second}
}

// GetPredictions returns the ensemble, sequence and specialist predictions at
// the latest bar. Per-model failures land in Errors instead of failing the call.
func (uc *PredictionsUseCase) GetPredictions(ctx context.Context, symbol string) (*models.PredictionSet, error) {
	if symbol == "" {
		return nil, fmt.Errorf("symbol required")
	}
	bar, fv, err := uc.engine.latest(symbol)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, uc.timeout)
	defer cancel()

	res := &models.PredictionSet{
		Symbol:      symbol,
		Timestamp:   bar.Timestamp,
		Price:       bar.Close,
		Predictions: map[string]*models.Prediction{},
		Errors:      map[string]string{},
	}
	if fv.Empty() {
		res.Errors["features"] = "insufficient history"
		return res, nil
	}

	type item struct {
		name string
		val  *models.Prediction
		err  error
	}
	var targets []domsvc.Predictor
	for _, model := range uc.engine.lifecycle.Models() {
		p, err := uc.engine.lifecycle.Predictor(symbol, model)
		if err != nil {
			res.Errors[model] = err.Error()
			continue
		}
		targets = append(targets, p)
		if ms, ok := p.(memberSource); ok {
			targets = append(targets, ms.Members()...)
		}
	}

	ch := make(chan item, len(targets))
	var wg sync.WaitGroup
	for _, p := range targets {
		wg.Add(1)
		go func(p domsvc.Predictor) {
			defer wg.Done()
			if !p.IsReady() {
				ch <- item{p.Name(), nil, fmt.Errorf("not ready")}
				return
			}
			pred := p.Predict(bar, fv)
			if pred == nil {
				ch <- item{p.Name(), nil, fmt.Errorf("no prediction")}
				return
			}
			ch <- item{p.Name(), pred, nil}
		}(p)
	}
	go func() { wg.Wait(); close(ch) }()

	for {
		select {
		case <-ctx.Done():
			res.Errors["timeout"] = ctx.Err().Error()
			return res, nil
		case it, ok := <-ch:
			if !ok {
				if len(res.Errors) == 0 {
					res.Errors = nil
				}
				return res, nil
			}
			if it.err != nil {
				res.Errors[it.name] = it.err.Error()
				continue
			}
			res.Predictions[it.name] = it.val
		}
	}
}
