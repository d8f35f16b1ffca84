package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"FinSignal/pkg/logger"
	"FinSignal/pkg/queue"
)

// TrainJobType is the queue message type for retraining requests.
const TrainJobType = "train"

// TrainRequest asks for a retrain of one symbol from the bar store.
type TrainRequest struct {
	Symbol string `json:"symbol"`
	Model  string `json:"model"`
	Bars   int    `json:"bars"`
}

// TrainJob runs queued retraining requests against the engine and waits for
// them, so the queue retries failures.
type TrainJob struct {
	engine *SignalEngine
	log    *logger.Logger
}

// NewTrainJob creates the job.
func NewTrainJob(engine *SignalEngine, log *logger.Logger) *TrainJob {
	if log == nil {
		log = logger.NewNop()
	}
	return &TrainJob{engine: engine, log: log}
}

var _ queue.Job = (*TrainJob)(nil)

func (j *TrainJob) Type() string { return TrainJobType }

func (j *TrainJob) Handle(ctx context.Context, payload json.RawMessage) error {
	req, err := queue.Decode[TrainRequest](payload)
	if err != nil {
		return err
	}
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	if req.Symbol == "" {
		return fmt.Errorf("%w: symbol required", ErrInvalidQuery)
	}
	results, err := j.engine.TrainSymbol(ctx, req.Symbol, req.Model, req.Bars)
	// another replica is already training this pair; nothing to retry
	if errors.Is(err, ErrTrainingInProgress) && len(results) == 0 {
		return nil
	}
	errs := []error{err}
	for model, rerr := range results {
		if rerr != nil {
			errs = append(errs, fmt.Errorf("%s: %w", model, rerr))
			continue
		}
		j.log.Info("queued training done", logger.Symbol(req.Symbol), logger.Model(model))
	}
	return errors.Join(errs...)
}

// EnqueueTraining publishes a retrain request for each symbol.
func EnqueueTraining(ctx context.Context, pub queue.Publisher, symbols []string, model string, bars int) error {
	var errs []error
	for _, s := range symbols {
		if err := pub.Enqueue(ctx, TrainJobType, TrainRequest{Symbol: s, Model: model, Bars: bars}); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s, err))
		}
	}
	return errors.Join(errs...)
}
