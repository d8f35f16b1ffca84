package usecase

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinSignal/internal/domain/models"
)

type recPublisher struct {
	msgs []TrainRequest
	err  error
}

func (p *recPublisher) Enqueue(_ context.Context, msgType string, payload interface{}) error {
	if p.err != nil {
		return p.err
	}
	if msgType == TrainJobType {
		p.msgs = append(p.msgs, payload.(TrainRequest))
	}
	return nil
}

func TestTrainJob_Handle(t *testing.T) {
	fx := newEngineFixture(t)
	job := NewTrainJob(fx.engine, nil)
	assert.Equal(t, TrainJobType, job.Type())

	before := fx.factory.trained
	err := job.Handle(context.Background(), json.RawMessage(`{"symbol":" aapl ","model":"ensemble","bars":30}`))
	require.NoError(t, err)
	assert.Equal(t, before+1, fx.factory.trained)
	assert.Equal(t, models.StateReady, fx.engine.Lifecycle().State(sym, models.ModelEnsemble))
}

func TestTrainJob_HandleErrors(t *testing.T) {
	fx := newEngineFixture(t)
	job := NewTrainJob(fx.engine, nil)

	assert.Error(t, job.Handle(context.Background(), json.RawMessage(`{`)))
	assert.ErrorIs(t, job.Handle(context.Background(), json.RawMessage(`{"symbol":""}`)), ErrInvalidQuery)

	fx.factory.set(func(f *fakeFactory) { f.trainErr = errBoom })
	err := job.Handle(context.Background(), json.RawMessage(`{"symbol":"AAPL","model":"ensemble"}`))
	assert.ErrorIs(t, err, errBoom)
}

func TestTrainJob_SkipsPairAlreadyTraining(t *testing.T) {
	fx := newEngineFixture(t)
	block := make(chan struct{})
	fx.factory.set(func(f *fakeFactory) { f.block = block })

	h, err := fx.engine.Lifecycle().TrainAsync(sym, models.ModelEnsemble, fx.bars)
	require.NoError(t, err)

	job := NewTrainJob(fx.engine, nil)
	assert.NoError(t, job.Handle(context.Background(), json.RawMessage(`{"symbol":"AAPL","model":"ensemble"}`)))

	close(block)
	ok, err := h.Result()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEnqueueTraining(t *testing.T) {
	pub := &recPublisher{}
	require.NoError(t, EnqueueTraining(context.Background(), pub, []string{"AAPL", "MSFT"}, models.ModelAll, 500))
	assert.Equal(t, []TrainRequest{
		{Symbol: "AAPL", Model: models.ModelAll, Bars: 500},
		{Symbol: "MSFT", Model: models.ModelAll, Bars: 500},
	}, pub.msgs)

	pub.err = errBoom
	err := EnqueueTraining(context.Background(), pub, []string{"AAPL"}, models.ModelAll, 0)
	assert.ErrorIs(t, err, errBoom)
}
