package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"FinSignal/internal/domain/models"
)

func TestRecorder(t *testing.T) {
	r := NewWithRegistry(prometheus.NewRegistry())

	r.RecordBarIngested("AAPL")
	r.RecordBarIngested("AAPL")
	r.RecordSignal("ensemble", models.SideBuy)
	r.RecordSignalSkipped("low_confidence")
	r.RecordTraining("sequence", false, 1.5)
	r.RecordError("stream")

	assert.Equal(t, 2.0, testutil.ToFloat64(r.barsIngested.WithLabelValues("AAPL")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.signals.WithLabelValues("ensemble", "BUY")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.skipped.WithLabelValues("low_confidence")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.trainings.WithLabelValues("sequence", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.errorsTotal.WithLabelValues("stream")))
}

func TestRecordModelStateIsOneHot(t *testing.T) {
	r := NewWithRegistry(prometheus.NewRegistry())

	r.RecordModelState("AAPL", "ensemble", models.StateTraining)
	r.RecordModelState("AAPL", "ensemble", models.StateReady)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.modelState.WithLabelValues("AAPL", "ensemble", "ready")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.modelState.WithLabelValues("AAPL", "ensemble", "training")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.modelState.WithLabelValues("AAPL", "ensemble", "degraded")))
}
