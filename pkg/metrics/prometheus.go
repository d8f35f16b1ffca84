package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"FinSignal/internal/domain/models"
	domrepo "FinSignal/internal/domain/repository"
)

var lifecycleStates = []models.LifecycleState{
	models.StateUntrained, models.StateTraining, models.StateReady, models.StateDegraded,
}

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	barsIngested   *prometheus.CounterVec
	predictions    *prometheus.CounterVec
	predictLatency *prometheus.HistogramVec
	signals        *prometheus.CounterVec
	skipped        *prometheus.CounterVec
	trainings      *prometheus.CounterVec
	trainDuration  *prometheus.HistogramVec
	modelState     *prometheus.GaugeVec
	errorsTotal    *prometheus.CounterVec
	latency        *prometheus.HistogramVec
}

var _ domrepo.Metrics = (*Recorder)(nil)

// New creates a recorder on the default registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a recorder registering on reg.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		barsIngested: f.NewCounterVec(prometheus.CounterOpts{
			Name: "finsignal_bars_ingested_total",
			Help: "Bars accepted by the engine",
		}, []string{"symbol"}),
		predictions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "finsignal_predictions_total",
			Help: "Predictions by model and direction",
		}, []string{"model", "direction"}),
		predictLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "finsignal_prediction_duration_seconds",
			Help:    "Prediction latency per model",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
		}, []string{"model"}),
		signals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "finsignal_signals_total",
			Help: "Trading signals emitted",
		}, []string{"strategy", "side"}),
		skipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "finsignal_signals_skipped_total",
			Help: "Cycles that produced no signal, by reason",
		}, []string{"reason"}),
		trainings: f.NewCounterVec(prometheus.CounterOpts{
			Name: "finsignal_trainings_total",
			Help: "Training runs by model and result",
		}, []string{"model", "result"}),
		trainDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "finsignal_training_duration_seconds",
			Help:    "Training duration per model",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"model"}),
		modelState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "finsignal_model_state",
			Help: "1 for the current lifecycle state of each symbol/model",
		}, []string{"symbol", "model", "state"}),
		errorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "finsignal_errors_total",
			Help: "Total number of errors encountered",
		}, []string{"type"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "finsignal_operation_duration_seconds",
			Help:    "Duration of operations in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}
}

func (r *Recorder) RecordBarIngested(symbol string) {
	r.barsIngested.WithLabelValues(symbol).Inc()
}

func (r *Recorder) RecordPrediction(model string, dir models.Direction, seconds float64) {
	r.predictions.WithLabelValues(model, string(dir)).Inc()
	r.predictLatency.WithLabelValues(model).Observe(seconds)
}

func (r *Recorder) RecordSignal(strategy string, side models.TradeSide) {
	r.signals.WithLabelValues(strategy, string(side)).Inc()
}

func (r *Recorder) RecordSignalSkipped(reason string) {
	r.skipped.WithLabelValues(reason).Inc()
}

func (r *Recorder) RecordTraining(model string, ok bool, seconds float64) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	r.trainings.WithLabelValues(model, result).Inc()
	r.trainDuration.WithLabelValues(model).Observe(seconds)
}

// RecordModelState sets the gauge of state to 1 and the other states to 0.
func (r *Recorder) RecordModelState(symbol, model string, state models.LifecycleState) {
	for _, s := range lifecycleStates {
		v := 0.0
		if s == state {
			v = 1
		}
		r.modelState.WithLabelValues(symbol, model, string(s)).Set(v)
	}
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
