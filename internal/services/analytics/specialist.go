package analytics

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"sync"
	"time"

	"FinSignal/internal/domain/models"
	domsvc "FinSignal/internal/domain/service"
	"FinSignal/internal/services/modelio"
)

const (
	// DefaultMinTraining is the history length every specialist needs before it can be trained.
	DefaultMinTraining = 50
	// DefaultUpdateBuffer caps the online update buffer.
	DefaultUpdateBuffer = 1000
)

// evaluation is the raw output of a specialist rule.
type evaluation struct {
	direction  models.Direction
	confidence float64
	regime     models.Regime
	metrics    map[string]float64
	importance map[string]float64
}

type ruleFunc func(fv models.FeatureVector) evaluation

// Options tune a specialist.
type Options struct {
	MinTraining  int
	UpdateBuffer int
	Clock        func() time.Time
}

// Option configures a specialist.
type Option func(*Options)

// WithMinTraining overrides the minimum history length.
func WithMinTraining(n int) Option { return func(o *Options) { o.MinTraining = n } }

// WithUpdateBuffer overrides the online update buffer capacity.
func WithUpdateBuffer(n int) Option { return func(o *Options) { o.UpdateBuffer = n } }

// WithClock injects the time source used for training timestamps.
func WithClock(now func() time.Time) Option { return func(o *Options) { o.Clock = now } }

// specialistBlob is the persisted form of a specialist.
type specialistBlob struct {
	Name        string
	Ready       bool
	LastTrained time.Time
	Predictions int64
	Correct     int64
	Samples     int
}

// specialist is the shared machinery behind every rule-based model:
// readiness bookkeeping, the observation buffer and persistence. Rules are
// stateless so Predict only needs the read lock. Retraining replays the rule
// over the history extended with the buffered observations.
type specialist struct {
	name string
	rule ruleFunc
	opts Options

	mu          sync.RWMutex
	ready       bool
	lastTrained time.Time
	predictions int64
	correct     int64
	samples     int
	buffer      []models.Observation
}

func newSpecialist(name string, rule ruleFunc, opts ...Option) *specialist {
	o := Options{MinTraining: DefaultMinTraining, UpdateBuffer: DefaultUpdateBuffer, Clock: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	return &specialist{name: name, rule: rule, opts: o}
}

func (s *specialist) Name() string { return s.name }

func (s *specialist) MinTrainingSize() int { return s.opts.MinTraining }

// Train replays the rule over the history and counts the samples it could
// score. The rule itself has no fitted parameters; training gates readiness.
func (s *specialist) Train(ctx context.Context, history []models.MarketBar, series []models.FeatureVector) (bool, error) {
	if len(history) < s.opts.MinTraining {
		return false, nil
	}
	if len(series) != len(history) {
		return false, fmt.Errorf("%s: feature series length %d does not match history %d", s.name, len(series), len(history))
	}
	total := 0
	for i := 0; i+1 < len(history); i++ {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return false, err
			}
		}
		if series[i].Empty() {
			continue
		}
		ev := s.rule(series[i])
		if ev.direction == "" {
			continue
		}
		total++
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = true
	s.lastTrained = s.opts.Clock()
	s.samples = total
	return true, nil
}

// Predict evaluates the rule; nil when not ready or the vector is empty.
func (s *specialist) Predict(bar models.MarketBar, fv models.FeatureVector) *models.Prediction {
	s.mu.RLock()
	ready := s.ready
	s.mu.RUnlock()
	if !ready || fv.Empty() {
		return nil
	}
	ev := s.rule(fv)
	dir := ev.direction
	if dir == "" {
		dir = models.DirectionSideways
	}
	p := models.NewPrediction(bar.Symbol, bar.Timestamp, s.name, dir, ev.confidence, ev.regime, ev.metrics, ev.importance)
	return &p
}

// Update buffers the observation for the next full retrain; live rules are unchanged.
func (s *specialist) Update(bar models.MarketBar, fv models.FeatureVector) {
	if fv.Empty() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer = models.AppendObservation(s.buffer, models.Observation{Bar: bar, Features: fv}, s.opts.UpdateBuffer)
}

// Observations returns a copy of the buffered observations, oldest first.
func (s *specialist) Observations() []models.Observation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Observation(nil), s.buffer...)
}

// SetObservations replaces the buffer, keeping the newest UpdateBuffer entries.
func (s *specialist) SetObservations(obs []models.Observation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer = models.MergeObservations(nil, obs, s.opts.UpdateBuffer)
}

// BufferLen returns the number of buffered update observations.
func (s *specialist) BufferLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buffer)
}

func (s *specialist) IsReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

func (s *specialist) RecordOutcome(correct bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.predictions++
	if correct {
		s.correct++
	}
}

func (s *specialist) State() models.ModelState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.ModelState{
		Model:              s.name,
		Ready:              s.ready,
		LastTrained:        s.lastTrained,
		Predictions:        s.predictions,
		CorrectPredictions: s.correct,
		TrainingSamples:    s.samples,
	}
}

func (s *specialist) MarshalBinary() ([]byte, error) {
	s.mu.RLock()
	blob := specialistBlob{
		Name:        s.name,
		Ready:       s.ready,
		LastTrained: s.lastTrained,
		Predictions: s.predictions,
		Correct:     s.correct,
		Samples:     s.samples,
	}
	s.mu.RUnlock()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(blob); err != nil {
		return nil, fmt.Errorf("encode %s: %w", s.name, err)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary restores a persisted specialist. A loaded model is ready without a data check.
func (s *specialist) UnmarshalBinary(data []byte) error {
	var blob specialistBlob
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&blob); err != nil {
		return fmt.Errorf("decode %s: %w", s.name, err)
	}
	if blob.Name != s.name {
		return fmt.Errorf("blob is for model %q, not %q", blob.Name, s.name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = true
	s.lastTrained = blob.LastTrained
	s.predictions = blob.Predictions
	s.correct = blob.Correct
	s.samples = blob.Samples
	return nil
}

// Save writes the specialist to path.
func (s *specialist) Save(path string) error { return modelio.Save(path, s) }

// Load restores the specialist from path.
func (s *specialist) Load(path string) error { return modelio.Load(path, s) }

var (
	_ domsvc.Predictor         = (*specialist)(nil)
	_ domsvc.ObservationBuffer = (*specialist)(nil)
)
