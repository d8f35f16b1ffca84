package sequence

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"

	"FinSignal/internal/domain/models"
	domsvc "FinSignal/internal/domain/service"
)

// Model is a recurrent classifier with a stochastic latent layer. Its
// probabilities are always discounted by the latent variance before use.
//
// Predict only reads trained parameters; Train builds a new network off-lock
// and swaps it in on success.
type Model struct {
	cfg   Config
	clock func() time.Time

	mu          sync.RWMutex
	net         *params
	names       []string
	mean, std   []float64
	ready       bool
	lastTrained time.Time
	predictions int64
	correct     int64
	samples     int
	buffer      []models.Observation
	trainRuns   uint64

	noiseMu sync.Mutex
	pcg     *rand.PCG
	noise   *rand.Rand
}

// New creates an untrained Model.
func New(opts ...Option) *Model {
	m := &Model{cfg: DefaultConfig(), clock: time.Now}
	for _, o := range opts {
		o(m)
	}
	m.pcg = rand.NewPCG(m.cfg.Seed, m.cfg.Seed^0xda3e39cb94b95bdb)
	m.noise = rand.New(m.pcg)
	return m
}

func (m *Model) Name() string { return models.ModelSequence }

// MinTrainingSize is the feature warm-up plus lookback plus ten bars: the
// shortest history that yields minWindows complete labelled windows.
func (m *Model) MinTrainingSize() int { return max(0, m.cfg.WarmupBars) + m.cfg.Lookback + minWindows }

// Config returns the hyper-parameters.
func (m *Model) Config() Config { return m.cfg }

type trainingSet struct {
	windows [][]*mat.VecDense
	labels  []int
}

// Train fits a fresh network on sliding windows of the feature series. The
// label of each window is the next bar's return direction. Cancellation or a
// failure leaves the previous state untouched.
func (m *Model) Train(ctx context.Context, history []models.MarketBar, series []models.FeatureVector) (bool, error) {
	if len(history) < m.MinTrainingSize() {
		return false, ErrNotEnoughSamples
	}
	if len(series) != len(history) {
		return false, fmt.Errorf("feature series length %d does not match history %d", len(series), len(history))
	}

	names, mean, std := normalization(series)
	if len(names) == 0 {
		return false, ErrNotEnoughSamples
	}
	set := m.windows(history, series, names, mean, std)
	if len(set.labels) < minWindows {
		return false, fmt.Errorf("%w: %d windows", ErrNotEnoughSamples, len(set.labels))
	}

	m.mu.Lock()
	m.trainRuns++
	run := m.trainRuns
	m.mu.Unlock()

	rng := rand.New(rand.NewPCG(m.cfg.Seed, run))
	net := newParams(len(names), m.cfg.HiddenSize, m.cfg.LatentDim, rng)
	if err := m.fit(ctx, net, set, rng); err != nil {
		return false, err
	}

	tail := make([]models.Observation, 0, m.cfg.Lookback)
	for i := max(0, len(series)-m.cfg.Lookback); i < len(series); i++ {
		if !series[i].Empty() {
			tail = append(tail, models.Observation{Bar: history[i], Features: series[i]})
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.net = net
	m.names, m.mean, m.std = names, mean, std
	m.ready = true
	m.lastTrained = m.clock()
	m.samples = len(set.labels)
	m.buffer = tail
	return true, nil
}

func (m *Model) fit(ctx context.Context, net *params, set trainingSet, rng *rand.Rand) error {
	grads := zeroParams(net.input, net.hidden, net.latent)
	opt := newAdam(net, m.cfg.LearningRate, m.cfg.L2)
	batch := max(1, m.cfg.BatchSize)
	idx := make([]int, len(set.labels))
	for i := range idx {
		idx[i] = i
	}
	eps := make([]float64, net.latent)

	for epoch := 0; epoch < max(1, m.cfg.Epochs); epoch++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		loss := 0.0
		for start := 0; start < len(idx); start += batch {
			end := min(start+batch, len(idx))
			grads.zero()
			for _, k := range idx[start:end] {
				for i := range eps {
					eps[i] = rng.NormFloat64()
				}
				var mask *mat.VecDense
				if m.cfg.Dropout > 0 {
					mask = dropoutMask(net.hidden, m.cfg.Dropout, rng)
				}
				ps := net.forward(set.windows[k], mask, eps)
				loss += net.backward(ps, set.labels[k], m.cfg.KLWeight, grads)
			}
			opt.step(net, grads, end-start)
		}
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			return ErrDiverged
		}
	}
	return nil
}

// normalization derives the feature order and z-score statistics from the non-empty vectors.
func normalization(series []models.FeatureVector) (names []string, mean, std []float64) {
	n := 0
	for _, fv := range series {
		if fv.Empty() {
			continue
		}
		if names == nil {
			names = append([]string(nil), fv.Names...)
			mean = make([]float64, len(names))
			std = make([]float64, len(names))
		}
		n++
		for i, k := range names {
			mean[i] += fv.Get(k)
		}
	}
	if n == 0 {
		return nil, nil, nil
	}
	for i := range mean {
		mean[i] /= float64(n)
	}
	for _, fv := range series {
		if fv.Empty() {
			continue
		}
		for i, k := range names {
			d := fv.Get(k) - mean[i]
			std[i] += d * d
		}
	}
	for i := range std {
		std[i] = math.Sqrt(std[i] / float64(n))
		if std[i] < 1e-12 {
			std[i] = 1
		}
	}
	return names, mean, std
}

func standardize(fv models.FeatureVector, names []string, mean, std []float64) *mat.VecDense {
	x := make([]float64, len(names))
	for i, k := range names {
		v := (fv.Get(k) - mean[i]) / std[i]
		if math.IsNaN(v) {
			v = 0
		}
		x[i] = math.Max(-5, math.Min(5, v))
	}
	return mat.NewVecDense(len(x), x)
}

func (m *Model) windows(history []models.MarketBar, series []models.FeatureVector, names []string, mean, std []float64) trainingSet {
	xs := make([]*mat.VecDense, len(series))
	for i, fv := range series {
		if !fv.Empty() {
			xs[i] = standardize(fv, names, mean, std)
		}
	}
	L := m.cfg.Lookback
	var set trainingSet
	run := 0
	for i := 0; i+1 < len(history); i++ {
		if xs[i] == nil {
			run = 0
			continue
		}
		run++
		if run < L {
			continue
		}
		set.windows = append(set.windows, xs[i-L+1:i+1])
		set.labels = append(set.labels, labelFor(history[i+1].ReturnFrom(history[i]), m.cfg.LabelBand))
	}
	if over := len(set.labels) - m.cfg.MaxSamples; m.cfg.MaxSamples > 0 && over > 0 {
		set.windows = set.windows[over:]
		set.labels = set.labels[over:]
	}
	return set
}

func labelFor(ret, band float64) int {
	switch models.DirectionFromReturn(ret, band) {
	case models.DirectionUp:
		return classUp
	case models.DirectionDown:
		return classDown
	default:
		return classSide
	}
}

// Neutral is the prediction served before the model is trained.
func Neutral(bar models.MarketBar) models.Prediction {
	third := 1.0 / 3
	return models.NewPrediction(bar.Symbol, bar.Timestamp, models.ModelSequence, models.DirectionSideways, 0.1, models.RegimeNone,
		map[string]float64{
			models.MetricProbUp:       third,
			models.MetricProbDown:     third,
			models.MetricProbSideways: third,
			models.MetricUncertainty:  1.0,
			models.MetricKLDivergence: 0,
			models.MetricEntropy:      math.Log(3),
			models.MetricPriceTarget:  bar.Close,
		}, nil)
}

// Predict returns the direction distribution for bar. The window is the
// buffered vectors older than fv followed by fv itself. An untrained model
// returns the neutral prediction.
func (m *Model) Predict(bar models.MarketBar, fv models.FeatureVector) *models.Prediction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.ready || fv.Empty() {
		p := Neutral(bar)
		return &p
	}

	window := m.window(fv)
	xs := make([]*mat.VecDense, len(window))
	for i, v := range window {
		xs[i] = standardize(v, m.names, m.mean, m.std)
	}
	ps := m.net.forward(xs, nil, m.drawNoise(m.net.latent))

	probs := ps.probs
	best := classUp
	for c := range probs {
		if probs[c] > probs[best] {
			best = c
		}
	}
	dir := [...]models.Direction{models.DirectionUp, models.DirectionDown, models.DirectionSideways}[best]
	unc := uncertainty(ps.lv)
	conf := probs[best] * (1 - math.Min(unc, 0.5))

	metrics := map[string]float64{
		models.MetricProbUp:       probs[classUp],
		models.MetricProbDown:     probs[classDown],
		models.MetricProbSideways: probs[classSide],
		models.MetricUncertainty:  unc,
		models.MetricKLDivergence: klDivergence(ps.mu, ps.lv),
		models.MetricEntropy:      entropy(probs),
		models.MetricPriceTarget:  bar.Close * (1 + (probs[classUp]-probs[classDown])*m.cfg.MaxExpectedMove),
	}
	p := models.NewPrediction(bar.Symbol, bar.Timestamp, models.ModelSequence, dir, conf, models.RegimeNone, metrics, m.importance())
	return &p
}

// window assembles lookback vectors ending with fv, padding with the oldest available one.
func (m *Model) window(fv models.FeatureVector) []models.FeatureVector {
	L := m.cfg.Lookback
	prior := make([]models.FeatureVector, 0, L)
	for i := len(m.buffer) - 1; i >= 0 && len(prior) < L-1; i-- {
		if b := m.buffer[i].Features; b.Timestamp.Before(fv.Timestamp) {
			prior = append(prior, b)
		}
	}
	out := make([]models.FeatureVector, 0, L)
	for len(out)+len(prior) < L-1 {
		if len(prior) > 0 {
			out = append(out, prior[len(prior)-1])
		} else {
			out = append(out, fv)
		}
	}
	for i := len(prior) - 1; i >= 0; i-- {
		out = append(out, prior[i])
	}
	return append(out, fv)
}

// importance uses the input-weight magnitude per feature as a proxy.
func (m *Model) importance() map[string]float64 {
	imp := make(map[string]float64, len(m.names))
	rows, _ := m.net.Wx.Dims()
	for j, k := range m.names {
		s := 0.0
		for i := 0; i < rows; i++ {
			s += math.Abs(m.net.Wx.At(i, j))
		}
		imp[k] = s / float64(rows)
	}
	return imp
}

func (m *Model) drawNoise(n int) []float64 {
	m.noiseMu.Lock()
	defer m.noiseMu.Unlock()
	eps := make([]float64, n)
	for i := range eps {
		eps[i] = m.noise.NormFloat64()
	}
	return eps
}

// Reseed replaces the prediction noise source.
func (m *Model) Reseed(seed uint64) {
	m.noiseMu.Lock()
	defer m.noiseMu.Unlock()
	m.pcg.Seed(seed, seed^0xda3e39cb94b95bdb)
}

// Update buffers the observation for the next retrain and as prediction
// context. Live weights are not changed.
func (m *Model) Update(bar models.MarketBar, fv models.FeatureVector) {
	if fv.Empty() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buffer = models.AppendObservation(m.buffer, models.Observation{Bar: bar, Features: fv}, m.cfg.UpdateBuffer)
}

// Observations returns a copy of the buffered observations, oldest first.
func (m *Model) Observations() []models.Observation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Observation(nil), m.buffer...)
}

// SetObservations merges obs into the buffer, keeping the newest UpdateBuffer entries.
func (m *Model) SetObservations(obs []models.Observation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buffer = models.MergeObservations(m.buffer, obs, m.cfg.UpdateBuffer)
}

// BufferLen returns the number of buffered update vectors.
func (m *Model) BufferLen() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.buffer)
}

func (m *Model) IsReady() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ready
}

func (m *Model) RecordOutcome(correct bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.predictions++
	if correct {
		m.correct++
	}
}

func (m *Model) State() models.ModelState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return models.ModelState{
		Model:              models.ModelSequence,
		Ready:              m.ready,
		LastTrained:        m.lastTrained,
		Predictions:        m.predictions,
		CorrectPredictions: m.correct,
		TrainingSamples:    m.samples,
	}
}

var (
	_ domsvc.Predictor         = (*Model)(nil)
	_ domsvc.ObservationBuffer = (*Model)(nil)
)
