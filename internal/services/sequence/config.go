package sequence

import (
	"errors"
	"time"
)

var (
	// ErrNotEnoughSamples means the history yields too few complete training windows.
	ErrNotEnoughSamples = errors.New("not enough samples to train sequence model")
	// ErrDiverged means training produced a non-finite loss; the previous state is kept.
	ErrDiverged = errors.New("sequence model training diverged")
)

// Config holds the sequence model hyper-parameters.
type Config struct {
	// WarmupBars is how many leading bars of a series carry no features
	// (the extractor's min history minus one).
	WarmupBars      int
	Lookback        int
	HiddenSize      int
	LatentDim       int
	Dropout         float64
	L2              float64
	KLWeight        float64
	LearningRate    float64
	Epochs          int
	BatchSize       int
	MaxSamples      int
	UpdateBuffer    int
	MaxExpectedMove float64
	LabelBand       float64
	Seed            uint64
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		WarmupBars:      19,
		Lookback:        20,
		HiddenSize:      32,
		LatentDim:       8,
		Dropout:         0.2,
		L2:              1e-4,
		KLWeight:        0.01,
		LearningRate:    0.01,
		Epochs:          30,
		BatchSize:       32,
		MaxSamples:      1000,
		UpdateBuffer:    1000,
		MaxExpectedMove: 0.02,
		LabelBand:       0.001,
		Seed:            42,
	}
}

// minWindows is the number of complete windows training needs beyond the lookback.
const minWindows = 10

// Option configures a Model.
type Option func(*Model)

// WithConfig replaces the hyper-parameters.
func WithConfig(cfg Config) Option { return func(m *Model) { m.cfg = cfg } }

// WithSeed sets the seed for weight init, dropout and the prediction noise source.
func WithSeed(seed uint64) Option { return func(m *Model) { m.cfg.Seed = seed } }

// WithClock injects the time source used for training timestamps.
func WithClock(now func() time.Time) Option { return func(m *Model) { m.clock = now } }
