package sequence

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"time"

	"FinSignal/internal/domain/models"
	"FinSignal/internal/services/modelio"
)

type modelBlob struct {
	Config      Config
	Names       []string
	Mean, Std   []float64
	Input       int
	Params      [][]float64
	LastTrained time.Time
	Predictions int64
	Correct     int64
	Samples     int
	Context     []models.Observation
	Noise       []byte
	TrainRuns   uint64
}

// MarshalBinary encodes the trained network, normalization, counters,
// prediction context and noise state.
func (m *Model) MarshalBinary() ([]byte, error) {
	m.mu.RLock()
	if !m.ready {
		m.mu.RUnlock()
		return nil, errors.New("sequence model is not trained")
	}
	blob := modelBlob{
		Config:      m.cfg,
		Names:       m.names,
		Mean:        m.mean,
		Std:         m.std,
		Input:       m.net.input,
		LastTrained: m.lastTrained,
		Predictions: m.predictions,
		Correct:     m.correct,
		Samples:     m.samples,
		Context:     m.buffer[max(0, len(m.buffer)-m.cfg.Lookback):],
		TrainRuns:   m.trainRuns,
	}
	for _, p := range m.net.list() {
		blob.Params = append(blob.Params, append([]float64(nil), p.RawMatrix().Data...))
	}
	m.mu.RUnlock()

	m.noiseMu.Lock()
	noise, err := m.pcg.MarshalBinary()
	m.noiseMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("encode noise state: %w", err)
	}
	blob.Noise = noise

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(blob); err != nil {
		return nil, fmt.Errorf("encode sequence model: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary restores a trained model; it is ready immediately.
func (m *Model) UnmarshalBinary(data []byte) error {
	var blob modelBlob
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&blob); err != nil {
		return fmt.Errorf("decode sequence model: %w", err)
	}
	cfg := blob.Config
	net := zeroParams(blob.Input, cfg.HiddenSize, cfg.LatentDim)
	dst := net.list()
	if len(blob.Params) != len(dst) {
		return fmt.Errorf("sequence blob has %d parameter blocks, want %d", len(blob.Params), len(dst))
	}
	for i, d := range dst {
		raw := d.RawMatrix().Data
		if len(blob.Params[i]) != len(raw) {
			return fmt.Errorf("sequence blob parameter %d has %d values, want %d", i, len(blob.Params[i]), len(raw))
		}
		copy(raw, blob.Params[i])
	}
	if len(blob.Names) != blob.Input || len(blob.Mean) != blob.Input || len(blob.Std) != blob.Input {
		return errors.New("sequence blob normalization does not match input size")
	}

	m.mu.Lock()
	m.cfg = cfg
	m.net = net
	m.names, m.mean, m.std = blob.Names, blob.Mean, blob.Std
	m.ready = true
	m.lastTrained = blob.LastTrained
	m.predictions, m.correct = blob.Predictions, blob.Correct
	m.samples = blob.Samples
	m.buffer = blob.Context
	m.trainRuns = blob.TrainRuns
	m.mu.Unlock()

	if len(blob.Noise) > 0 {
		m.noiseMu.Lock()
		defer m.noiseMu.Unlock()
		if err := m.pcg.UnmarshalBinary(blob.Noise); err != nil {
			return fmt.Errorf("decode noise state: %w", err)
		}
	}
	return nil
}

// Save writes the model to path.
func (m *Model) Save(path string) error { return modelio.Save(path, m) }

// Load restores the model from path.
func (m *Model) Load(path string) error { return modelio.Load(path, m) }
