package repository

import (
	"context"
	"errors"
	"time"

	"FinSignal/internal/domain/models"
)

// ErrModelNotFound is returned by a ModelStore when no blob exists for the key.
var ErrModelNotFound = errors.New("model blob not found")

// BarStream is an upstream source of bars in non-decreasing timestamp order per symbol.
type BarStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.MarketBar, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// SignalPublisher hands trading signals to the downstream execution service.
type SignalPublisher interface {
	Publish(ctx context.Context, s *models.TradingSignal) error
	Close() error
}

// SignalStore keeps an audit trail of emitted signals.
type SignalStore interface {
	StoreSignal(ctx context.Context, s *models.TradingSignal) error
	RecentSignals(ctx context.Context, symbol string, since time.Time, limit int) ([]models.TradingSignal, error)
	Health(ctx context.Context) error
}

// ModelStore persists opaque model blobs keyed by symbol and model name.
type ModelStore interface {
	SaveBlob(ctx context.Context, symbol, model string, blob []byte) error
	LoadBlob(ctx context.Context, symbol, model string) ([]byte, error)
}

// Metrics records engine-level observations.
type Metrics interface {
	RecordBarIngested(symbol string)
	RecordPrediction(model string, dir models.Direction, seconds float64)
	RecordSignal(strategy string, side models.TradeSide)
	RecordSignalSkipped(reason string)
	RecordTraining(model string, ok bool, seconds float64)
	RecordModelState(symbol, model string, state models.LifecycleState)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
