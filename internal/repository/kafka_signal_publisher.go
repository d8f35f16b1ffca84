package repository

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"FinSignal/internal/domain/models"
	domrepo "FinSignal/internal/domain/repository"
	applogger "FinSignal/pkg/logger"
)

var (
	// ErrPublisherOpen is returned while the breaker rejects publishes.
	ErrPublisherOpen = errors.New("signal publisher circuit open")
	// ErrPublisherClosed is returned after Close.
	ErrPublisherClosed = errors.New("signal publisher closed")
)

// messageProducer is the subset of pkg/kafka.Producer the publisher uses.
// The producer's owner closes it.
type messageProducer interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
}

// BreakerConfig tunes the publish circuit breaker.
type BreakerConfig struct {
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
	HalfOpenRequests    uint32
}

// KafkaSignalPublisher publishes signals keyed by symbol behind a circuit
// breaker, so a dead broker fails fast instead of stalling ingestion.
type KafkaSignalPublisher struct {
	producer messageProducer
	topic    string
	cb       *gobreaker.CircuitBreaker
	l        *applogger.Logger
	closed   atomic.Bool
}

// NewKafkaSignalPublisher creates the publisher.
func NewKafkaSignalPublisher(producer messageProducer, topic string, bc BreakerConfig, l *applogger.Logger) *KafkaSignalPublisher {
	if l == nil {
		l = applogger.NewNop()
	}
	if bc.ConsecutiveFailures == 0 {
		bc.ConsecutiveFailures = 5
	}
	if bc.OpenTimeout <= 0 {
		bc.OpenTimeout = 30 * time.Second
	}
	if bc.HalfOpenRequests == 0 {
		bc.HalfOpenRequests = 1
	}
	st := gobreaker.Settings{
		Name:        "kafka:" + topic,
		MaxRequests: bc.HalfOpenRequests,
		Timeout:     bc.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= bc.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			l.Warn("signal publisher breaker state change",
				applogger.String("breaker", name),
				applogger.String("from", from.String()),
				applogger.String("to", to.String()))
		},
	}
	return &KafkaSignalPublisher{
		producer: producer,
		topic:    topic,
		cb:       gobreaker.NewCircuitBreaker(st),
		l:        l,
	}
}

var _ domrepo.SignalPublisher = (*KafkaSignalPublisher)(nil)

func (p *KafkaSignalPublisher) Publish(ctx context.Context, s *models.TradingSignal) error {
	if s == nil {
		return nil
	}
	if p.closed.Load() {
		return ErrPublisherClosed
	}
	_, err := p.cb.Execute(func() (interface{}, error) {
		return nil, p.producer.Publish(ctx, p.topic, []byte(s.Symbol), s)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s", ErrPublisherOpen, s.Symbol)
	}
	if err != nil {
		return fmt.Errorf("publish signal %s: %w", s.ID, err)
	}
	return nil
}

// State reports the breaker state.
func (p *KafkaSignalPublisher) State() string { return p.cb.State().String() }

// Close stops further publishes. It leaves the producer open.
func (p *KafkaSignalPublisher) Close() error {
	p.closed.Store(true)
	return nil
}
