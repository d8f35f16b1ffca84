package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"FinSignal/internal/domain/models"
	domrepo "FinSignal/internal/domain/repository"
	mid "FinSignal/internal/middleware"
	pkgkafka "FinSignal/pkg/kafka"
)

// KafkaBarsHandler consumes bar messages from Kafka and feeds them to the
// engine. Accepted bars are optionally appended to the bar store.
type KafkaBarsHandler struct {
	topic   string
	proc    mid.Proc
	metrics domrepo.Metrics
	writer  domrepo.BarWriter
	tf      domrepo.Timeframe
}

func NewKafkaBarsHandler(topic string, proc mid.Proc, metrics domrepo.Metrics) *KafkaBarsHandler {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &KafkaBarsHandler{topic: topic, proc: proc, metrics: metrics}
}

// SetBarWriter persists accepted bars under tf.
func (h *KafkaBarsHandler) SetBarWriter(w domrepo.BarWriter, tf domrepo.Timeframe) {
	h.writer = w
	h.tf = tf
}

func (h *KafkaBarsHandler) Topic() string { return h.topic }

// barMessage is the wire schema: {symbol, t, o, h, l, c, v}; t in seconds or milliseconds.
type barMessage struct {
	Symbol string  `json:"symbol"`
	T      int64   `json:"t"`
	O      float64 `json:"o"`
	H      float64 `json:"h"`
	L      float64 `json:"l"`
	C      float64 `json:"c"`
	V      float64 `json:"v"`
}

// DecodeBar parses one bar message.
func DecodeBar(b []byte) (*models.MarketBar, error) {
	var m barMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode bar: %w", err)
	}
	if m.T > 1e11 { // ms
		m.T = m.T / 1000
	}
	return &models.MarketBar{
		Symbol:    m.Symbol,
		Timestamp: time.Unix(m.T, 0).UTC(),
		Open:      m.O,
		High:      m.H,
		Low:       m.L,
		Close:     m.C,
		Volume:    m.V,
	}, nil
}

func (h *KafkaBarsHandler) Handle(ctx context.Context, b []byte) error {
	bar, err := DecodeBar(b)
	if err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return err
	}
	h.metrics.RecordLatency("ingest_e2e_seconds", time.Since(bar.Timestamp).Seconds())

	start := time.Now()
	err = h.proc.Process(ctx, bar)
	h.metrics.RecordLatency("engine_process_seconds", time.Since(start).Seconds())
	if errors.Is(err, mid.ErrOutOfOrder) {
		// redelivery after a rebalance; already processed
		h.metrics.RecordError("consumer_duplicate")
		return nil
	}
	if err != nil {
		h.metrics.RecordError("consumer_process")
		return err
	}
	if h.writer != nil {
		if werr := h.writer.StoreBars(ctx, h.tf, []models.MarketBar{*bar}); werr != nil {
			h.metrics.RecordError("consumer_store_bar")
		}
	}
	return nil
}

var _ pkgkafka.MessageHandler = (*KafkaBarsHandler)(nil)
