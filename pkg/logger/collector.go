package logger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Publisher ships a batch of entries to a topic.
type Publisher interface {
	PublishMessage(ctx context.Context, topic string, payload interface{}) error
}

// CollectionConfig controls how error (and optionally warning) logs are
// deduplicated and shipped to the log topic.
type CollectionConfig struct {
	TimeInterval    time.Duration // flush interval
	CountThreshold  int           // distinct entries that force a flush
	Topic           string
	Publisher       Publisher
	IncludeWarnings bool
	PublishTimeout  time.Duration
	OnPublishError  func(err error)
}

// AggregatedLogEntry is one deduplicated line. Symbol and Model are lifted
// out of the fields so consumers can group by instrument; Fields holds the
// latest occurrence.
type AggregatedLogEntry struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Symbol    string                 `json:"symbol,omitempty"`
	Model     string                 `json:"model,omitempty"`
	Caller    string                 `json:"caller"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Count     int                    `json:"count"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`
}

// entryKey identifies repeats: the same message from the same call site for
// the same symbol and model. Other field values, such as the error text or a
// latency, do not split an entry.
type entryKey struct {
	level, message, caller, symbol, model string
}

// LogCollector batches entries and publishes them on a timer, when
// CountThreshold distinct entries are pending, and on Close.
type LogCollector struct {
	config *CollectionConfig

	mutex   sync.RWMutex
	entries map[entryKey]*AggregatedLogEntry

	cancel   context.CancelFunc
	loop     sync.WaitGroup
	inflight sync.WaitGroup
}

func NewLogCollector(config *CollectionConfig) *LogCollector {
	if config.TimeInterval <= 0 {
		config.TimeInterval = 30 * time.Second
	}
	if config.CountThreshold <= 0 {
		config.CountThreshold = 100
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &LogCollector{
		config:  config,
		entries: make(map[entryKey]*AggregatedLogEntry),
		cancel:  cancel,
	}
	c.loop.Add(1)
	go c.run(ctx)
	return c
}

func (d *LogCollector) AddLog(level, message string, fields map[string]interface{}, caller string) {
	now := time.Now()
	key := entryKey{
		level:   level,
		message: message,
		caller:  caller,
		symbol:  stringField(fields, SymbolKey),
		model:   stringField(fields, ModelKey),
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()
	if e, ok := d.entries[key]; ok {
		e.Count++
		e.LastSeen = now
		e.Fields = fields
		return
	}
	d.entries[key] = &AggregatedLogEntry{
		Level:     level,
		Message:   message,
		Symbol:    key.symbol,
		Model:     key.model,
		Caller:    caller,
		Fields:    fields,
		Count:     1,
		FirstSeen: now,
		LastSeen:  now,
	}
	if len(d.entries) >= d.config.CountThreshold {
		d.flushLocked()
	}
}

func stringField(fields map[string]interface{}, key string) string {
	s, _ := fields[key].(string)
	return s
}

func (d *LogCollector) run(ctx context.Context) {
	defer d.loop.Done()
	ticker := time.NewTicker(d.config.TimeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.flush()
		case <-ctx.Done():
			d.flush()
			return
		}
	}
}

func (d *LogCollector) flush() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.flushLocked()
}

// flushLocked hands the pending entries, oldest first, to a publishing
// goroutine. Callers hold the mutex.
func (d *LogCollector) flushLocked() {
	if len(d.entries) == 0 {
		return
	}
	batch := make([]AggregatedLogEntry, 0, len(d.entries))
	for _, e := range d.entries {
		batch = append(batch, *e)
	}
	d.entries = make(map[entryKey]*AggregatedLogEntry)
	if d.config.Publisher == nil {
		return
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].FirstSeen.Before(batch[j].FirstSeen) })

	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.config.PublishTimeout)
		defer cancel()
		if err := d.config.Publisher.PublishMessage(ctx, d.config.Topic, batch); err != nil && d.config.OnPublishError != nil {
			d.config.OnPublishError(fmt.Errorf("send aggregated logs: %w", err))
		}
	}()
}

// Pending returns the number of distinct entries waiting for the next flush.
func (d *LogCollector) Pending() int {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return len(d.entries)
}

// Close flushes what is pending and waits until every batch has been
// handed to the publisher.
func (d *LogCollector) Close() {
	d.cancel()
	d.loop.Wait()
	d.inflight.Wait()
}
