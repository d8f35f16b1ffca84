package finnhub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"FinSignal/internal/domain/models"
	drepo "FinSignal/internal/domain/repository"
	"FinSignal/pkg/logger"
)

// Config configures the websocket stream.
type Config struct {
	APIKey         string
	WebsocketURL   string
	Symbols        []string
	Timeframe      drepo.Timeframe
	ReconnectDelay time.Duration
	PingInterval   time.Duration
}

// Client implements BarStream on the Finnhub websocket. Trade frames are
// aggregated into bars of the configured timeframe; bar frames from a
// gateway are passed through as is.
type Client struct {
	cfg Config
	log *logger.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected atomic.Bool
}

// New creates a new Finnhub BarStream.
func New(cfg Config, log *logger.Logger) *Client {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if !drepo.IsValidTimeframe(cfg.Timeframe) {
		cfg.Timeframe = drepo.TF1m
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Client{cfg: cfg, log: log}
}

var _ drepo.BarStream = (*Client)(nil)

// Connect establishes the websocket connection.
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.cfg.WebsocketURL)
	if err != nil {
		return fmt.Errorf("finnhub url: %w", err)
	}
	if c.cfg.APIKey != "" {
		q := u.Query()
		q.Set("token", c.cfg.APIKey)
		u.RawQuery = q.Encode()
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("finnhub connect: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.connected.Store(true)
	c.log.Info("finnhub connected", logger.String("url", u.Host))
	return nil
}

// Subscribe subscribes to the configured symbols.
func (c *Client) Subscribe(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || !c.connected.Load() {
		return errors.New("finnhub not connected")
	}
	for _, s := range c.cfg.Symbols {
		if err := c.conn.WriteJSON(map[string]string{"type": "subscribe", "symbol": s}); err != nil {
			return fmt.Errorf("subscribe %s: %w", s, err)
		}
	}
	c.log.Info("finnhub subscribed", logger.Strings("symbols", c.cfg.Symbols))
	return nil
}

type fhTrade struct {
	S string  `json:"s"`
	P float64 `json:"p"`
	V float64 `json:"v"`
	T int64   `json:"t"` // ms
}

type fhBar struct {
	S string  `json:"s"`
	T int64   `json:"t"` // ms
	O float64 `json:"o"`
	H float64 `json:"h"`
	L float64 `json:"l"`
	C float64 `json:"c"`
	V float64 `json:"v"`
}

type fhMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Read streams completed bars and the first read error. Both channels close
// when the connection drops or ctx ends.
func (c *Client) Read(ctx context.Context) (<-chan *models.MarketBar, <-chan error) {
	bars := make(chan *models.MarketBar, 1024)
	errs := make(chan error, 1)

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		errs <- errors.New("finnhub conn nil")
		close(bars)
		close(errs)
		return bars, errs
	}

	readCtx, cancel := context.WithCancel(ctx)
	frames := make(chan []byte, 256)
	var readErr error

	go c.pingLoop(readCtx, conn)

	go func() {
		defer close(frames)
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				readErr = err
				return
			}
			select {
			case frames <- b:
			case <-readCtx.Done():
				return
			}
		}
	}()

	go func() {
		defer close(bars)
		defer close(errs)
		defer cancel()
		agg := NewBarAggregator(c.cfg.Timeframe.Duration())
		flush := time.NewTicker(min(c.cfg.Timeframe.Duration(), 10*time.Second))
		defer flush.Stop()
		for {
			select {
			case <-readCtx.Done():
				return
			case now := <-flush.C:
				for _, b := range agg.Flush(now) {
					c.emit(bars, b)
				}
			case frame, ok := <-frames:
				if !ok {
					if readCtx.Err() == nil {
						errs <- fmt.Errorf("finnhub read: %w", readErr)
					}
					return
				}
				for _, b := range c.decode(frame, agg) {
					c.emit(bars, b)
				}
			}
		}
	}()

	return bars, errs
}

func (c *Client) emit(out chan<- *models.MarketBar, b *models.MarketBar) {
	select {
	case out <- b:
	default:
		c.log.Warn("finnhub bar dropped on backpressure", logger.Symbol(b.Symbol))
	}
}

// decode turns one frame into zero or more completed bars.
func (c *Client) decode(frame []byte, agg *BarAggregator) []*models.MarketBar {
	var m fhMessage
	if err := json.Unmarshal(frame, &m); err != nil {
		return nil
	}
	var out []*models.MarketBar
	switch m.Type {
	case "trade":
		var trades []fhTrade
		if err := json.Unmarshal(m.Data, &trades); err != nil {
			c.log.Debug("finnhub trade frame malformed", logger.Error(err))
			return nil
		}
		for _, t := range trades {
			if b := agg.Add(t.S, time.UnixMilli(t.T), t.P, t.V); b != nil {
				out = append(out, b)
			}
		}
	case "bar":
		var raw []fhBar
		if err := json.Unmarshal(m.Data, &raw); err != nil {
			c.log.Debug("finnhub bar frame malformed", logger.Error(err))
			return nil
		}
		for _, b := range raw {
			out = append(out, &models.MarketBar{
				Symbol: b.S, Timestamp: time.UnixMilli(b.T).UTC(),
				Open: b.O, High: b.H, Low: b.L, Close: b.C, Volume: b.V,
			})
		}
	}
	return out
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			c.mu.Unlock()
			if err != nil {
				c.log.Debug("finnhub ping failed", logger.Error(err))
			}
		}
	}
}

// Reconnect closes, waits the reconnect delay and reconnects.
func (c *Client) Reconnect(ctx context.Context) error {
	_ = c.Close()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.cfg.ReconnectDelay):
	}
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return c.Subscribe(ctx)
}

// Close closes the websocket connection.
func (c *Client) Close() error {
	c.connected.Store(false)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

// IsConnected indicates status.
func (c *Client) IsConnected() bool { return c.connected.Load() }
