package finnhub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	drepo "FinSignal/internal/domain/repository"
)

func TestBarAggregatorEmitsOnNextBucket(t *testing.T) {
	a := NewBarAggregator(time.Minute)
	t0 := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)

	assert.Nil(t, a.Add("AAPL", t0.Add(5*time.Second), 100, 1))
	assert.Nil(t, a.Add("AAPL", t0.Add(20*time.Second), 103, 2))
	assert.Nil(t, a.Add("AAPL", t0.Add(40*time.Second), 99, 3))
	assert.Nil(t, a.Add("AAPL", t0.Add(50*time.Second), 101, 4))
	assert.Nil(t, a.Add("AAPL", t0.Add(-time.Minute), 500, 1), "older bucket dropped")

	b := a.Add("AAPL", t0.Add(61*time.Second), 102, 1)
	require.NotNil(t, b)
	assert.Equal(t, t0, b.Timestamp)
	assert.Equal(t, 100.0, b.Open)
	assert.Equal(t, 103.0, b.High)
	assert.Equal(t, 99.0, b.Low)
	assert.Equal(t, 101.0, b.Close)
	assert.Equal(t, 10.0, b.Volume)
}

func TestBarAggregatorFlush(t *testing.T) {
	a := NewBarAggregator(time.Minute)
	t0 := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	a.Add("MSFT", t0, 10, 1)
	a.Add("AAPL", t0.Add(time.Minute), 20, 1)

	out := a.Flush(t0.Add(time.Minute))
	require.Len(t, out, 1)
	assert.Equal(t, "MSFT", out[0].Symbol)
	assert.Empty(t, a.Flush(t0.Add(time.Minute)))
	assert.Len(t, a.Flush(t0.Add(2*time.Minute)), 1)
}

func TestClientStreamsBars(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscribed := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k", r.URL.Query().Get("token"))
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		var sub map[string]string
		require.NoError(t, conn.ReadJSON(&sub))
		subscribed <- sub["symbol"]
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"bar","data":[{"s":"AAPL","t":1704186000000,"o":1,"h":2,"l":0.5,"c":1.5,"v":10}]}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"trade","data":[{"s":"AAPL","p":1.6,"v":1,"t":1704186000000},{"s":"AAPL","p":1.7,"v":1,"t":1704186060000}]}`))
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := New(Config{
		APIKey:       "k",
		WebsocketURL: "ws" + strings.TrimPrefix(srv.URL, "http"),
		Symbols:      []string{"AAPL"},
		Timeframe:    drepo.TF1m,
	}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, c.Connect(ctx))
	require.NoError(t, c.Subscribe(ctx))
	assert.Equal(t, "AAPL", <-subscribed)
	assert.True(t, c.IsConnected())

	bars, errs := c.Read(ctx)
	first := <-bars
	require.NotNil(t, first)
	assert.Equal(t, 1.5, first.Close)
	second := <-bars
	require.NotNil(t, second)
	assert.Equal(t, 1.6, second.Close)
	assert.Equal(t, time.UnixMilli(1704186000000).UTC(), second.Timestamp)

	// server hangs up after the sleep
	err := <-errs
	assert.Error(t, err)
	require.NoError(t, c.Close())
	assert.False(t, c.IsConnected())
}
