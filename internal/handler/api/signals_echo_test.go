package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinSignal/internal/domain/models"
	"FinSignal/internal/services/features"
	"FinSignal/internal/services/sequence"
	"FinSignal/internal/services/signals"
	"FinSignal/internal/usecase"
	xlogger "FinSignal/pkg/logger"
)

func newTestServer(t *testing.T) (*echo.Echo, *SignalsEchoHandler) {
	t.Helper()
	fx := features.NewExtractor()
	lc := usecase.NewLifecycleManager(usecase.DefaultLifecycleConfig(),
		usecase.NewPredictorFactory(nil, sequence.DefaultConfig()), fx, nil, nil)
	t.Cleanup(lc.Close)
	engine := usecase.NewSignalEngine(usecase.DefaultEngineConfig(), fx, lc, signals.NewSynthesizer(), nil, nil)

	h := NewSignalsEchoHandler(xlogger.NewNop(), engine, usecase.NewPredictionsUseCase(engine))
	e := echo.New()
	h.RegisterRoutes(e)
	return e, h
}

func do(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	e, h := newTestServer(t)

	rec := do(e, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	h.AddHealthCheck("clickhouse", func(context.Context) error { return errors.New("down") })
	rec = do(e, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "down")
}

func TestModels(t *testing.T) {
	e, _ := newTestServer(t)

	rec := do(e, http.MethodGet, "/api/models?symbol=AAPL", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data []models.ModelStatus `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 2)
	for _, st := range body.Data {
		assert.Equal(t, models.StateUntrained, st.State)
		assert.False(t, st.Ready)
	}
}

func TestErrorMapping(t *testing.T) {
	e, _ := newTestServer(t)

	tests := []struct {
		name   string
		method string
		target string
		body   string
		code   int
	}{
		{"predictions without symbol", http.MethodGet, "/api/predictions", "", http.StatusBadRequest},
		{"signal for unknown symbol", http.MethodGet, "/api/signal?symbol=AAPL", "", http.StatusNotFound},
		{"signal for bad model", http.MethodGet, "/api/signal?symbol=AAPL&model=lstm", "", http.StatusBadRequest},
		{"retrain without bar store", http.MethodPost, "/api/models/retrain", `{"symbol":"AAPL"}`, http.StatusServiceUnavailable},
		{"retrain too few bars", http.MethodPost, "/api/models/retrain", `{"symbol":"AAPL","bars":10}`, http.StatusBadRequest},
		{"bars without bar store", http.MethodGet, "/api/bars?symbol=AAPL", "", http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(e, tt.method, tt.target, tt.body)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}
}
