package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type retrainQuery struct {
	Symbol string `query:"symbol" validate:"required,symbol"`
	Model  string `query:"model" default:"ensemble" validate:"oneof=ensemble sequence"`
	Bars   int    `query:"bars" default:"600" validate:"gte=60"`
	From   string `query:"from" validate:"omitempty,bartime"`
}

func bind(t *testing.T, target string) (*retrainQuery, interface{}) {
	t.Helper()
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, target, nil), httptest.NewRecorder())
	req := &retrainQuery{}
	return req, ReadAndValidateRequest(c, req)
}

func byField(t *testing.T, verr interface{}) map[string]ValidationError {
	t.Helper()
	errs, ok := verr.([]ValidationError)
	require.True(t, ok)
	out := map[string]ValidationError{}
	for _, e := range errs {
		out[e.Field] = e
	}
	return out
}

func TestReadAndValidateRequestDefaults(t *testing.T) {
	req, verr := bind(t, "/?symbol=AAPL&from=2024-01-02")
	require.Nil(t, verr)
	assert.Equal(t, "ensemble", req.Model)
	assert.Equal(t, 600, req.Bars)
}

func TestReadAndValidateRequestErrors(t *testing.T) {
	_, verr := bind(t, "/?model=lstm&bars=10")
	errs := byField(t, verr)

	assert.Equal(t, "ERR_REQUIRED", errs["symbol"].Code)
	assert.Equal(t, "symbol is required", errs["symbol"].Message)
	assert.Equal(t, "ERR_ONEOF", errs["model"].Code)
	assert.Equal(t, "model must be one of: ensemble, sequence", errs["model"].Message)
	assert.Equal(t, []string{"ensemble", "sequence"}, errs["model"].Params["options"])
	assert.Equal(t, "bars must be at least 60", errs["bars"].Message)
}

func TestReadAndValidateRequestSymbolAndTime(t *testing.T) {
	for _, sym := range []string{"AAPL", "BRK.B", "BINANCE:BTCUSDT"} {
		_, verr := bind(t, "/?symbol="+sym)
		assert.Nil(t, verr, sym)
	}

	_, verr := bind(t, "/?symbol=AA%20PL&from=yesterday")
	errs := byField(t, verr)
	assert.Equal(t, "ERR_SYMBOL", errs["symbol"].Code)
	assert.Equal(t, "ERR_BARTIME", errs["from"].Code)
	assert.Contains(t, errs["from"].Message, "unix seconds")
}

func TestReadAndValidateRequestBindError(t *testing.T) {
	_, verr := bind(t, "/?symbol=AAPL&bars=many")
	errs, ok := verr.([]ValidationError)
	require.True(t, ok)
	require.Len(t, errs, 1)
	assert.Equal(t, "ERR_BIND", errs[0].Code)
}

func TestAppErrorResponse(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	require.NoError(t, AppErrorResponse(c, ConflictErrorf("busy %s", "AAPL")))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "ERR_CONFLICT")
}
