package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"FinSignal/pkg/logger"
)

type countingAllower struct{ left int }

func (a *countingAllower) Allow(string) bool {
	if a.left <= 0 {
		return false
	}
	a.left--
	return true
}

func TestRateLimit(t *testing.T) {
	e := echo.New()
	e.Use(RateLimit(&countingAllower{left: 1}))
	e.GET("/x", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestRecover(t *testing.T) {
	e := echo.New()
	e.Use(Recover(logger.NewNop()))
	e.GET("/boom", func(echo.Context) error { panic("boom") })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func corsRequest(e *echo.Echo, method, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/api/signal", nil)
	if origin != "" {
		req.Header.Set(echo.HeaderOrigin, origin)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestCORS(t *testing.T) {
	e := echo.New()
	e.Use(CORS("https://desk.example.com"))
	e.GET("/api/signal", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.OPTIONS("/api/signal", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	rec := corsRequest(e, http.MethodOptions, "https://desk.example.com")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://desk.example.com", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
	assert.Equal(t, "GET, POST, OPTIONS", rec.Header().Get(echo.HeaderAccessControlAllowMethods))
	assert.Equal(t, "600", rec.Header().Get(echo.HeaderAccessControlMaxAge))

	rec = corsRequest(e, http.MethodGet, "https://desk.example.com")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://desk.example.com", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
	assert.Empty(t, rec.Header().Get(echo.HeaderAccessControlAllowMethods))

	rec = corsRequest(e, http.MethodOptions, "https://evil.example.com")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
	assert.Equal(t, echo.HeaderOrigin, rec.Header().Get(echo.HeaderVary))
}

func TestCORS_AnyOrigin(t *testing.T) {
	e := echo.New()
	e.Use(CORS("*"))
	e.GET("/api/signal", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	rec := corsRequest(e, http.MethodGet, "http://localhost:3000")
	assert.Equal(t, "http://localhost:3000", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))

	rec = corsRequest(e, http.MethodGet, "")
	assert.Empty(t, rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
}
