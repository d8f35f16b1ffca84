package http

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler registers a group of routes on the server.
type Handler interface {
	RegisterRoutes(e *echo.Echo)
}

// Routes adapts a plain registration function to Handler.
type Routes func(e *echo.Echo)

func (r Routes) RegisterRoutes(e *echo.Echo) { r(e) }

// MetricsRoutes serves the Prometheus registry that the engine, pipeline and
// clients record into.
var MetricsRoutes Handler = Routes(func(e *echo.Echo) {
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
})
