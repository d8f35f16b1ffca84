package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	models "FinSignal/internal/domain/models"
	domrepo "FinSignal/internal/domain/repository"
	icache "FinSignal/internal/service/cache"
	"FinSignal/internal/service/metrics"
	"FinSignal/internal/usecase"
	xhttp "FinSignal/pkg/http"
	xlogger "FinSignal/pkg/logger"
	"FinSignal/pkg/util"
)

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

// SignalsEchoHandler exposes the engine over HTTP: predictions, signal
// previews, model status and retraining.
type SignalsEchoHandler struct {
	logger *xlogger.Logger
	engine *usecase.SignalEngine
	preds  *usecase.PredictionsUseCase
	bars   *usecase.BarsUseCase
	cache  icache.BytesCache
	checks map[string]HealthCheck
}

func NewSignalsEchoHandler(logger *xlogger.Logger, engine *usecase.SignalEngine, preds *usecase.PredictionsUseCase) *SignalsEchoHandler {
	return &SignalsEchoHandler{logger: logger, engine: engine, preds: preds, checks: map[string]HealthCheck{}}
}

// SetCache enables response caching for predictions.
func (h *SignalsEchoHandler) SetCache(c icache.BytesCache) { h.cache = c }

// SetBars enables the historical bars endpoint.
func (h *SignalsEchoHandler) SetBars(b *usecase.BarsUseCase) { h.bars = b }

// AddHealthCheck registers a dependency check for /healthz.
func (h *SignalsEchoHandler) AddHealthCheck(name string, fn HealthCheck) { h.checks[name] = fn }

func (h *SignalsEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)
	g := e.Group("/api")
	g.GET("/predictions", h.Predictions)
	g.GET("/signal", h.Signal)
	g.GET("/models", h.Models)
	g.POST("/models/retrain", h.Retrain)
	g.GET("/bars", h.Bars)
}

func observe(endpoint string, start time.Time) {
	metrics.APILatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

// appError maps engine errors onto HTTP errors.
func appError(err error) *xhttp.AppError {
	var ae *xhttp.AppError
	switch {
	case errors.As(err, &ae):
		return ae
	case errors.Is(err, usecase.ErrUnknownSymbol):
		return xhttp.NotFoundErrorf("%v", err)
	case errors.Is(err, usecase.ErrUnknownModel), errors.Is(err, usecase.ErrNotEnoughData), errors.Is(err, usecase.ErrInvalidQuery):
		return xhttp.BadRequestErrorf("%v", err)
	case errors.Is(err, usecase.ErrTrainingInProgress):
		return xhttp.ConflictErrorf("%v", err)
	case errors.Is(err, usecase.ErrNoBarStore):
		return xhttp.UnavailableErrorf("%v", err)
	default:
		return xhttp.InternalErrorf("internal error").WithError(err)
	}
}

func (h *SignalsEchoHandler) fail(c echo.Context, endpoint string, err error) error {
	metrics.APIErrors.WithLabelValues(endpoint).Inc()
	ae := appError(err)
	if ae.Status >= http.StatusInternalServerError {
		h.logger.Error(endpoint+" failed", xlogger.Error(err))
	}
	return xhttp.AppErrorResponse(c, ae)
}

func (h *SignalsEchoHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()
	status := map[string]string{}
	code := http.StatusOK
	for name, fn := range h.checks {
		if err := fn(ctx); err != nil {
			status[name] = err.Error()
			code = http.StatusServiceUnavailable
			continue
		}
		status[name] = "ok"
	}
	return xhttp.DataResponse(c, code, status)
}

func (h *SignalsEchoHandler) Predictions(c echo.Context) error {
	const endpoint = "predictions"
	defer observe(endpoint, time.Now())
	req := &models.PredictionsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	var cacheKey string
	if h.cache != nil {
		if hist := h.engine.Features().History().Snapshot(req.Symbol); len(hist) > 0 {
			cacheKey = fmt.Sprintf("predictions:%s:%d", req.Symbol, hist[len(hist)-1].Timestamp.Unix())
			if b, ok, err := h.cache.GetBytes(cacheKey); err != nil {
				h.logger.Warn("predictions cache get failed", xlogger.Error(err))
			} else if ok {
				metrics.APICacheHits.WithLabelValues(endpoint).Inc()
				return c.JSONBlob(http.StatusOK, b)
			}
		}
	}

	res, err := h.preds.GetPredictions(c.Request().Context(), req.Symbol)
	if err != nil {
		return h.fail(c, endpoint, err)
	}
	if cacheKey != "" {
		if b, err := json.Marshal(xhttp.APIResponse{Status: http.StatusOK, Message: http.StatusText(http.StatusOK), Data: res}); err == nil {
			if err := h.cache.SetBytes(cacheKey, b, 30*time.Second); err != nil {
				h.logger.Warn("predictions cache set failed", xlogger.Error(err))
			}
		}
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *SignalsEchoHandler) Signal(c echo.Context) error {
	const endpoint = "signal"
	defer observe(endpoint, time.Now())
	req := &models.SignalRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.engine.Preview(req.Symbol, req.Model)
	if err != nil {
		return h.fail(c, endpoint, err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *SignalsEchoHandler) Models(c echo.Context) error {
	const endpoint = "models"
	defer observe(endpoint, time.Now())
	req := &models.ModelsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	return xhttp.SuccessResponse(c, h.engine.Lifecycle().Status(req.Symbol))
}

func (h *SignalsEchoHandler) Retrain(c echo.Context) error {
	const endpoint = "retrain"
	defer observe(endpoint, time.Now())
	req := &models.RetrainRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	handles, err := h.engine.Retrain(c.Request().Context(), req.Symbol, req.Model, req.Bars)
	if len(handles) == 0 && err != nil {
		return h.fail(c, endpoint, err)
	}
	started := make([]string, 0, len(handles))
	for _, hd := range handles {
		started = append(started, hd.Model)
	}
	h.logger.Info("retrain requested",
		xlogger.Symbol(req.Symbol),
		xlogger.Strings("models", started))
	res := map[string]interface{}{"symbol": req.Symbol, "started": started}
	if err != nil {
		res["errors"] = err.Error()
	}
	return xhttp.AcceptedResponse(c, res)
}

func (h *SignalsEchoHandler) Bars(c echo.Context) error {
	const endpoint = "bars"
	defer observe(endpoint, time.Now())
	if h.bars == nil {
		return h.fail(c, endpoint, usecase.ErrNoBarStore)
	}
	req := &models.BarsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	to := util.ParseTimeDefault(req.To, time.Now().UTC())
	from := util.ParseTimeDefault(req.From, to.AddDate(0, 0, -365))
	from, to = util.AlignFromTo(from, to, req.TF)

	res, err := h.bars.GetBars(c.Request().Context(), usecase.GetBarsParams{
		Symbol:    req.Symbol,
		From:      from,
		To:        to,
		Timeframe: domrepo.NormalizeTimeframe(req.TF),
		Limit:     req.Limit,
	})
	if err != nil {
		return h.fail(c, endpoint, err)
	}
	return xhttp.SuccessResponse(c, res)
}
