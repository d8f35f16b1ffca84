package server

import (
	"context"
	"time"

	mid "FinSignal/internal/middleware"
	"FinSignal/internal/service/ratelimit"
	"FinSignal/internal/usecase"
	"FinSignal/pkg/config"
	xhttp "FinSignal/pkg/http"
	pkgkafka "FinSignal/pkg/kafka"
	applogger "FinSignal/pkg/logger"
	"FinSignal/pkg/queue"
)

// Components are the long-lived parts the App starts and stops. Nil members
// are skipped.
type Components struct {
	Engine      *usecase.SignalEngine
	Pipeline    *mid.RealtimePipeline
	Collector   *usecase.BarCollector
	Consumer    *pkgkafka.Consumer
	BarsHandler pkgkafka.MessageHandler
	TrainQueue  *queue.RedisQueue
	HTTP        *xhttp.Server
	Limiter     *ratelimit.Limiter
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg *config.Config
	log *applogger.Logger
	c   Components
}

// New creates a new App instance with all dependencies.
func New(cfg *config.Config, log *applogger.Logger, c Components) *App {
	if log == nil {
		log = applogger.NewNop()
	}
	return &App{cfg: cfg, log: log, c: c}
}

// Engine returns the signal engine.
func (a *App) Engine() *usecase.SignalEngine { return a.c.Engine }

// TrainQueue returns the shared training queue, nil without Redis.
func (a *App) TrainQueue() *queue.RedisQueue { return a.c.TrainQueue }

// Run restores models, warms up, starts ingestion and the HTTP server, and
// blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	lc := a.c.Engine.Lifecycle()
	if err := lc.LoadAll(ctx, a.cfg.Symbols); err != nil {
		a.log.Warn("model restore incomplete", applogger.Error(err))
	}
	if err := a.c.Engine.Warmup(ctx, a.cfg.Symbols); err != nil {
		a.log.Warn("warmup incomplete", applogger.Error(err))
	}

	if err := a.startIngestion(ctx); err != nil {
		a.shutdown()
		return err
	}
	if a.c.TrainQueue != nil {
		a.c.TrainQueue.RegisterJob(usecase.NewTrainJob(a.c.Engine, a.log))
		if err := a.c.TrainQueue.Start(ctx); err != nil {
			a.log.Warn("train queue disabled", applogger.Error(err))
			a.c.TrainQueue = nil
		}
	}
	if a.c.HTTP != nil {
		if err := a.c.HTTP.Start(); err != nil {
			a.shutdown()
			return err
		}
	}
	if a.c.Limiter != nil {
		go a.sweep(ctx)
	}
	a.log.Info("engine running",
		applogger.Strings("symbols", a.cfg.Symbols),
		applogger.String("source", a.cfg.Source),
		applogger.String("predictor", a.cfg.Engine.Predictor))

	<-ctx.Done()
	a.log.Info("shutdown signal received")
	a.shutdown()
	return nil
}

func (a *App) startIngestion(ctx context.Context) error {
	switch {
	case a.c.Collector != nil:
		if err := a.c.Collector.Start(ctx); err != nil {
			return err
		}
		a.log.Info("bar stream started")
	case a.c.Consumer != nil && a.c.BarsHandler != nil:
		if a.c.Pipeline != nil {
			a.c.Pipeline.Start(ctx)
		}
		a.c.Consumer.RegisterHandler(a.c.BarsHandler)
		if err := a.c.Consumer.Start(); err != nil {
			return err
		}
		a.log.Info("kafka bars consumer started", applogger.String("topic", a.c.BarsHandler.Topic()))
	default:
		a.log.Warn("no bar source configured; serving API only")
	}
	return nil
}

func (a *App) sweep(ctx context.Context) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.c.Limiter.Sweep()
		}
	}
}

// shutdown stops ingress first, then training. Infrastructure clients are
// released by the injector's cleanup once Run returns.
func (a *App) shutdown() {
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if a.c.HTTP != nil {
		if err := a.c.HTTP.Stop(ctx); err != nil {
			a.log.Error("http shutdown error", applogger.Error(err))
		}
	}
	if a.c.Collector != nil {
		if err := a.c.Collector.Shutdown(ctx); err != nil {
			a.log.Warn("collector stop error", applogger.Error(err))
		}
	}
	if a.c.Consumer != nil {
		if err := a.c.Consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}
	if a.c.Pipeline != nil {
		a.c.Pipeline.Stop()
	}
	if a.c.TrainQueue != nil {
		if err := a.c.TrainQueue.Stop(ctx); err != nil {
			a.log.Warn("train queue stop error", applogger.Error(err))
		}
	}
	a.c.Engine.Lifecycle().Close()
	a.log.Info("shutdown complete")
}
