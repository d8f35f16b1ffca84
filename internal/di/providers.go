package di

import (
	"context"
	"fmt"
	"io"
	"time"

	"FinSignal/internal/domain/models"
	domrepo "FinSignal/internal/domain/repository"
	"FinSignal/internal/handler/api"
	mid "FinSignal/internal/middleware"
	internalrepo "FinSignal/internal/repository"
	icache "FinSignal/internal/service/cache"
	"FinSignal/internal/service/finnhub"
	"FinSignal/internal/service/ratelimit"
	"FinSignal/internal/services/analytics"
	"FinSignal/internal/services/features"
	"FinSignal/internal/services/sequence"
	"FinSignal/internal/services/signals"
	"FinSignal/internal/usecase"
	pkgcache "FinSignal/pkg/cache"
	pkgch "FinSignal/pkg/clickhouse"
	"FinSignal/pkg/config"
	xhttp "FinSignal/pkg/http"
	pkgkafka "FinSignal/pkg/kafka"
	"FinSignal/pkg/logger"
	"FinSignal/pkg/metrics"
	"FinSignal/pkg/queue"
	"FinSignal/pkg/server"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	format := "json"
	if cfg.Logging.Pretty {
		format = "console"
	}
	return logger.New(&logger.Config{Level: cfg.Logging.Level, Format: format, Output: "stdout"})
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() domrepo.Metrics {
	return metrics.New()
}

// ProvideClickHouseClient connects to ClickHouse and applies the schema. It
// returns nil when ClickHouse is disabled.
func ProvideClickHouseClient(cfg *config.Config, log *logger.Logger) (*pkgch.Client, func(), error) {
	if !cfg.ClickHouse.Enabled {
		return nil, func() {}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	client, err := pkgch.NewClient(ctx,
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}
	if cfg.ClickHouse.InitSchema {
		if err := client.InitSchema(ctx, internalrepo.Schema(cfg.ClickHouse.Database)); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
		}
	}
	log.Info("clickhouse ready", logger.String("database", cfg.ClickHouse.Database))
	return client, closeWith(log, "clickhouse", client), nil
}

// ProvideBarStore returns the ClickHouse bar store, or nil without ClickHouse.
func ProvideBarStore(ch *pkgch.Client, log *logger.Logger) domrepo.BarStore {
	if ch == nil {
		return nil
	}
	s := internalrepo.NewCHBarStore(ch, ch.Database())
	s.SetLogger(log)
	return s
}

// ProvideSignalStore returns the ClickHouse signal audit store, or nil without ClickHouse.
func ProvideSignalStore(ch *pkgch.Client) domrepo.SignalStore {
	if ch == nil {
		return nil
	}
	return internalrepo.NewClickHouseSignalStore(ch.DB(), ch.Database())
}

// ProvideRedis connects to Redis, or returns nil when disabled.
func ProvideRedis(cfg *config.Config, log *logger.Logger) (*pkgcache.RedisCache, func(), error) {
	if !cfg.Redis.Enabled {
		return nil, func() {}, nil
	}
	rc, err := pkgcache.NewRedisCache(
		pkgcache.WithRedisHost(cfg.Redis.Host),
		pkgcache.WithRedisPort(cfg.Redis.Port),
		pkgcache.WithRedisPassword(cfg.Redis.Password),
		pkgcache.WithRedisDB(cfg.Redis.DB),
		pkgcache.WithRedisPrefix(cfg.Redis.Prefix),
		pkgcache.WithRedisPool(cfg.Redis.PoolSize, cfg.Redis.MinIdleConns, 30*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	return rc, closeWith(log, "redis", rc), nil
}

// ProvideModelStore shares blobs through Redis when available and falls back to disk.
func ProvideModelStore(cfg *config.Config, rc *pkgcache.RedisCache) domrepo.ModelStore {
	if rc != nil {
		return internalrepo.NewRedisModelStore(rc, cfg.Redis.ModelTTL)
	}
	return internalrepo.NewFileModelStore(cfg.ModelDir)
}

// ProvideKafkaProducer creates a Kafka producer, or nil without brokers.
func ProvideKafkaProducer(cfg *config.Config, log *logger.Logger) (*pkgkafka.Producer, func(), error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, func() {}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.Linger),
		pkgkafka.WithWriteTimeout(cfg.Kafka.Producer.WriteTimeout),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, closeWith(log, "kafka_producer", producer), nil
}

// closeWith returns a cleanup that closes c and logs a failure.
func closeWith(log *logger.Logger, name string, c io.Closer) func() {
	return func() {
		if err := c.Close(); err != nil {
			log.Warn("close error", logger.String("client", name), logger.Error(err))
		}
	}
}

// ProvideSignalPublisher publishes signals to Kafka behind a circuit breaker.
// The cleanup stops publishing before the producer is closed.
func ProvideSignalPublisher(producer *pkgkafka.Producer, cfg *config.Config, log *logger.Logger) (domrepo.SignalPublisher, func()) {
	if producer == nil {
		return nil, func() {}
	}
	pub := internalrepo.NewKafkaSignalPublisher(producer, cfg.Kafka.SignalsTopic, internalrepo.BreakerConfig{
		ConsecutiveFailures: cfg.Kafka.Breaker.ConsecutiveFailures,
		OpenTimeout:         cfg.Kafka.Breaker.OpenTimeout,
	}, log)
	return pub, closeWith(log, "signal_publisher", pub)
}

// ProvideFeatureExtractor creates the shared feature extractor.
func ProvideFeatureExtractor(cfg *config.Config) *features.Extractor {
	return features.NewExtractor(
		features.WithHistoryWindow(cfg.Engine.HistoryWindow),
		features.WithMinHistory(cfg.Engine.MinHistory),
		features.WithBarsPerYear(barsPerYear(domrepo.Timeframe(cfg.Engine.Timeframe))),
	)
}

func barsPerYear(tf domrepo.Timeframe) float64 {
	// US equity session: 252 days of 390 minutes
	switch tf {
	case domrepo.TF1m:
		return 252 * 390
	case domrepo.TF5m:
		return 252 * 78
	case domrepo.TF1h:
		return 252 * 6.5
	default:
		return 252
	}
}

// ProvidePredictorFactory maps model names to fresh predictors configured from the engine section.
func ProvidePredictorFactory(cfg *config.Config) usecase.PredictorFactory {
	seq := sequence.DefaultConfig()
	seq.WarmupBars = cfg.Engine.MinHistory - 1
	seq.Lookback = cfg.Engine.Lookback
	seq.HiddenSize = cfg.Engine.HiddenSize
	seq.LatentDim = cfg.Engine.LatentDim
	seq.Dropout = cfg.Engine.Dropout
	seq.L2 = cfg.Engine.L2
	seq.KLWeight = cfg.Engine.KLWeight
	seq.LearningRate = cfg.Engine.LearningRate
	seq.Epochs = cfg.Engine.Epochs
	seq.UpdateBuffer = cfg.Engine.UpdateBuffer
	seq.MaxExpectedMove = cfg.Engine.MaxExpectedMove
	seq.Seed = cfg.Engine.Seed
	return usecase.NewPredictorFactory([]analytics.Option{
		analytics.WithMinTraining(cfg.Engine.MinTrainingData),
		analytics.WithUpdateBuffer(cfg.Engine.UpdateBuffer),
	}, seq)
}

// ProvideLifecycle creates the model lifecycle manager.
func ProvideLifecycle(
	cfg *config.Config,
	factory usecase.PredictorFactory,
	fx *features.Extractor,
	m domrepo.Metrics,
	log *logger.Logger,
	store domrepo.ModelStore,
) *usecase.LifecycleManager {
	lc := usecase.DefaultLifecycleConfig()
	lc.Staleness = cfg.Engine.Staleness
	lc.AccuracyFloor = cfg.Engine.AccuracyFloor
	lc.MinAccuracySamples = cfg.Engine.MinAccuracySamples
	lc.RetryBackoff = cfg.Engine.RetryBackoff
	return usecase.NewLifecycleManager(lc, factory, fx, m, log, usecase.WithModelStore(store))
}

// ProvideSynthesizer creates the signal synthesizer.
func ProvideSynthesizer(cfg *config.Config) *signals.Synthesizer {
	sc := signals.DefaultConfig()
	sc.MinConfidence = cfg.Engine.ConfidenceThreshold
	sc.MaxPosition = cfg.Engine.MaxPosition
	sc.BaseStop = cfg.Engine.BaseStop
	sc.MaxStop = max(sc.MaxStop, cfg.Engine.BaseStop)
	sc.MinStop = min(sc.MinStop, cfg.Engine.BaseStop)
	return signals.NewSynthesizer(signals.WithConfig(sc))
}

// ProvideEngine assembles the signal engine.
func ProvideEngine(
	cfg *config.Config,
	fx *features.Extractor,
	lc *usecase.LifecycleManager,
	synth *signals.Synthesizer,
	m domrepo.Metrics,
	log *logger.Logger,
	pub domrepo.SignalPublisher,
	store domrepo.SignalStore,
	bars domrepo.BarStore,
) *usecase.SignalEngine {
	ec := usecase.DefaultEngineConfig()
	ec.Predictor = cfg.Engine.Predictor
	ec.WarmupBars = cfg.Engine.WarmupBars
	ec.Timeframe = domrepo.NormalizeTimeframe(cfg.Engine.Timeframe)
	var opts []usecase.EngineOption
	if pub != nil {
		opts = append(opts, usecase.WithPublisher(pub))
	}
	if store != nil {
		opts = append(opts, usecase.WithSignalStore(store))
	}
	if bars != nil {
		opts = append(opts, usecase.WithBarStore(bars))
	}
	return usecase.NewSignalEngine(ec, fx, lc, synth, m, log, opts...)
}

// ProvidePipeline builds the ingest middleware in front of the engine.
func ProvidePipeline(engine *usecase.SignalEngine, m domrepo.Metrics, cfg *config.Config) *mid.RealtimePipeline {
	return mid.NewRealtimePipeline(engine, m,
		mid.WithMaxRPS(cfg.Pipeline.MaxRPS),
		mid.WithBufferSize(cfg.Pipeline.BufferSize),
		mid.WithWorkers(cfg.Pipeline.Workers),
	)
}

// ProvideBarCollector creates the websocket collector when the source is websocket.
func ProvideBarCollector(cfg *config.Config, pipe *mid.RealtimePipeline, m domrepo.Metrics, log *logger.Logger) *usecase.BarCollector {
	if cfg.Source != "websocket" {
		return nil
	}
	stream := finnhub.New(finnhub.Config{
		APIKey:         cfg.Stream.APIKey,
		WebsocketURL:   cfg.Stream.WebSocketURL,
		Symbols:        cfg.Symbols,
		Timeframe:      domrepo.NormalizeTimeframe(cfg.Engine.Timeframe),
		ReconnectDelay: cfg.Stream.ReconnectDelay,
		PingInterval:   cfg.Stream.PingInterval,
	}, log)
	return usecase.NewBarCollector(stream, pipe, m, log)
}

// ProvideKafkaConsumer creates the bars consumer when the source is kafka.
func ProvideKafkaConsumer(cfg *config.Config, log *logger.Logger) (*pkgkafka.Consumer, error) {
	if cfg.Source != "kafka" {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(log,
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideKafkaBarsHandler handles the bars topic; bars are also appended to
// the bar store when it can write.
func ProvideKafkaBarsHandler(cfg *config.Config, pipe *mid.RealtimePipeline, m domrepo.Metrics, bars domrepo.BarStore) *usecase.KafkaBarsHandler {
	h := usecase.NewKafkaBarsHandler(cfg.Kafka.BarsTopic, pipe, m)
	if w, ok := bars.(domrepo.BarWriter); ok {
		h.SetBarWriter(w, domrepo.NormalizeTimeframe(cfg.Engine.Timeframe))
	}
	return h
}

// ProvideTrainQueue creates the shared training queue on Redis, or nil without Redis.
func ProvideTrainQueue(cfg *config.Config, rc *pkgcache.RedisCache, log *logger.Logger) *queue.RedisQueue {
	if rc == nil {
		return nil
	}
	return queue.NewRedisQueue(log, queue.Config{Workers: 1, RetryLimit: 2, RetryDelay: time.Minute}, rc.Client(),
		queue.WithKeyPrefix(cfg.Redis.Prefix+":train"))
}

// ProvideLimiter creates the per-client HTTP limiter.
func ProvideLimiter(cfg *config.Config) *ratelimit.Limiter {
	if cfg.Server.RateLimitRPS <= 0 {
		return nil
	}
	return ratelimit.New(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
}

// ProvideHTTPServer wires the API handler into the echo server.
func ProvideHTTPServer(
	cfg *config.Config,
	log *logger.Logger,
	engine *usecase.SignalEngine,
	bars domrepo.BarStore,
	store domrepo.SignalStore,
	rc *pkgcache.RedisCache,
	limiter *ratelimit.Limiter,
) *xhttp.Server {
	h := api.NewSignalsEchoHandler(log, engine, usecase.NewPredictionsUseCase(engine))
	if rc != nil {
		h.SetCache(icache.NewRedisCache(rc))
		h.AddHealthCheck("redis", func(ctx context.Context) error { return rc.Client().Ping(ctx).Err() })
	} else {
		h.SetCache(icache.NewTTLCache(1024))
	}
	if bars != nil {
		h.SetBars(usecase.NewBarsUseCase(bars))
	}
	if store != nil {
		h.AddHealthCheck("clickhouse", store.Health)
	}
	opts := []xhttp.ServerOption{
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithSlowThreshold(cfg.Server.SlowRequest),
		xhttp.WithCORSOrigins(cfg.Server.CORSOrigins),
	}
	if limiter != nil {
		opts = append(opts, xhttp.WithRateLimit(limiter))
	}
	return xhttp.NewServer(h, log, opts...)
}

// ProvideApp creates the application server. Warn and error logs are shipped
// to Kafka when a log topic is configured; the cleanup flushes them before the
// producer goes away.
func ProvideApp(
	cfg *config.Config,
	log *logger.Logger,
	engine *usecase.SignalEngine,
	pipe *mid.RealtimePipeline,
	collector *usecase.BarCollector,
	consumer *pkgkafka.Consumer,
	kh *usecase.KafkaBarsHandler,
	tq *queue.RedisQueue,
	srv *xhttp.Server,
	limiter *ratelimit.Limiter,
	producer *pkgkafka.Producer,
	ch *pkgch.Client,
	rc *pkgcache.RedisCache,
) (*server.App, func()) {
	cleanup := func() {}
	if producer != nil && cfg.Logging.Topic != "" {
		log.AddCollector(&logger.CollectionConfig{
			TimeInterval:    30 * time.Second,
			Topic:           cfg.Logging.Topic,
			Publisher:       producer,
			IncludeWarnings: true,
		})
		cleanup = log.RemoveCollector
	}
	c := server.Components{
		Engine:     engine,
		Pipeline:   pipe,
		Collector:  collector,
		TrainQueue: tq,
		HTTP:       srv,
		Limiter:    limiter,
	}
	if consumer != nil {
		c.Consumer = consumer
		c.BarsHandler = kh
	}
	log.Info("engine wired",
		logger.Strings("models", []string{models.ModelEnsemble, models.ModelSequence}),
		logger.Bool("clickhouse", ch != nil),
		logger.Bool("redis", rc != nil))
	return server.New(cfg, log, c), cleanup
}
