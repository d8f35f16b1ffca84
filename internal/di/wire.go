//go:build wireinject
// +build wireinject

package di

import (
	"FinSignal/pkg/config"
	"FinSignal/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideRedis,
		ProvideKafkaProducer,

		// Repositories
		ProvideBarStore,
		ProvideSignalStore,
		ProvideModelStore,
		ProvideSignalPublisher,

		// Models and signals
		ProvideFeatureExtractor,
		ProvidePredictorFactory,
		ProvideLifecycle,
		ProvideSynthesizer,
		ProvideEngine,

		// Ingestion
		ProvidePipeline,
		ProvideBarCollector,
		ProvideKafkaConsumer,
		ProvideKafkaBarsHandler,
		ProvideTrainQueue,

		// HTTP
		ProvideLimiter,
		ProvideHTTPServer,

		ProvideApp,
	)
	return nil, nil, nil
}
