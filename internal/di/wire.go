//go:build wireinject
// +build wireinject

package di

import (
	"CripteX/pkg/config"
	"CripteX/pkg/server"

	"github.com/google/wire"
	"github.com/prometheus/client_golang/prometheus"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideRegistry,
		wire.Bind(new(prometheus.Registerer), new(*prometheus.Registry)),
		ProvideMetrics,
		ProvideCacheMetrics,

		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideKafkaConsumer,
		ProvideRedisCache,

		// Repositories and services
		ProvideMarketFeedClient,
		ProvideMarketFeed,
		ProvideSnapshotPublisher,
		ProvideResponseCache,
		ProvideOverviewLimiter,

		// Use cases
		ProvideRefreshScheduler,
		ProvidePredictionBoard,
		ProvidePredictionsHandler,
		ProvideMarketOverview,
		ProvideSnapshotFanout,

		// Delivery
		ProvideMarketsHandler,
		ProvideHub,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
