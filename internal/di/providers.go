package di

import (
	"context"
	"fmt"
	"strings"
	"time"

	"CripteX/internal/domain/models"
	"CripteX/internal/domain/repository"
	"CripteX/internal/handler/api"
	"CripteX/internal/handler/ws"
	mid "CripteX/internal/middleware"
	internalrepo "CripteX/internal/repository"
	icache "CripteX/internal/service/cache"
	"CripteX/internal/service/marketfeed"
	svcmetrics "CripteX/internal/service/metrics"
	"CripteX/internal/service/ratelimit"
	"CripteX/internal/usecase"
	"CripteX/pkg/config"
	xhttp "CripteX/pkg/http"
	pkgkafka "CripteX/pkg/kafka"
	applogger "CripteX/pkg/logger"
	"CripteX/pkg/metrics"
	"CripteX/pkg/server"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	kafkago "github.com/segmentio/kafka-go"
)

// ProvideLogger creates the root logger from the log section.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l, nil
}

// ProvideRegistry creates the registry every collector of this process lives on.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(reg prometheus.Registerer) repository.Metrics {
	return metrics.New(reg)
}

// ProvideCacheMetrics creates the response cache counters.
func ProvideCacheMetrics(reg prometheus.Registerer) *svcmetrics.CacheMetrics {
	return svcmetrics.NewCacheMetrics(reg)
}

// ProvideMarketFeedClient creates the HTTP client used for snapshots and charts.
func ProvideMarketFeedClient(cfg *config.Config, l *applogger.Logger) *marketfeed.Client {
	return marketfeed.New(marketfeed.Config{
		URL:          cfg.MarketFeed.URL,
		Format:       cfg.MarketFeed.Format,
		Coins:        cfg.MarketFeed.Coins,
		VsCurrency:   cfg.MarketFeed.VsCurrency,
		APIKey:       cfg.MarketFeed.APIKey,
		APIKeyHeader: cfg.MarketFeed.APIKeyHeader,
		Timeout:      cfg.MarketFeed.Timeout,
		ChartURL:     cfg.MarketFeed.ChartURL,
		Logger:       l,
	})
}

// ProvideMarketFeed exposes the client as the scheduler's feed.
func ProvideMarketFeed(c *marketfeed.Client) repository.MarketFeed {
	return c
}

// ProvideRefreshScheduler creates the inactive scheduler; the app attaches it.
func ProvideRefreshScheduler(feed repository.MarketFeed, m repository.Metrics, l *applogger.Logger, cfg *config.Config) *usecase.RefreshScheduler {
	return usecase.NewRefreshScheduler(feed, m, l, usecase.WithInterval(cfg.Refresh.Interval))
}

// ProvidePredictionBoard creates the board and installs the configured seed list.
func ProvidePredictionBoard(cfg *config.Config, l *applogger.Logger) (*usecase.PredictionBoard, error) {
	board := usecase.NewPredictionBoard(l)
	if len(cfg.Predictions.Seed) == 0 {
		return board, nil
	}

	seed := make([]models.PredictionRecord, len(cfg.Predictions.Seed))
	for i, s := range cfg.Predictions.Seed {
		seed[i] = models.PredictionRecord{
			Symbol:            s.Symbol,
			Direction:         models.Direction(strings.ToUpper(s.Direction)),
			ConfidencePercent: s.Confidence,
			Timeframe:         s.Timeframe,
			TargetDelta:       s.Target,
			EntryPrice:        s.EntryPrice,
		}
	}
	if err := board.Replace(seed); err != nil {
		return nil, fmt.Errorf("predictions seed: %w", err)
	}
	return board, nil
}

// ProvideMarketOverview creates the snapshot and predictions join.
func ProvideMarketOverview(sched *usecase.RefreshScheduler, board *usecase.PredictionBoard) *usecase.MarketOverview {
	return usecase.NewMarketOverview(sched, board)
}

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config, reg prometheus.Registerer) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	pkgkafka.SetMetricsRegisterer(reg)

	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideSnapshotPublisher publishes snapshots to Kafka, or drops them when
// Kafka is disabled.
func ProvideSnapshotPublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.SnapshotPublisher {
	if producer == nil {
		return internalrepo.NopSnapshotPublisher{}
	}
	return internalrepo.NewKafkaSnapshotPublisher(producer, cfg.Kafka.SnapshotTopic)
}

// ProvideSnapshotFanout creates the scheduler to publisher bridge, or nil when
// Kafka is disabled.
func ProvideSnapshotFanout(
	sched *usecase.RefreshScheduler,
	pub repository.SnapshotPublisher,
	m repository.Metrics,
	l *applogger.Logger,
	cfg *config.Config,
) *mid.SnapshotFanout {
	if !cfg.Kafka.Enabled {
		return nil
	}
	return mid.NewSnapshotFanout(sched, pub, m, l,
		mid.WithFanoutBuffer(cfg.Kafka.Fanout.BufferSize),
		mid.WithFanoutRetry(cfg.Kafka.Fanout.RetryMax, cfg.Kafka.Fanout.BackoffMin, cfg.Kafka.Fanout.BackoffMax),
	)
}

// ProvideKafkaConsumer creates a Kafka consumer, or nil when Kafka or the
// predictions topic is disabled.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger, reg prometheus.Registerer, m repository.Metrics) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled || !cfg.Predictions.Enabled {
		return nil, nil
	}
	pkgkafka.SetMetricsRegisterer(reg)

	consumer, err := pkgkafka.NewConsumer(l,
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.NewHookChain(
		pkgkafka.LoggingHook(l),
		pkgkafka.HookFuncs{
			Err: func(_ context.Context, topic string, _ kafkago.Message, _ []byte, _ error) {
				m.RecordError("consume_" + topic)
			},
		},
	))
	return consumer, nil
}

// ProvidePredictionsHandler handles whole-list replacements from the predictions topic.
func ProvidePredictionsHandler(cfg *config.Config, board *usecase.PredictionBoard, m repository.Metrics) *usecase.PredictionsHandler {
	return usecase.NewPredictionsHandler(cfg.Predictions.Topic, board, m)
}

// ProvideRedisCache creates the shared cache, or nil when Redis is disabled.
// An unreachable Redis is logged; lookups then degrade to the local layer.
func ProvideRedisCache(cfg *config.Config, l *applogger.Logger) *icache.RedisCache {
	if !cfg.Redis.Enabled {
		return nil
	}
	rc := icache.NewRedisCache(icache.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rc.Ping(ctx); err != nil {
		l.Warn("redis unreachable, using local cache until it recovers",
			applogger.String("addr", cfg.Redis.Addr), applogger.Error(err))
	}
	return rc
}

// ProvideResponseCache layers a local TTL cache over Redis when available.
// The local layer is swept once per cache TTL; the app closes it on shutdown.
func ProvideResponseCache(cfg *config.Config, rc *icache.RedisCache, m *svcmetrics.CacheMetrics) icache.BytesCache {
	sweep := icache.WithCleanupInterval(cfg.Predictions.CacheTTL)
	if rc == nil {
		return icache.NewInstrumented(icache.NewTTLCache(cfg.Predictions.CacheTTL, sweep), "local", m)
	}
	l1TTL := cfg.Predictions.CacheTTL / 2
	return icache.NewInstrumented(icache.NewLayered(rc, l1TTL, sweep), "layered", m)
}

// ProvideOverviewLimiter creates the per-client limiter of GET /api/overview.
func ProvideOverviewLimiter(cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.New(cfg.Overview.RatePerSecond, cfg.Overview.Burst)
}

// ProvideMarketsHandler creates the read API.
func ProvideMarketsHandler(
	l *applogger.Logger,
	sched *usecase.RefreshScheduler,
	board *usecase.PredictionBoard,
	overview *usecase.MarketOverview,
	cache icache.BytesCache,
	limiter *ratelimit.Limiter,
	feed *marketfeed.Client,
	cfg *config.Config,
) *api.MarketsEchoHandler {
	var opts []api.MarketsHandlerOption
	if cfg.MarketFeed.ChartURL != "" {
		opts = append(opts, api.WithChartSource(feed))
	}
	return api.NewMarketsEchoHandler(l, sched, board, overview, cache, cfg.Predictions.CacheTTL, limiter, opts...)
}

// ProvideHub creates the WebSocket hub, or nil when push is disabled.
func ProvideHub(cfg *config.Config, sched *usecase.RefreshScheduler, l *applogger.Logger) *ws.Hub {
	if !cfg.WebSocket.Enabled {
		return nil
	}
	return ws.NewHub(sched, l,
		ws.WithWriteTimeout(cfg.WebSocket.WriteTimeout),
		ws.WithPingInterval(cfg.WebSocket.PingInterval),
		ws.WithSendBuffer(cfg.WebSocket.SendBuffer),
	)
}

// ProvideHTTPServer creates the Echo server with every route registered.
func ProvideHTTPServer(
	cfg *config.Config,
	l *applogger.Logger,
	reg *prometheus.Registry,
	markets *api.MarketsEchoHandler,
	hub *ws.Hub,
) *xhttp.Server {
	routes := []xhttp.Handler{markets}
	if hub != nil {
		routes = append(routes, xhttp.HandlerFunc(func(e *echo.Echo) {
			e.GET(cfg.WebSocket.Path, hub.Handle)
		}))
	}

	opts := []xhttp.ServerOption{
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithSlowRequest(cfg.Server.SlowRequest),
		xhttp.WithLogger(l),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetrics(cfg.Metrics.Path, reg, reg))
	}
	return xhttp.NewServer(xhttp.Compose(routes...), opts...)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	sched *usecase.RefreshScheduler,
	httpServer *xhttp.Server,
	hub *ws.Hub,
	fanout *mid.SnapshotFanout,
	consumer *pkgkafka.Consumer,
	predictions *usecase.PredictionsHandler,
	producer *pkgkafka.Producer,
	rc *icache.RedisCache,
	cache icache.BytesCache,
) *server.App {
	return server.New(cfg, l, server.Components{
		Scheduler:   sched,
		HTTPServer:  httpServer,
		Hub:         hub,
		Fanout:      fanout,
		Consumer:    consumer,
		Predictions: predictions,
		Producer:    producer,
		Redis:       rc,
		Cache:       cache,
	})
}
