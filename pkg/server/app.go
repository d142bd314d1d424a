package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"CripteX/internal/handler/ws"
	mid "CripteX/internal/middleware"
	icache "CripteX/internal/service/cache"
	"CripteX/internal/usecase"
	"CripteX/pkg/config"
	xhttp "CripteX/pkg/http"
	pkgkafka "CripteX/pkg/kafka"
	applogger "CripteX/pkg/logger"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	sched      *usecase.RefreshScheduler
	httpServer *xhttp.Server

	// optional, nil when the backing service is disabled
	hub         *ws.Hub
	fanout      *mid.SnapshotFanout
	consumer    *pkgkafka.Consumer
	predictions *usecase.PredictionsHandler
	producer    *pkgkafka.Producer
	redis       *icache.RedisCache
	cache       icache.BytesCache

	cancel    context.CancelFunc
	unsubHub  func()
	consuming bool
}

// Components groups what New needs. Optional fields may be nil.
type Components struct {
	Scheduler   *usecase.RefreshScheduler
	HTTPServer  *xhttp.Server
	Hub         *ws.Hub
	Fanout      *mid.SnapshotFanout
	Consumer    *pkgkafka.Consumer
	Predictions *usecase.PredictionsHandler
	Producer    *pkgkafka.Producer
	Redis       *icache.RedisCache
	Cache       icache.BytesCache
}

// New creates a new App instance with all dependencies.
func New(cfg *config.Config, l *applogger.Logger, c Components) *App {
	return &App{
		cfg:         cfg,
		log:         l,
		sched:       c.Scheduler,
		httpServer:  c.HTTPServer,
		hub:         c.Hub,
		fanout:      c.Fanout,
		consumer:    c.Consumer,
		predictions: c.Predictions,
		producer:    c.Producer,
		redis:       c.Redis,
		cache:       c.Cache,
	}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	a.log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	return a.Shutdown(shutdownCtx)
}

// Start launches every component and attaches the refresh scheduler last,
// so the first committed snapshot reaches all subscribers.
func (a *App) Start(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	a.cancel = cancel

	if a.producer != nil {
		a.log.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   a.cfg.Diagnostics.FlushInterval,
			CountThreshold: a.cfg.Diagnostics.CountThreshold,
			Topic:          a.cfg.Kafka.DiagnosticsTopic,
			Publisher:      a.producer,
		})
	}

	if a.hub != nil {
		go a.hub.Run(ctx)
		a.unsubHub = a.sched.Subscribe(a.hub.Broadcast)
	}

	if a.fanout != nil {
		a.fanout.Start(ctx)
	}

	if a.consumer != nil && a.predictions != nil {
		a.consumer.RegisterHandler(a.predictions)
		if err := a.consumer.Start(); err != nil {
			a.log.Error("kafka consumer start", applogger.Error(err))
		} else {
			a.consuming = true
			a.log.Info("predictions consumer started", applogger.String("topic", a.predictions.Topic()))
		}
	}

	if err := a.httpServer.Start(); err != nil {
		cancel()
		return fmt.Errorf("http server: %w", err)
	}

	if err := a.sched.Attach(ctx); err != nil {
		cancel()
		return fmt.Errorf("refresh scheduler: %w", err)
	}

	a.log.Info("criptex started",
		applogger.String("env", a.cfg.Environment),
		applogger.String("feed", a.cfg.MarketFeed.URL),
		applogger.Duration("refresh_interval_ms", a.cfg.Refresh.Interval),
		applogger.Bool("kafka", a.producer != nil),
		applogger.Bool("redis", a.redis != nil))
	return nil
}

// Addr is the bound HTTP address once Start succeeded.
func (a *App) Addr() string {
	if addr := a.httpServer.Addr(); addr != nil {
		return addr.String()
	}
	return ""
}

// Shutdown stops the scheduler first so nothing new is fetched, then drains
// the outbound paths and closes infrastructure clients.
func (a *App) Shutdown(ctx context.Context) error {
	a.log.Info("shutting down...")
	var errs []error

	a.sched.Detach()
	if a.unsubHub != nil {
		a.unsubHub()
	}

	if err := a.httpServer.Stop(ctx); err != nil {
		errs = append(errs, err)
	}

	if a.fanout != nil {
		a.fanout.Stop()
	}

	if a.consuming {
		if err := a.consumer.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if a.cancel != nil {
		a.cancel()
	}

	// flush diagnostics before the producer goes away
	a.log.RemoveCollector()

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kafka producer: %w", err))
		}
	}
	if cl, ok := a.cache.(io.Closer); ok {
		if err := cl.Close(); err != nil {
			errs = append(errs, fmt.Errorf("response cache: %w", err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		a.log.Error("shutdown incomplete", applogger.Error(err))
		return err
	}
	a.log.Info("shutdown complete")
	return nil
}
