package server

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"CripteX/internal/domain/models"
	icache "CripteX/internal/service/cache"
	"CripteX/internal/usecase"
	"CripteX/pkg/config"
	xhttp "CripteX/pkg/http"
	applogger "CripteX/pkg/logger"
	"CripteX/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

type staticFeed struct{}

func (staticFeed) FetchMarkets(context.Context) ([]models.MarketRecord, error) {
	return []models.MarketRecord{{Symbol: "BTC"}}, nil
}

type closingCache struct {
	*icache.TTLCache
	closed atomic.Int32
}

func (c *closingCache) Close() error {
	c.closed.Add(1)
	return c.TTLCache.Close()
}

func TestShutdownClosesResponseCache(t *testing.T) {
	l := applogger.NewNop()
	sched := usecase.NewRefreshScheduler(staticFeed{}, metrics.New(prometheus.NewRegistry()), l,
		usecase.WithInterval(time.Hour))
	srv := xhttp.NewServer(nil, xhttp.WithHost("127.0.0.1"), xhttp.WithPort(0))
	cache := &closingCache{TTLCache: icache.NewTTLCache(time.Minute)}

	app := New(&config.Config{}, l, Components{Scheduler: sched, HTTPServer: srv, Cache: cache})
	if err := app.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if got := cache.closed.Load(); got != 1 {
		t.Fatalf("cache closed %d times, want 1", got)
	}
	if st := sched.Stats().State; st != usecase.StateDetached.String() {
		t.Fatalf("scheduler state = %s", st)
	}
}
