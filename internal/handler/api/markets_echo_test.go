package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	models "CripteX/internal/domain/models"
	icache "CripteX/internal/service/cache"
	"CripteX/internal/service/marketfeed"
	"CripteX/internal/service/ratelimit"
	"CripteX/internal/usecase"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

type fakeScheduler struct {
	snap  models.FeedSnapshot
	state string
}

func (f *fakeScheduler) CurrentSnapshot() models.FeedSnapshot { return f.snap }

func (f *fakeScheduler) Stats() usecase.SchedulerStats {
	return usecase.SchedulerStats{State: f.state, Issued: f.snap.Cycle, Committed: f.snap.Cycle}
}

type countingCache struct {
	icache.BytesCache
	hits int
}

func (c *countingCache) GetBytes(ctx context.Context, key string) ([]byte, bool, error) {
	b, ok, err := c.BytesCache.GetBytes(ctx, key)
	if ok {
		c.hits++
	}
	return b, ok, err
}

type envelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

type fixture struct {
	e     *echo.Echo
	sched *fakeScheduler
	board *usecase.PredictionBoard
	cache *countingCache
}

func newFixture(t *testing.T, limiter *ratelimit.Limiter, opts ...MarketsHandlerOption) *fixture {
	t.Helper()
	sched := &fakeScheduler{
		state: usecase.StateActive.String(),
		snap: models.FeedSnapshot{
			Records: []models.MarketRecord{
				{Symbol: "BTC", CurrentPrice: decimal.RequireFromString("64000")},
				{Symbol: "ETH", CurrentPrice: decimal.RequireFromString("3100")},
				{Symbol: "SOL", CurrentPrice: decimal.RequireFromString("150")},
			},
			Cycle: 4,
		},
	}
	board := usecase.NewPredictionBoard(nil)
	err := board.Replace([]models.PredictionRecord{
		{Symbol: "BTC", Direction: models.Bullish, ConfidencePercent: 80, Timeframe: "4h", TargetDelta: "+2%", EntryPrice: "$64,000"},
		{Symbol: "DOGE", Direction: models.Bearish, ConfidencePercent: 55, Timeframe: "1h", TargetDelta: "-3%", EntryPrice: "$0.12"},
	})
	if err != nil {
		t.Fatal(err)
	}
	cache := &countingCache{BytesCache: icache.NewTTLCache(time.Minute)}

	h := NewMarketsEchoHandler(nil, sched, board, usecase.NewMarketOverview(sched, board), cache, time.Minute, limiter, opts...)
	e := echo.New()
	h.RegisterRoutes(e)
	return &fixture{e: e, sched: sched, board: board, cache: cache}
}

func (f *fixture) get(t *testing.T, target string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.RemoteAddr = "192.0.2.10:5555"
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)

	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s: decode body %q: %v", target, rec.Body.String(), err)
	}
	return rec, env
}

func TestMarketsFiltersBySymbolsInSnapshotOrder(t *testing.T) {
	f := newFixture(t, nil)

	rec, env := f.get(t, "/api/markets?symbols=sol,btc")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var snap models.FeedSnapshot
	if err := json.Unmarshal(env.Data, &snap); err != nil {
		t.Fatal(err)
	}
	if len(snap.Records) != 2 || snap.Records[0].Symbol != "BTC" || snap.Records[1].Symbol != "SOL" {
		t.Fatalf("records = %+v", snap.Records)
	}
	if snap.Cycle != 4 {
		t.Fatalf("cycle = %d", snap.Cycle)
	}
}

func TestMarketsLimitValidation(t *testing.T) {
	f := newFixture(t, nil)

	rec, _ := f.get(t, "/api/markets?limit=1000")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	_, env := f.get(t, "/api/markets?limit=1")
	var snap models.FeedSnapshot
	if err := json.Unmarshal(env.Data, &snap); err != nil {
		t.Fatal(err)
	}
	if len(snap.Records) != 1 {
		t.Fatalf("records = %d, want 1", len(snap.Records))
	}
}

func TestMarketBySymbol(t *testing.T) {
	f := newFixture(t, nil)

	rec, env := f.get(t, "/api/markets/eth")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var r models.MarketRecord
	if err := json.Unmarshal(env.Data, &r); err != nil {
		t.Fatal(err)
	}
	if r.Symbol != "ETH" || !r.CurrentPrice.Equal(decimal.NewFromInt(3100)) {
		t.Fatalf("record = %+v", r)
	}

	rec, _ = f.get(t, "/api/markets/XRP")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing symbol status = %d, want 404", rec.Code)
	}
}

func TestPredictionsCachedPerBoardVersion(t *testing.T) {
	f := newFixture(t, nil)

	type list struct {
		Rows  []models.PredictionRecord `json:"rows"`
		Total int                       `json:"total"`
	}
	read := func() list {
		rec, env := f.get(t, "/api/predictions?direction=BULLISH")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var l list
		if err := json.Unmarshal(env.Data, &l); err != nil {
			t.Fatal(err)
		}
		return l
	}

	if l := read(); l.Total != 1 || l.Rows[0].Symbol != "BTC" {
		t.Fatalf("first read = %+v", l)
	}
	read()
	if f.cache.hits != 1 {
		t.Fatalf("cache hits = %d, want 1", f.cache.hits)
	}

	err := f.board.Replace([]models.PredictionRecord{
		{Symbol: "ETH", Direction: models.Bullish, ConfidencePercent: 70, Timeframe: "1d", TargetDelta: "+1%", EntryPrice: "$3,100"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if l := read(); l.Total != 1 || l.Rows[0].Symbol != "ETH" {
		t.Fatalf("read after replace = %+v", l)
	}
	if f.cache.hits != 1 {
		t.Fatalf("stale cache served after replace")
	}
}

func TestPredictionsRejectsUnknownDirection(t *testing.T) {
	f := newFixture(t, nil)
	rec, _ := f.get(t, "/api/predictions?direction=SIDEWAYS")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestOverviewJoinsAndRateLimits(t *testing.T) {
	f := newFixture(t, ratelimit.New(0.0001, 1))

	rec, env := f.get(t, "/api/overview")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var ov models.MarketOverview
	if err := json.Unmarshal(env.Data, &ov); err != nil {
		t.Fatal(err)
	}
	if len(ov.Predictions) != 2 {
		t.Fatalf("predictions = %d", len(ov.Predictions))
	}
	if ov.Predictions[0].Market == nil || ov.Predictions[0].Market.Symbol != "BTC" {
		t.Fatalf("BTC not joined: %+v", ov.Predictions[0])
	}
	if ov.Predictions[1].Market != nil {
		t.Fatalf("DOGE has no live record, got %+v", ov.Predictions[1].Market)
	}

	rec, _ = f.get(t, "/api/overview")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second call status = %d, want 429", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)

	rec, env := f.get(t, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var h HealthResponse
	if err := json.Unmarshal(env.Data, &h); err != nil {
		t.Fatal(err)
	}
	if h.State != "active" || h.Cycle != 4 || h.Records != 3 || h.PredictionsVersion != 1 {
		t.Fatalf("health = %+v", h)
	}

	f.sched.state = usecase.StateDetached.String()
	rec, _ = f.get(t, "/healthz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("detached status = %d, want 503", rec.Code)
	}
}

func chartProvider(t *testing.T, status int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"prices":[[1705276800000,45230.5]],"total_volumes":[[1705276800000,1542000000]],"market_caps":[]}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestChartProxiesAndCaches(t *testing.T) {
	srv, calls := chartProvider(t, http.StatusOK)
	src := marketfeed.New(marketfeed.Config{URL: srv.URL, ChartURL: srv.URL, Coins: []string{"bitcoin"}})
	f := newFixture(t, nil, WithChartSource(src))

	for i := 0; i < 2; i++ {
		rec, env := f.get(t, "/api/markets/bitcoin/chart?timeframe=1d")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
		}
		var chart struct {
			Symbol    string          `json:"symbol"`
			CoinID    string          `json:"coin_id"`
			Days      int             `json:"days"`
			Prices    [][]json.Number `json:"prices"`
			Volumes   [][]json.Number `json:"volumes"`
			MarketCap [][]json.Number `json:"market_caps"`
		}
		if err := json.Unmarshal(env.Data, &chart); err != nil {
			t.Fatal(err)
		}
		if chart.Symbol != "BITCOIN" || chart.CoinID != "bitcoin" || chart.Days != 365 {
			t.Fatalf("chart = %+v", chart)
		}
		if len(chart.Prices) != 1 || chart.Prices[0][0] != "1705276800000" || len(chart.Volumes) != 1 || chart.MarketCap == nil {
			t.Fatalf("series = %+v", chart)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("provider calls = %d, want 1", calls.Load())
	}
}

func TestChartErrors(t *testing.T) {
	srv, _ := chartProvider(t, http.StatusTooManyRequests)
	src := marketfeed.New(marketfeed.Config{URL: srv.URL, ChartURL: srv.URL})
	f := newFixture(t, nil, WithChartSource(src))

	rec, _ := f.get(t, "/api/markets/BTC/chart")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("upstream failure status = %d, want 502", rec.Code)
	}

	rec, _ = f.get(t, "/api/markets/BTC/chart?timeframe=1w")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad timeframe status = %d, want 400", rec.Code)
	}

	rec, _ = newFixture(t, nil).get(t, "/api/markets/BTC/chart")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("unconfigured status = %d, want 503", rec.Code)
	}
}
