package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	models "CripteX/internal/domain/models"
	drepo "CripteX/internal/domain/repository"
	icache "CripteX/internal/service/cache"
	"CripteX/internal/service/ratelimit"
	"CripteX/internal/usecase"
	xhttp "CripteX/pkg/http"
	xlogger "CripteX/pkg/logger"

	"github.com/labstack/echo/v4"
)

// SchedulerView is what the HTTP layer reads from the refresh scheduler.
type SchedulerView interface {
	CurrentSnapshot() models.FeedSnapshot
	Stats() usecase.SchedulerStats
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	State              string    `json:"state"`
	Loading            bool      `json:"loading"`
	Cycle              uint64    `json:"cycle"`
	Issued             uint64    `json:"issued"`
	Committed          uint64    `json:"committed"`
	FetchedAt          time.Time `json:"fetched_at"`
	Records            int       `json:"records"`
	PredictionsVersion uint64    `json:"predictions_version"`
}

// MarketsEchoHandler serves the market overview read API.
type MarketsEchoHandler struct {
	logger   *xlogger.Logger
	sched    SchedulerView
	board    *usecase.PredictionBoard
	overview *usecase.MarketOverview
	cache    icache.BytesCache
	cacheTTL time.Duration
	limiter  *ratelimit.Limiter
	chart    drepo.ChartSource
}

// MarketsHandlerOption configures optional parts of MarketsEchoHandler.
type MarketsHandlerOption func(*MarketsEchoHandler)

// WithChartSource enables GET /api/markets/:symbol/chart.
func WithChartSource(src drepo.ChartSource) MarketsHandlerOption {
	return func(h *MarketsEchoHandler) { h.chart = src }
}

func NewMarketsEchoHandler(
	logger *xlogger.Logger,
	sched SchedulerView,
	board *usecase.PredictionBoard,
	overview *usecase.MarketOverview,
	cache icache.BytesCache,
	cacheTTL time.Duration,
	limiter *ratelimit.Limiter,
	opts ...MarketsHandlerOption,
) *MarketsEchoHandler {
	if logger == nil {
		logger = xlogger.NewNop()
	}
	h := &MarketsEchoHandler{
		logger:   logger.With(xlogger.String("component", "markets_api")),
		sched:    sched,
		board:    board,
		overview: overview,
		cache:    cache,
		cacheTTL: cacheTTL,
		limiter:  limiter,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *MarketsEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/markets", h.Markets)
	g.GET("/markets/:symbol", h.Market)
	g.GET("/markets/:symbol/chart", h.Chart)
	g.GET("/predictions", h.Predictions)
	g.GET("/overview", h.Overview)
	e.GET("/healthz", h.Health)
}

// Markets returns the current snapshot, optionally narrowed to a symbol list.
func (h *MarketsEchoHandler) Markets(c echo.Context) error {
	req := &models.MarketsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	snap := h.sched.CurrentSnapshot()
	want := symbolSet(req.Symbols)

	records := make([]models.MarketRecord, 0, len(snap.Records))
	for _, r := range snap.Records {
		if want != nil && !want[strings.ToUpper(r.Symbol)] {
			continue
		}
		records = append(records, r)
		if len(records) == req.Limit {
			break
		}
	}
	snap.Records = records

	c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
	return xhttp.SuccessResponse(c, snap)
}

// Market returns one record by symbol.
func (h *MarketsEchoHandler) Market(c echo.Context) error {
	req := &models.MarketRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	if r, ok := h.sched.CurrentSnapshot().Find(req.Symbol); ok {
		return xhttp.SuccessResponse(c, r)
	}
	return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("market %s not found", req.Symbol).WithParam("symbol", req.Symbol))
}

// Chart proxies the price history of one symbol from the chart provider.
// Bodies are cached per symbol and timeframe for the cache TTL.
func (h *MarketsEchoHandler) Chart(c echo.Context) error {
	if h.chart == nil {
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("market charts are not configured"))
	}

	req := &models.ChartRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	ctx := c.Request().Context()
	symbol := strings.ToUpper(req.Symbol)
	key := fmt.Sprintf("chart:%s:%s", symbol, req.Timeframe)

	if h.cache != nil {
		b, ok, err := h.cache.GetBytes(ctx, key)
		if err != nil {
			h.logger.Warn("chart cache get", xlogger.Error(err))
		}
		if ok {
			return c.JSONBlob(http.StatusOK, b)
		}
	}

	chart, err := h.chart.FetchChart(ctx, symbol, drepo.Timeframe(req.Timeframe))
	if err != nil {
		kind := "UNKNOWN"
		var fe *models.FetchError
		if errors.As(err, &fe) {
			kind = string(fe.Kind)
		}
		h.logger.Warn("market chart fetch",
			xlogger.String("symbol", symbol),
			xlogger.String("kind", kind),
			xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.BadGatewayError("chart provider unavailable").
			WithParam("symbol", symbol).
			WithParam("kind", kind).
			WithError(err))
	}

	body, err := json.Marshal(xhttp.APIResponse{
		Status:  http.StatusOK,
		Message: http.StatusText(http.StatusOK),
		Data:    chart,
	})
	if err != nil {
		h.logger.Error("encode chart", xlogger.Error(err))
		return xhttp.InternalServerErrorResponse(c)
	}

	if h.cache != nil {
		if err := h.cache.SetBytes(ctx, key, body, h.cacheTTL); err != nil {
			h.logger.Warn("chart cache set", xlogger.Error(err))
		}
	}
	return c.JSONBlob(http.StatusOK, body)
}

// Predictions lists the board. Rendered bodies are cached per query and
// board version, so a replaced list is never served from cache.
func (h *MarketsEchoHandler) Predictions(c echo.Context) error {
	req := &models.PredictionsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	ctx := c.Request().Context()
	key := fmt.Sprintf("predictions:v%d:%s:%s:%s:%d",
		h.board.Version(), req.Direction, req.Timeframe, strings.ToUpper(req.Symbol), req.Limit)

	if h.cache != nil {
		b, ok, err := h.cache.GetBytes(ctx, key)
		if err != nil {
			h.logger.Warn("predictions cache get", xlogger.Error(err))
		}
		if ok {
			return c.JSONBlob(http.StatusOK, b)
		}
	}

	rows := h.board.List(usecase.PredictionFilter{
		Direction: models.Direction(req.Direction),
		Timeframe: req.Timeframe,
		Symbol:    req.Symbol,
		Limit:     req.Limit,
	})
	body, err := json.Marshal(xhttp.APIResponse{
		Status:  http.StatusOK,
		Message: http.StatusText(http.StatusOK),
		Data:    &xhttp.ListDataResponse{Rows: rows, Total: len(rows)},
	})
	if err != nil {
		h.logger.Error("encode predictions", xlogger.Error(err))
		return xhttp.InternalServerErrorResponse(c)
	}

	if h.cache != nil {
		if err := h.cache.SetBytes(ctx, key, body, h.cacheTTL); err != nil {
			h.logger.Warn("predictions cache set", xlogger.Error(err))
		}
	}
	return c.JSONBlob(http.StatusOK, body)
}

// Overview joins predictions with live market records. Rate limited per client IP.
func (h *MarketsEchoHandler) Overview(c echo.Context) error {
	if h.limiter != nil && !h.limiter.Allow(c.RealIP()) {
		h.logger.Warn("overview rate limited", xlogger.String("remote", c.RealIP()))
		return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("too many requests"))
	}

	req := &models.OverviewRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	res := h.overview.Build(usecase.PredictionFilter{
		Direction: models.Direction(req.Direction),
		Limit:     req.Limit,
	})
	return xhttp.SuccessResponse(c, res)
}

// Health reports scheduler state. Anything but an active scheduler is 503.
func (h *MarketsEchoHandler) Health(c echo.Context) error {
	stats := h.sched.Stats()
	snap := h.sched.CurrentSnapshot()

	res := HealthResponse{
		State:              stats.State,
		Loading:            snap.Loading,
		Cycle:              snap.Cycle,
		Issued:             stats.Issued,
		Committed:          stats.Committed,
		FetchedAt:          snap.FetchedAt,
		Records:            len(snap.Records),
		PredictionsVersion: h.board.Version(),
	}

	status := http.StatusOK
	if stats.State != usecase.StateActive.String() {
		status = http.StatusServiceUnavailable
	}
	return xhttp.DataResponse(c, status, res)
}

func symbolSet(csv string) map[string]bool {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	set := make(map[string]bool)
	for _, s := range strings.Split(csv, ",") {
		if s = strings.TrimSpace(s); s != "" {
			set[strings.ToUpper(s)] = true
		}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}
