package marketfeed

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"CripteX/internal/domain/models"
	drepo "CripteX/internal/domain/repository"
	xhttp "CripteX/pkg/http"
	applogger "CripteX/pkg/logger"
)

// Wire formats understood by the client.
const (
	FormatList      = "list"
	FormatCoinGecko = "coingecko"
)

// Config describes the fixed endpoint a Client talks to.
type Config struct {
	URL          string
	Format       string
	Coins        []string // coingecko ids, only used by FormatCoinGecko
	VsCurrency   string
	APIKey       string
	APIKeyHeader string
	Timeout      time.Duration
	// ChartURL is the coins base of a market_chart endpoint, e.g.
	// https://api.coingecko.com/api/v3/coins. Empty disables FetchChart.
	ChartURL string
	Logger   *applogger.Logger
}

// Client implements MarketFeed over a single HTTP GET.
type Client struct {
	cfg  Config
	http *xhttp.Client
	log  *applogger.Logger
}

// New creates a market feed client. Extra options are applied to the
// underlying HTTP client.
func New(cfg Config, opts ...xhttp.ClientOption) *Client {
	if cfg.Format == "" {
		cfg.Format = FormatList
	}
	if cfg.VsCurrency == "" {
		cfg.VsCurrency = "usd"
	}
	cfg.VsCurrency = strings.ToLower(cfg.VsCurrency)

	base := []xhttp.ClientOption{xhttp.WithTimeout(cfg.Timeout)}
	if cfg.APIKey != "" {
		header := cfg.APIKeyHeader
		if header == "" {
			header = "x-cg-demo-api-key"
		}
		base = append(base, xhttp.WithHeader(header, cfg.APIKey))
	}

	l := cfg.Logger
	if l == nil {
		l = applogger.NewNop()
	}

	return &Client{
		cfg:  cfg,
		http: xhttp.NewClient(append(base, opts...)...),
		log:  l.With(applogger.String("component", "market_feed")),
	}
}

// FetchMarkets performs one request and normalizes the payload.
// It never retries; every failure is a *models.FetchError.
func (c *Client) FetchMarkets(ctx context.Context) ([]models.MarketRecord, error) {
	start := time.Now()
	log := c.log.With(applogger.Uint64("cycle", drepo.RefreshCycle(ctx)))

	var body []byte
	if err := c.http.SendAndParse(ctx, c.request(), &body); err != nil {
		log.Debug("market feed request failed",
			applogger.Duration("duration_ms", time.Since(start)),
			applogger.Error(err))
		return nil, models.NetworkError(err)
	}

	records, err := c.decode(body)
	if err != nil {
		log.Debug("market feed payload rejected",
			applogger.Int("bytes", len(body)),
			applogger.Error(err))
		return nil, models.MalformedError(err)
	}

	log.Debug("market feed fetched",
		applogger.Int("records", len(records)),
		applogger.Duration("duration_ms", time.Since(start)))
	return records, nil
}

// FetchChart fetches prices, volumes and market caps of symbol over the
// lookback ChartDays(tf). The symbol resolves to a configured coin id when one
// matches, otherwise its lower-cased form is used as the id.
func (c *Client) FetchChart(ctx context.Context, symbol string, tf drepo.Timeframe) (models.MarketChart, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if tf == "" {
		tf = drepo.TF1h
	}
	chart := models.MarketChart{
		Symbol:    symbol,
		CoinID:    c.coinID(symbol),
		Timeframe: string(tf),
		Days:      drepo.ChartDays(tf),
	}

	if c.cfg.ChartURL == "" {
		return chart, models.NetworkError(errors.New("chart endpoint not configured"))
	}

	opts := &xhttp.RequestOptions{
		Method: xhttp.MethodGet,
		URL:    strings.TrimRight(c.cfg.ChartURL, "/") + "/" + url.PathEscape(chart.CoinID) + "/market_chart",
		QueryParams: map[string][]string{
			"vs_currency": {c.cfg.VsCurrency},
			"days":        {strconv.Itoa(chart.Days)},
		},
	}

	var body []byte
	if err := c.http.SendAndParse(ctx, opts, &body); err != nil {
		return chart, models.NetworkError(err)
	}

	series, err := DecodeChart(body)
	if err != nil {
		return chart, models.MalformedError(err)
	}
	chart.Prices = series.Prices
	chart.Volumes = series.Volumes
	chart.MarketCaps = series.MarketCaps

	c.log.Debug("market chart fetched",
		applogger.String("coin", chart.CoinID),
		applogger.Int("days", chart.Days),
		applogger.Int("points", len(chart.Prices)))
	return chart, nil
}

func (c *Client) coinID(symbol string) string {
	for _, id := range c.cfg.Coins {
		if coinSymbol(id) == symbol {
			return strings.TrimSpace(id)
		}
	}
	return strings.ToLower(symbol)
}

func (c *Client) request() *xhttp.RequestOptions {
	opts := &xhttp.RequestOptions{Method: xhttp.MethodGet, URL: c.cfg.URL}
	if c.cfg.Format == FormatCoinGecko {
		opts.QueryParams = map[string][]string{
			"ids":                 {strings.Join(c.cfg.Coins, ",")},
			"vs_currencies":       {c.cfg.VsCurrency},
			"include_24hr_change": {"true"},
			"include_24hr_vol":    {"true"},
			"include_market_cap":  {"true"},
		}
	}
	return opts
}

func (c *Client) decode(body []byte) ([]models.MarketRecord, error) {
	switch c.cfg.Format {
	case FormatCoinGecko:
		return DecodeCoinGecko(body, c.cfg.VsCurrency)
	case FormatList:
		return DecodeList(body)
	default:
		return nil, fmt.Errorf("unsupported format %q", c.cfg.Format)
	}
}

var (
	_ drepo.MarketFeed  = (*Client)(nil)
	_ drepo.ChartSource = (*Client)(nil)
)
