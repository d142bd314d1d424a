package marketfeed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"CripteX/internal/domain/models"

	"github.com/shopspring/decimal"
)

// listItem is one entry of the list format. Absent or null numbers decode to zero.
type listItem struct {
	Symbol           string          `json:"symbol"`
	CurrentPrice     decimal.Decimal `json:"current_price"`
	ChangePercent24h decimal.Decimal `json:"price_change_percentage_24h"`
	Volume24h        decimal.Decimal `json:"volume_24h"`
	MarketCap        decimal.Decimal `json:"market_cap"`
}

// DecodeList normalizes a JSON array of market entries, keeping their order.
func DecodeList(body []byte) ([]models.MarketRecord, error) {
	var items []*listItem
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("decode market list: %w", err)
	}
	if items == nil {
		return nil, errors.New("decode market list: payload is not a list")
	}

	b := newBatch(len(items))
	for i, it := range items {
		if it == nil {
			return nil, fmt.Errorf("item %d: null entry", i)
		}
		err := b.add(i, models.MarketRecord{
			Symbol:           strings.TrimSpace(it.Symbol),
			CurrentPrice:     it.CurrentPrice,
			ChangePercent24h: it.ChangePercent24h,
			Volume24h:        it.Volume24h,
			MarketCap:        it.MarketCap,
		})
		if err != nil {
			return nil, err
		}
	}
	return b.records, nil
}

// DecodeCoinGecko normalizes a simple/price response:
//
//	{"bitcoin": {"usd": 1, "usd_24h_change": 2, "usd_24h_vol": 3, "usd_market_cap": 4}, ...}
//
// Object key order is preserved. "avalanche-2" becomes "AVALANCHE2".
func DecodeCoinGecko(body []byte, currency string) ([]models.MarketRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(body))

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("decode coingecko: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.New("decode coingecko: payload is not an object")
	}

	b := newBatch(16)
	for i := 0; dec.More(); i++ {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("decode coingecko: %w", err)
		}
		id, _ := tok.(string)

		var quote map[string]decimal.Decimal
		if err := dec.Decode(&quote); err != nil {
			return nil, fmt.Errorf("item %d (%s): %w", i, id, err)
		}

		err = b.add(i, models.MarketRecord{
			Symbol:           coinSymbol(id),
			CurrentPrice:     quote[currency],
			ChangePercent24h: quote[currency+"_24h_change"],
			Volume24h:        quote[currency+"_24h_vol"],
			MarketCap:        quote[currency+"_market_cap"],
		})
		if err != nil {
			return nil, err
		}
	}

	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("decode coingecko: %w", err)
	}
	return b.records, nil
}

// ChartSeries is the decoded body of a coins/{id}/market_chart response.
type ChartSeries struct {
	Prices     []models.ChartPoint `json:"prices"`
	Volumes    []models.ChartPoint `json:"total_volumes"`
	MarketCaps []models.ChartPoint `json:"market_caps"`
}

// DecodeChart normalizes a market_chart payload. Absent series decode to
// empty ones; a point that is not a [time, value] pair rejects the payload.
func DecodeChart(body []byte) (ChartSeries, error) {
	var s *ChartSeries
	if err := json.Unmarshal(body, &s); err != nil {
		return ChartSeries{}, fmt.Errorf("decode market chart: %w", err)
	}
	if s == nil {
		return ChartSeries{}, errors.New("decode market chart: payload is not an object")
	}
	if s.Prices == nil {
		s.Prices = []models.ChartPoint{}
	}
	if s.Volumes == nil {
		s.Volumes = []models.ChartPoint{}
	}
	if s.MarketCaps == nil {
		s.MarketCaps = []models.ChartPoint{}
	}
	return *s, nil
}

func coinSymbol(id string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(id), "-", ""))
}

// batch accumulates records and enforces per-snapshot invariants.
type batch struct {
	records []models.MarketRecord
	seen    map[string]struct{}
}

func newBatch(n int) *batch {
	return &batch{
		records: make([]models.MarketRecord, 0, n),
		seen:    make(map[string]struct{}, n),
	}
}

func (b *batch) add(i int, r models.MarketRecord) error {
	if r.Symbol == "" {
		return fmt.Errorf("item %d: missing symbol", i)
	}
	if _, dup := b.seen[r.Symbol]; dup {
		return fmt.Errorf("item %d: duplicate symbol %q", i, r.Symbol)
	}
	if r.CurrentPrice.IsNegative() || r.Volume24h.IsNegative() || r.MarketCap.IsNegative() {
		return fmt.Errorf("item %d (%s): negative price/volume/market cap", i, r.Symbol)
	}
	b.seen[r.Symbol] = struct{}{}
	b.records = append(b.records, r)
	return nil
}
