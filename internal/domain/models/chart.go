package models

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// ChartPoint is one sample of a chart series, encoded as [unix_ms, value].
type ChartPoint struct {
	Time  int64
	Value decimal.Decimal
}

func (p ChartPoint) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]interface{}{p.Time, p.Value})
}

func (p *ChartPoint) UnmarshalJSON(b []byte) error {
	var pair []decimal.Decimal
	if err := json.Unmarshal(b, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("chart point: want [time, value], got %d elements", len(pair))
	}
	p.Time = pair[0].IntPart()
	p.Value = pair[1]
	return nil
}

// MarketChart is the price history of one coin over a lookback window.
type MarketChart struct {
	Symbol     string       `json:"symbol"`
	CoinID     string       `json:"coin_id"`
	Timeframe  string       `json:"timeframe"`
	Days       int          `json:"days"`
	Prices     []ChartPoint `json:"prices"`
	Volumes    []ChartPoint `json:"volumes"`
	MarketCaps []ChartPoint `json:"market_caps"`
}
