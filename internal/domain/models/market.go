package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MarketRecord is one normalized market entry. Records are never mutated once
// built; a refresh produces a fresh slice.
type MarketRecord struct {
	Symbol           string          `json:"symbol"`
	CurrentPrice     decimal.Decimal `json:"current_price"`
	ChangePercent24h decimal.Decimal `json:"price_change_percentage_24h"`
	Volume24h        decimal.Decimal `json:"volume_24h"`
	MarketCap        decimal.Decimal `json:"market_cap"`
}

// FeedSnapshot is the bundle readers see. It is replaced as a whole, never patched.
type FeedSnapshot struct {
	Records   []MarketRecord `json:"records"`
	FetchedAt time.Time      `json:"fetched_at"`
	Loading   bool           `json:"loading"`
	// Cycle is the id of the refresh cycle whose records are held (0 = none yet).
	Cycle uint64 `json:"cycle"`
}

// Find returns the record for symbol, compared case-insensitively.
func (s FeedSnapshot) Find(symbol string) (MarketRecord, bool) {
	for _, r := range s.Records {
		if strings.EqualFold(r.Symbol, symbol) {
			return r, true
		}
	}
	return MarketRecord{}, false
}
