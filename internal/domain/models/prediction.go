package models

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Direction of a prediction signal.
type Direction string

const (
	Bullish Direction = "BULLISH"
	Bearish Direction = "BEARISH"
)

// PredictionRecord is a finished signal produced outside this service.
type PredictionRecord struct {
	Symbol            string    `json:"symbol" validate:"required"`
	Direction         Direction `json:"direction" validate:"required,oneof=BULLISH BEARISH"`
	ConfidencePercent float64   `json:"confidence" validate:"gte=0,lte=100"`
	Timeframe         string    `json:"timeframe" validate:"required,oneof=5m 15m 1h 4h 24h 1d"`
	TargetDelta       string    `json:"target" validate:"required"`
	EntryPrice        string    `json:"entry_price" validate:"required"`
}

var predictionValidator = validator.New()

// Validate checks the record against its field constraints.
func (p PredictionRecord) Validate() error {
	if err := predictionValidator.Struct(p); err != nil {
		return fmt.Errorf("prediction %q: %w", p.Symbol, err)
	}
	return nil
}

// MarketPrediction joins a prediction with the live market record of its symbol.
type MarketPrediction struct {
	PredictionRecord
	Market *MarketRecord `json:"market,omitempty"`
}

// MarketOverview is what a market overview screen renders.
type MarketOverview struct {
	Snapshot    FeedSnapshot       `json:"snapshot"`
	Predictions []MarketPrediction `json:"predictions"`
}
