package models

// Requests for the market overview HTTP endpoints.

type MarketsRequest struct {
	Symbols string `query:"symbols" json:"symbols"`
	Limit   int    `query:"limit" json:"limit" default:"100" validate:"gte=1,lte=500"`
}

type MarketRequest struct {
	Symbol string `param:"symbol" json:"symbol" validate:"required,max=32"`
}

type ChartRequest struct {
	Symbol    string `param:"symbol" json:"symbol" validate:"required,max=32"`
	Timeframe string `query:"timeframe" json:"timeframe" default:"1h" validate:"oneof=5m 15m 1h 4h 24h 1d"`
}

type PredictionsRequest struct {
	Direction string `query:"direction" json:"direction" validate:"omitempty,oneof=BULLISH BEARISH"`
	Timeframe string `query:"timeframe" json:"timeframe" validate:"omitempty,oneof=5m 15m 1h 4h 24h 1d"`
	Symbol    string `query:"symbol" json:"symbol" validate:"omitempty,max=32"`
	Limit     int    `query:"limit" json:"limit" default:"50" validate:"gte=1,lte=200"`
}

type OverviewRequest struct {
	Direction string `query:"direction" json:"direction" validate:"omitempty,oneof=BULLISH BEARISH"`
	Limit     int    `query:"limit" json:"limit" default:"20" validate:"gte=1,lte=200"`
}
