package repository

import (
	"context"

	"CripteX/internal/domain/models"
)

// MarketFeed fetches one normalized batch of market records.
// Errors are always *models.FetchError. The context carries the refresh
// cycle that issued the fetch, see RefreshCycle.
type MarketFeed interface {
	FetchMarkets(ctx context.Context) ([]models.MarketRecord, error)
}

// ChartSource fetches the price history of one symbol.
// Errors are always *models.FetchError.
type ChartSource interface {
	FetchChart(ctx context.Context, symbol string, tf Timeframe) (models.MarketChart, error)
}

type refreshCycleKey struct{}

// WithRefreshCycle tags ctx with the refresh cycle id.
func WithRefreshCycle(ctx context.Context, id uint64) context.Context {
	return context.WithValue(ctx, refreshCycleKey{}, id)
}

// RefreshCycle returns the cycle id set by WithRefreshCycle, or 0.
func RefreshCycle(ctx context.Context) uint64 {
	id, _ := ctx.Value(refreshCycleKey{}).(uint64)
	return id
}

// SnapshotPublisher ships committed snapshots to downstream consumers.
type SnapshotPublisher interface {
	Publish(ctx context.Context, s models.FeedSnapshot) error
	Close() error
}

// Metrics records refresh and publish activity.
type Metrics interface {
	RecordCycle(result string)
	RecordMessageSent(backend, symbol string)
	RecordError(kind string)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
}
