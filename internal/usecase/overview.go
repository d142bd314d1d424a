package usecase

import (
	"strings"

	"CripteX/internal/domain/models"
)

// SnapshotSource exposes the current market snapshot.
type SnapshotSource interface {
	CurrentSnapshot() models.FeedSnapshot
}

// MarketOverview merges the current snapshot with the prediction board.
type MarketOverview struct {
	snapshots SnapshotSource
	board     *PredictionBoard
}

func NewMarketOverview(snapshots SnapshotSource, board *PredictionBoard) *MarketOverview {
	return &MarketOverview{snapshots: snapshots, board: board}
}

// Build joins each listed prediction with the market record of the same
// symbol (case-insensitive). Predictions without a live record keep Market nil.
func (o *MarketOverview) Build(f PredictionFilter) models.MarketOverview {
	snap := o.snapshots.CurrentSnapshot()

	index := make(map[string]int, len(snap.Records))
	for i, r := range snap.Records {
		index[strings.ToUpper(r.Symbol)] = i
	}

	preds := o.board.List(f)
	out := make([]models.MarketPrediction, len(preds))
	for i, p := range preds {
		out[i] = models.MarketPrediction{PredictionRecord: p}
		if j, ok := index[strings.ToUpper(p.Symbol)]; ok {
			r := snap.Records[j]
			out[i].Market = &r
		}
	}

	return models.MarketOverview{Snapshot: snap, Predictions: out}
}
