package usecase

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"CripteX/internal/domain/models"
	drepo "CripteX/internal/domain/repository"
	applogger "CripteX/pkg/logger"
)

// PredictionFilter narrows a board listing. Zero values match everything.
type PredictionFilter struct {
	Direction models.Direction
	Timeframe string
	Symbol    string
	Limit     int
}

type predictionList struct {
	records   []models.PredictionRecord
	version   uint64
	updatedAt time.Time
}

// PredictionBoard holds the externally ranked prediction list. The list is
// swapped as a whole; readers never observe a partial replacement.
type PredictionBoard struct {
	log  *applogger.Logger
	list atomic.Pointer[predictionList]
}

func NewPredictionBoard(l *applogger.Logger) *PredictionBoard {
	if l == nil {
		l = applogger.NewNop()
	}
	b := &PredictionBoard{log: l.With(applogger.String("component", "prediction_board"))}
	b.list.Store(&predictionList{})
	return b
}

// Replace validates every record and installs the list in the given order.
// One invalid record rejects the whole list and keeps the current one.
func (b *PredictionBoard) Replace(records []models.PredictionRecord) error {
	var errs []error
	for i, p := range records {
		if err := p.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("record %d: %w", i, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	cp := make([]models.PredictionRecord, len(records))
	copy(cp, records)

	for {
		cur := b.list.Load()
		next := &predictionList{records: cp, version: cur.version + 1, updatedAt: time.Now()}
		if b.list.CompareAndSwap(cur, next) {
			b.log.Info("predictions replaced",
				applogger.Int("count", len(cp)),
				applogger.Uint64("version", next.version))
			return nil
		}
	}
}

// List returns matching predictions in ranking order.
func (b *PredictionBoard) List(f PredictionFilter) []models.PredictionRecord {
	cur := b.list.Load()
	tf := drepo.Timeframe(f.Timeframe)
	if tf != "" && !drepo.IsValidTimeframe(tf) {
		return []models.PredictionRecord{}
	}

	out := make([]models.PredictionRecord, 0, len(cur.records))
	for _, p := range cur.records {
		if f.Direction != "" && p.Direction != f.Direction {
			continue
		}
		if tf != "" && !drepo.SameHorizon(tf, drepo.Timeframe(p.Timeframe)) {
			continue
		}
		if f.Symbol != "" && !strings.EqualFold(f.Symbol, p.Symbol) {
			continue
		}
		out = append(out, p)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

// Version increases on every successful Replace.
func (b *PredictionBoard) Version() uint64 {
	return b.list.Load().version
}

// UpdatedAt is the time of the last successful Replace, zero if none.
func (b *PredictionBoard) UpdatedAt() time.Time {
	return b.list.Load().updatedAt
}
