package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"CripteX/internal/domain/models"
	drepo "CripteX/internal/domain/repository"
	applogger "CripteX/pkg/logger"
	"CripteX/pkg/metrics"
)

// DefaultRefreshInterval is the periodic trigger cadence.
const DefaultRefreshInterval = 30 * time.Second

var (
	ErrAlreadyAttached = errors.New("refresh scheduler already attached")
	ErrDetached        = errors.New("refresh scheduler detached")
)

// SchedulerState is the lifecycle position of a RefreshScheduler.
type SchedulerState int

const (
	StateInactive SchedulerState = iota
	StateActive
	StateDetached
)

func (s SchedulerState) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateActive:
		return "active"
	case StateDetached:
		return "detached"
	default:
		return "unknown"
	}
}

// SchedulerStats is a point-in-time view of the scheduler bookkeeping.
type SchedulerStats struct {
	State     string `json:"state"`
	Issued    uint64 `json:"issued_cycles"`
	Committed uint64 `json:"committed_cycle"`
}

type SchedulerOption func(*RefreshScheduler)

// WithInterval overrides the periodic trigger interval.
func WithInterval(d time.Duration) SchedulerOption {
	return func(s *RefreshScheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// RefreshScheduler fetches market data on attach and then on every tick,
// and holds the current FeedSnapshot.
//
// Cycles are numbered from 1. A successful cycle is committed only when its
// id is above the last committed id, so late answers from older cycles never
// overwrite newer data. Loading clears only when the latest issued cycle
// resolves. After Detach every resolution is discarded.
type RefreshScheduler struct {
	feed     drepo.MarketFeed
	metrics  drepo.Metrics
	log      *applogger.Logger
	interval time.Duration
	now      func() time.Time

	mu        sync.Mutex
	state     SchedulerState
	issued    uint64
	committed uint64
	ctx       context.Context
	cancel    context.CancelFunc
	listeners map[uint64]func(models.FeedSnapshot)
	nextSub   uint64

	snap atomic.Pointer[models.FeedSnapshot]
}

// NewRefreshScheduler creates an inactive scheduler whose snapshot is empty and loading.
func NewRefreshScheduler(feed drepo.MarketFeed, m drepo.Metrics, l *applogger.Logger, opts ...SchedulerOption) *RefreshScheduler {
	if l == nil {
		l = applogger.NewNop()
	}
	s := &RefreshScheduler{
		feed:      feed,
		metrics:   m,
		log:       l.With(applogger.String("component", "refresh_scheduler")),
		interval:  DefaultRefreshInterval,
		now:       time.Now,
		listeners: make(map[uint64]func(models.FeedSnapshot)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.snap.Store(&models.FeedSnapshot{Records: []models.MarketRecord{}, Loading: true})
	return s
}

// Attach starts cycle 1 immediately and arms the periodic trigger.
// Cancelling ctx has the same effect as Detach.
func (s *RefreshScheduler) Attach(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateActive:
		s.mu.Unlock()
		return ErrAlreadyAttached
	case StateDetached:
		s.mu.Unlock()
		return ErrDetached
	}

	s.state = StateActive
	s.ctx, s.cancel = context.WithCancel(ctx)
	runCtx := s.ctx
	s.startCycleLocked()
	s.mu.Unlock()

	s.log.Info("refresh scheduler attached", applogger.Duration("interval_ms", s.interval))
	go s.run(runCtx)
	return nil
}

// Detach disarms the trigger and cancels in-flight fetches. It is terminal
// and safe to call more than once.
func (s *RefreshScheduler) Detach() {
	s.mu.Lock()
	if s.state == StateDetached {
		s.mu.Unlock()
		return
	}
	s.state = StateDetached
	if s.cancel != nil {
		s.cancel()
	}
	s.listeners = nil
	issued, committed := s.issued, s.committed
	s.mu.Unlock()

	s.log.Info("refresh scheduler detached",
		applogger.Uint64("issued", issued),
		applogger.Uint64("committed", committed))
}

// CurrentSnapshot returns the latest snapshot. Callers must not modify Records.
func (s *RefreshScheduler) CurrentSnapshot() models.FeedSnapshot {
	return *s.snap.Load()
}

// Subscribe registers fn to receive every replaced snapshot. fn runs while the
// scheduler holds its lock and must not block. Subscribing after Detach is a no-op.
func (s *RefreshScheduler) Subscribe(fn func(models.FeedSnapshot)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateDetached {
		return func() {}
	}
	s.nextSub++
	id := s.nextSub
	s.listeners[id] = fn

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Stats reports lifecycle state and cycle counters.
func (s *RefreshScheduler) Stats() SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SchedulerStats{State: s.state.String(), Issued: s.issued, Committed: s.committed}
}

func (s *RefreshScheduler) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Detach()
			return
		case <-ticker.C:
			s.refresh()
		}
	}
}

// refresh starts a new cycle without waiting for earlier ones.
func (s *RefreshScheduler) refresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return
	}
	s.startCycleLocked()
}

func (s *RefreshScheduler) startCycleLocked() {
	s.issued++
	id := s.issued

	next := *s.snap.Load()
	if !next.Loading {
		next.Loading = true
		s.storeLocked(&next)
	}

	go s.fetch(drepo.WithRefreshCycle(s.ctx, id), id)
}

func (s *RefreshScheduler) fetch(ctx context.Context, id uint64) {
	start := time.Now()
	records, err := s.feed.FetchMarkets(ctx)
	s.metrics.RecordLatency("fetch_markets", time.Since(start).Seconds())
	s.resolve(id, records, err)
}

func (s *RefreshScheduler) resolve(id uint64, records []models.MarketRecord, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateDetached {
		s.metrics.RecordCycle(metrics.CycleDetached)
		return
	}

	next := *s.snap.Load()
	changed := false
	var result, kind string

	switch {
	case err != nil:
		kind = "UNKNOWN"
		var fe *models.FetchError
		if errors.As(err, &fe) {
			kind = string(fe.Kind)
		}
		s.log.Error("market refresh failed",
			applogger.Uint64("cycle", id),
			applogger.String("kind", kind),
			applogger.Error(err))
		result = metrics.CycleFailed

	case id > s.committed:
		if records == nil {
			records = []models.MarketRecord{}
		}
		s.committed = id
		next.Records = records
		next.Cycle = id
		next.FetchedAt = s.now()
		changed = true
		result = metrics.CycleCommitted

	default:
		s.log.Debug("discarding stale cycle",
			applogger.Uint64("cycle", id),
			applogger.Uint64("committed", s.committed))
		result = metrics.CycleStale
	}

	if id == s.issued && next.Loading {
		next.Loading = false
		changed = true
	}

	if changed {
		s.storeLocked(&next)
	}

	// a counted cycle is always visible through CurrentSnapshot
	if kind != "" {
		s.metrics.RecordError(kind)
	}
	if result == metrics.CycleCommitted {
		for _, r := range records {
			s.metrics.RecordLastPrice(r.Symbol, r.CurrentPrice.InexactFloat64())
		}
	}
	s.metrics.RecordCycle(result)
}

func (s *RefreshScheduler) storeLocked(next *models.FeedSnapshot) {
	s.snap.Store(next)
	for _, fn := range s.listeners {
		fn(*next)
	}
}
