package middleware

import (
	"context"
	"sync"
	"time"

	"CripteX/internal/domain/models"
	domrepo "CripteX/internal/domain/repository"
	applogger "CripteX/pkg/logger"
)

// SnapshotSource is the part of the refresh scheduler the fan-out needs.
type SnapshotSource interface {
	Subscribe(fn func(models.FeedSnapshot)) (unsubscribe func())
}

// SnapshotFanout sits between the scheduler and downstream publishers.
// It forwards only snapshots that carry a newly committed cycle, buffers them
// when the publisher fails and retries with capped backoff. The scheduler
// callback never blocks.
type SnapshotFanout struct {
	src        SnapshotSource
	pub        domrepo.SnapshotPublisher
	metrics    domrepo.Metrics
	log        *applogger.Logger
	backend    string
	bufSize    int
	retryMax   int
	backoffMin time.Duration
	backoffMax time.Duration

	bufCh       chan models.FeedSnapshot
	stopCh      chan struct{}
	done        chan struct{}
	unsubscribe func()

	mu        sync.Mutex
	started   bool
	forwarded uint64 // last cycle accepted into the buffer
}

type FanoutOption func(*SnapshotFanout)

// WithFanoutBuffer sets how many snapshots may wait for the publisher.
func WithFanoutBuffer(n int) FanoutOption {
	return func(f *SnapshotFanout) {
		if n > 0 {
			f.bufSize = n
		}
	}
}

// WithFanoutRetry sets retry attempts per snapshot and the backoff bounds.
func WithFanoutRetry(max int, min, capDelay time.Duration) FanoutOption {
	return func(f *SnapshotFanout) {
		if max >= 0 {
			f.retryMax = max
		}
		if min > 0 {
			f.backoffMin = min
		}
		if capDelay > 0 {
			f.backoffMax = capDelay
		}
	}
}

// WithFanoutBackend labels sent-message metrics.
func WithFanoutBackend(name string) FanoutOption {
	return func(f *SnapshotFanout) {
		if name != "" {
			f.backend = name
		}
	}
}

func NewSnapshotFanout(src SnapshotSource, pub domrepo.SnapshotPublisher, metrics domrepo.Metrics, l *applogger.Logger, opts ...FanoutOption) *SnapshotFanout {
	if l == nil {
		l = applogger.NewNop()
	}
	f := &SnapshotFanout{
		src:        src,
		pub:        pub,
		metrics:    metrics,
		log:        l.With(applogger.String("component", "snapshot_fanout")),
		backend:    "kafka",
		bufSize:    64,
		retryMax:   5,
		backoffMin: 50 * time.Millisecond,
		backoffMax: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.backoffMax < f.backoffMin {
		f.backoffMax = f.backoffMin
	}
	return f
}

// Start subscribes to the source and launches the publishing loop.
func (f *SnapshotFanout) Start(ctx context.Context) {
	f.mu.Lock()
	if f.started {
		f.mu.Unlock()
		return
	}
	f.started = true
	f.bufCh = make(chan models.FeedSnapshot, f.bufSize)
	f.stopCh = make(chan struct{})
	f.done = make(chan struct{})
	f.mu.Unlock()

	go f.loop(ctx)
	f.unsubscribe = f.src.Subscribe(f.offer)
}

// Stop unsubscribes and waits for the loop to exit. Buffered snapshots that
// were not yet published are dropped.
func (f *SnapshotFanout) Stop() {
	f.mu.Lock()
	if !f.started {
		f.mu.Unlock()
		return
	}
	f.started = false
	f.mu.Unlock()

	if f.unsubscribe != nil {
		f.unsubscribe()
	}
	close(f.stopCh)
	<-f.done
}

// offer is the scheduler callback. It runs under the scheduler's lock and
// must not block.
func (f *SnapshotFanout) offer(s models.FeedSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.started || s.Cycle == 0 || s.Cycle <= f.forwarded {
		return
	}

	select {
	case f.bufCh <- s:
		f.forwarded = s.Cycle
		f.metrics.RecordLatency("fanout_buffer_depth", float64(len(f.bufCh)))
	default:
		f.metrics.RecordError("fanout_buffer_full")
		f.log.Warn("fanout buffer full, snapshot dropped", applogger.Uint64("cycle", s.Cycle))
	}
}

func (f *SnapshotFanout) loop(ctx context.Context) {
	defer close(f.done)
	for {
		select {
		case <-f.stopCh:
			return
		case <-ctx.Done():
			return
		case s := <-f.bufCh:
			f.publish(ctx, s)
		}
	}
}

func (f *SnapshotFanout) publish(ctx context.Context, s models.FeedSnapshot) {
	backoff := f.backoffMin
	for attempt := 0; ; attempt++ {
		start := time.Now()
		err := f.pub.Publish(ctx, s)
		if err == nil {
			f.metrics.RecordLatency("fanout_publish", time.Since(start).Seconds())
			for _, r := range s.Records {
				f.metrics.RecordMessageSent(f.backend, r.Symbol)
			}
			return
		}

		f.metrics.RecordError("fanout_publish")
		if attempt >= f.retryMax {
			f.log.Error("publish snapshot",
				applogger.Uint64("cycle", s.Cycle),
				applogger.Int("attempts", attempt+1),
				applogger.Error(err))
			return
		}

		select {
		case <-time.After(backoff):
		case <-f.stopCh:
			return
		case <-ctx.Done():
			return
		}
		if backoff < f.backoffMax {
			backoff *= 2
			if backoff > f.backoffMax {
				backoff = f.backoffMax
			}
		}
	}
}
