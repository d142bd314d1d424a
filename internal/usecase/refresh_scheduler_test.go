package usecase

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"
	"time"

	"CripteX/internal/domain/models"
	drepo "CripteX/internal/domain/repository"
	"CripteX/internal/service/marketfeed"
	"CripteX/pkg/metrics"

	"github.com/shopspring/decimal"
)

type fetchResult struct {
	records []models.MarketRecord
	err     error
}

// pendingFeed blocks every fetch until the test resolves its cycle id.
type pendingFeed struct {
	mu      sync.Mutex
	pending map[uint64]chan fetchResult
}

func newPendingFeed() *pendingFeed {
	return &pendingFeed{pending: make(map[uint64]chan fetchResult)}
}

func (f *pendingFeed) slot(id uint64) chan fetchResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.pending[id]
	if !ok {
		ch = make(chan fetchResult, 1)
		f.pending[id] = ch
	}
	return ch
}

func (f *pendingFeed) FetchMarkets(ctx context.Context) ([]models.MarketRecord, error) {
	r := <-f.slot(drepo.RefreshCycle(ctx))
	return r.records, r.err
}

func (f *pendingFeed) resolve(id uint64, records []models.MarketRecord, err error) {
	f.slot(id) <- fetchResult{records: records, err: err}
}

type feedFunc func(ctx context.Context) ([]models.MarketRecord, error)

func (fn feedFunc) FetchMarkets(ctx context.Context) ([]models.MarketRecord, error) { return fn(ctx) }

type fakeMetrics struct {
	mu      sync.Mutex
	cycles  map[string]int
	errs    map[string]int
	onCycle func(result string)
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{cycles: map[string]int{}, errs: map[string]int{}}
}

func (m *fakeMetrics) RecordCycle(result string) {
	m.mu.Lock()
	m.cycles[result]++
	hook := m.onCycle
	m.mu.Unlock()
	if hook != nil {
		hook(result)
	}
}

func (m *fakeMetrics) RecordError(kind string) {
	m.mu.Lock()
	m.errs[kind]++
	m.mu.Unlock()
}

func (m *fakeMetrics) RecordMessageSent(string, string) {}
func (m *fakeMetrics) RecordLastPrice(string, float64)  {}
func (m *fakeMetrics) RecordLatency(string, float64)    {}

func (m *fakeMetrics) count(result string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cycles[result]
}

func (m *fakeMetrics) resolved() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, v := range m.cycles {
		n += v
	}
	return n
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func rec(symbol, price string) models.MarketRecord {
	return models.MarketRecord{Symbol: symbol, CurrentPrice: decimal.RequireFromString(price)}
}

func newTestScheduler(feed interface {
	FetchMarkets(context.Context) ([]models.MarketRecord, error)
}, m *fakeMetrics, opts ...SchedulerOption) *RefreshScheduler {
	opts = append([]SchedulerOption{WithInterval(time.Hour)}, opts...)
	return NewRefreshScheduler(feed, m, nil, opts...)
}

func TestInitialSnapshotIsEmptyAndLoading(t *testing.T) {
	s := newTestScheduler(newPendingFeed(), newFakeMetrics())

	snap := s.CurrentSnapshot()
	if len(snap.Records) != 0 || !snap.Loading || snap.Cycle != 0 {
		t.Fatalf("initial snapshot = %+v", snap)
	}
	if got := s.Stats().State; got != "inactive" {
		t.Fatalf("state = %s", got)
	}
}

func TestAttachAgainstHTTPFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `[{"symbol":"BTC","current_price":45230,"price_change_percentage_24h":2.1,"volume_24h":1200000000}]`)
	}))
	defer srv.Close()

	m := newFakeMetrics()
	s := newTestScheduler(marketfeed.New(marketfeed.Config{URL: srv.URL}), m)
	if err := s.Attach(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Detach()

	eventually(t, "first commit", func() bool { return !s.CurrentSnapshot().Loading })

	snap := s.CurrentSnapshot()
	if len(snap.Records) != 1 {
		t.Fatalf("records = %+v", snap.Records)
	}
	r := snap.Records[0]
	if r.Symbol != "BTC" ||
		!r.CurrentPrice.Equal(decimal.NewFromInt(45230)) ||
		!r.ChangePercent24h.Equal(decimal.RequireFromString("2.1")) ||
		!r.Volume24h.Equal(decimal.RequireFromString("1.2e9")) {
		t.Fatalf("record = %+v", r)
	}
	if snap.Cycle != 1 || snap.FetchedAt.IsZero() {
		t.Fatalf("cycle=%d fetched_at=%v", snap.Cycle, snap.FetchedAt)
	}
}

func TestHTTPErrorKeepsSnapshotAndClearsLoading(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := newFakeMetrics()
	s := newTestScheduler(marketfeed.New(marketfeed.Config{URL: srv.URL}), m)
	if err := s.Attach(context.Background()); err != nil {
		t.Fatalf("attach must not surface fetch errors: %v", err)
	}
	defer s.Detach()

	eventually(t, "failed cycle", func() bool { return m.count(metrics.CycleFailed) == 1 })

	snap := s.CurrentSnapshot()
	if snap.Loading || len(snap.Records) != 0 || snap.Cycle != 0 {
		t.Fatalf("snapshot after failure = %+v", snap)
	}
	if m.errs[string(models.FetchNetwork)] != 1 {
		t.Fatalf("errors = %v", m.errs)
	}
}

func TestCycleMetricFollowsSnapshotStore(t *testing.T) {
	feed := newPendingFeed()
	m := newFakeMetrics()
	s := newTestScheduler(feed, m)

	seen := make(chan models.FeedSnapshot, 4)
	m.onCycle = func(string) { seen <- s.CurrentSnapshot() }

	_ = s.Attach(context.Background())
	defer s.Detach()

	feed.resolve(1, []models.MarketRecord{rec("BTC", "64000")}, nil)
	select {
	case snap := <-seen:
		if snap.Cycle != 1 || snap.Loading || len(snap.Records) != 1 {
			t.Fatalf("snapshot at commit metric = %+v", snap)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no cycle recorded")
	}

	s.refresh()
	feed.resolve(2, nil, models.NetworkError(errors.New("down")))
	select {
	case snap := <-seen:
		if snap.Cycle != 1 || snap.Loading {
			t.Fatalf("snapshot at failure metric = %+v", snap)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no cycle recorded")
	}
}

func TestFailureAfterSuccessKeepsRecords(t *testing.T) {
	feed := newPendingFeed()
	m := newFakeMetrics()
	s := newTestScheduler(feed, m)
	_ = s.Attach(context.Background())
	defer s.Detach()

	feed.resolve(1, []models.MarketRecord{rec("ETH", "3000")}, nil)
	eventually(t, "commit", func() bool { return m.count(metrics.CycleCommitted) == 1 })

	s.refresh()
	if !s.CurrentSnapshot().Loading {
		t.Fatalf("new cycle must set loading")
	}
	feed.resolve(2, nil, models.MalformedError(errors.New("bad json")))
	eventually(t, "failure", func() bool { return m.count(metrics.CycleFailed) == 1 })

	snap := s.CurrentSnapshot()
	if snap.Loading || snap.Cycle != 1 || len(snap.Records) != 1 || snap.Records[0].Symbol != "ETH" {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestOutOfOrderResponseIsDiscarded(t *testing.T) {
	feed := newPendingFeed()
	m := newFakeMetrics()
	s := newTestScheduler(feed, m)
	_ = s.Attach(context.Background())
	defer s.Detach()

	for i := 0; i < 5; i++ {
		s.refresh()
	}
	if got := s.Stats().Issued; got != 6 {
		t.Fatalf("issued = %d, want 6", got)
	}

	x := []models.MarketRecord{rec("BTC", "50000")}
	y := []models.MarketRecord{rec("BTC", "40000")}

	feed.resolve(6, x, nil)
	eventually(t, "cycle 6", func() bool { return m.count(metrics.CycleCommitted) == 1 })
	feed.resolve(5, y, nil)
	eventually(t, "cycle 5", func() bool { return m.count(metrics.CycleStale) == 1 })

	snap := s.CurrentSnapshot()
	if snap.Cycle != 6 || !snap.Records[0].CurrentPrice.Equal(decimal.NewFromInt(50000)) {
		t.Fatalf("snapshot = %+v, want data from cycle 6", snap)
	}
	if snap.Loading {
		t.Fatalf("loading must be false once the latest cycle resolved")
	}

	for id := uint64(1); id <= 4; id++ {
		feed.resolve(id, nil, models.NetworkError(errors.New("late")))
	}
	eventually(t, "remaining cycles", func() bool { return m.resolved() == 6 })
}

func TestOlderResolutionDoesNotClearLoading(t *testing.T) {
	feed := newPendingFeed()
	m := newFakeMetrics()
	s := newTestScheduler(feed, m)
	_ = s.Attach(context.Background())
	defer s.Detach()
	s.refresh()

	feed.resolve(1, []models.MarketRecord{rec("SOL", "150")}, nil)
	eventually(t, "cycle 1", func() bool { return m.resolved() == 1 })

	snap := s.CurrentSnapshot()
	if !snap.Loading {
		t.Fatalf("loading cleared by an older cycle")
	}
	if snap.Cycle != 1 {
		t.Fatalf("cycle 1 should still commit, got %d", snap.Cycle)
	}

	feed.resolve(2, nil, models.NetworkError(errors.New("timeout")))
	eventually(t, "cycle 2", func() bool { return m.resolved() == 2 })
	if s.CurrentSnapshot().Loading {
		t.Fatalf("loading must clear when the latest cycle fails")
	}
}

func TestMonotonicCommitInArbitraryOrder(t *testing.T) {
	const n = 8
	for seed := int64(1); seed <= 20; seed++ {
		rng := rand.New(rand.NewSource(seed))
		feed := newPendingFeed()
		m := newFakeMetrics()
		s := newTestScheduler(feed, m)
		_ = s.Attach(context.Background())
		for i := 1; i < n; i++ {
			s.refresh()
		}

		var want uint64
		for _, idx := range rng.Perm(n) {
			id := uint64(idx + 1)
			if rng.Intn(3) == 0 {
				feed.resolve(id, nil, models.NetworkError(errors.New("flaky")))
				continue
			}
			if id > want {
				want = id
			}
			feed.resolve(id, []models.MarketRecord{rec("BTC", fmt.Sprint(id))}, nil)
		}
		eventually(t, "all cycles", func() bool { return m.resolved() == n })

		snap := s.CurrentSnapshot()
		if snap.Cycle != want {
			t.Fatalf("seed %d: committed cycle %d, want %d", seed, snap.Cycle, want)
		}
		if want > 0 && !snap.Records[0].CurrentPrice.Equal(decimal.NewFromInt(int64(want))) {
			t.Fatalf("seed %d: records from wrong cycle: %+v", seed, snap.Records)
		}
		if snap.Loading {
			t.Fatalf("seed %d: loading left on", seed)
		}
		s.Detach()
	}
}

func TestDetachDiscardsInFlightCycle(t *testing.T) {
	feed := newPendingFeed()
	m := newFakeMetrics()
	s := newTestScheduler(feed, m)
	_ = s.Attach(context.Background())

	before := s.CurrentSnapshot()
	s.Detach()
	feed.resolve(1, []models.MarketRecord{rec("BTC", "1")}, nil)
	eventually(t, "discarded cycle", func() bool { return m.count(metrics.CycleDetached) == 1 })

	after := s.CurrentSnapshot()
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("snapshot changed after detach: %+v -> %+v", before, after)
	}
	if !after.Loading {
		t.Fatalf("loading cleared after detach")
	}
}

func TestDetachCancelsFetchContext(t *testing.T) {
	cancelled := make(chan struct{})
	feed := feedFunc(func(ctx context.Context) ([]models.MarketRecord, error) {
		<-ctx.Done()
		close(cancelled)
		return nil, models.NetworkError(ctx.Err())
	})
	s := newTestScheduler(feed, newFakeMetrics())
	_ = s.Attach(context.Background())
	s.Detach()

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatalf("in-flight fetch not cancelled")
	}
}

func TestCurrentSnapshotIsIdempotent(t *testing.T) {
	feed := newPendingFeed()
	m := newFakeMetrics()
	s := newTestScheduler(feed, m)
	_ = s.Attach(context.Background())
	defer s.Detach()

	feed.resolve(1, []models.MarketRecord{rec("BTC", "1"), rec("ETH", "2")}, nil)
	eventually(t, "commit", func() bool { return m.resolved() == 1 })

	a, b := s.CurrentSnapshot(), s.CurrentSnapshot()
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("snapshots differ: %+v vs %+v", a, b)
	}
}

func TestAttachLifecycleErrors(t *testing.T) {
	s := newTestScheduler(newPendingFeed(), newFakeMetrics())
	if err := s.Attach(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Attach(context.Background()); !errors.Is(err, ErrAlreadyAttached) {
		t.Fatalf("second attach: %v", err)
	}
	s.Detach()
	s.Detach()
	if err := s.Attach(context.Background()); !errors.Is(err, ErrDetached) {
		t.Fatalf("attach after detach: %v", err)
	}
	if got := s.Stats().State; got != "detached" {
		t.Fatalf("state = %s", got)
	}
}

func TestParentContextCancelDetaches(t *testing.T) {
	s := newTestScheduler(newPendingFeed(), newFakeMetrics())
	ctx, cancel := context.WithCancel(context.Background())
	_ = s.Attach(ctx)
	cancel()

	eventually(t, "detached", func() bool { return s.Stats().State == "detached" })
}

func TestPeriodicTriggerIssuesCycles(t *testing.T) {
	feed := feedFunc(func(context.Context) ([]models.MarketRecord, error) {
		return []models.MarketRecord{rec("BTC", "1")}, nil
	})
	m := newFakeMetrics()
	s := newTestScheduler(feed, m, WithInterval(20*time.Millisecond))
	_ = s.Attach(context.Background())

	eventually(t, "three cycles", func() bool { return s.Stats().Issued >= 3 })
	s.Detach()

	issued := s.Stats().Issued
	time.Sleep(60 * time.Millisecond)
	if got := s.Stats().Issued; got != issued {
		t.Fatalf("trigger still firing after detach: %d -> %d", issued, got)
	}
}

func TestSubscribeReceivesReplacedSnapshots(t *testing.T) {
	feed := newPendingFeed()
	m := newFakeMetrics()
	s := newTestScheduler(feed, m)

	var mu sync.Mutex
	var got []models.FeedSnapshot
	unsubscribe := s.Subscribe(func(snap models.FeedSnapshot) {
		mu.Lock()
		got = append(got, snap)
		mu.Unlock()
	})

	_ = s.Attach(context.Background())
	defer s.Detach()
	feed.resolve(1, []models.MarketRecord{rec("BTC", "1")}, nil)
	eventually(t, "commit", func() bool { return m.resolved() == 1 })

	mu.Lock()
	if len(got) != 1 || got[0].Cycle != 1 || got[0].Loading {
		t.Fatalf("notifications = %+v", got)
	}
	mu.Unlock()

	unsubscribe()
	s.refresh()
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("notified after unsubscribe: %d", len(got))
	}
}
