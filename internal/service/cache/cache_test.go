package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"CripteX/internal/service/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestTTLCacheExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	c := NewTTLCache(time.Minute)
	c.now = func() time.Time { return now }

	_ = c.SetBytes(ctx, "k", []byte("v"), 0)
	if b, ok, _ := c.GetBytes(ctx, "k"); !ok || string(b) != "v" {
		t.Fatalf("get = %q, %v", b, ok)
	}

	now = now.Add(2 * time.Minute)
	if _, ok, _ := c.GetBytes(ctx, "k"); ok {
		t.Fatalf("entry should have expired")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry not dropped")
	}
}

func TestTTLCacheSweepDropsUnreadKeys(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	c := NewTTLCache(time.Minute, WithCleanupInterval(time.Hour))
	defer c.Close()
	c.now = func() time.Time { return now }

	for i := 0; i < 1000; i++ {
		_ = c.SetBytes(ctx, fmt.Sprintf("predictions:v%d", i), []byte("x"), time.Millisecond)
	}
	_ = c.SetBytes(ctx, "forever", []byte("x"), 0)
	_ = c.SetBytes(ctx, "later", []byte("x"), time.Hour)

	now = now.Add(time.Second)
	if n := c.sweep(); n != 1000 {
		t.Fatalf("swept %d, want 1000", n)
	}
	if c.Len() != 2 {
		t.Fatalf("len = %d, want 2", c.Len())
	}
}

func TestTTLCacheBackgroundSweep(t *testing.T) {
	ctx := context.Background()
	c := NewTTLCache(0, WithCleanupInterval(5*time.Millisecond))
	defer c.Close()

	for i := 0; i < 100; i++ {
		_ = c.SetBytes(ctx, fmt.Sprintf("k%d", i), []byte("x"), time.Millisecond)
	}

	deadline := time.Now().Add(2 * time.Second)
	for c.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expired entries still held: %d", c.Len())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestTTLCacheCloseIsIdempotent(t *testing.T) {
	c := NewTTLCache(time.Minute)
	_ = c.Close()
	_ = c.Close()

	_ = c.SetBytes(context.Background(), "k", []byte("v"), 0)
	if _, ok, _ := c.GetBytes(context.Background(), "k"); !ok {
		t.Fatalf("cache unusable after Close")
	}
}

type failingCache struct{}

func (failingCache) GetBytes(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("down")
}

func (failingCache) SetBytes(context.Context, string, []byte, time.Duration) error {
	return errors.New("down")
}

func TestLayeredServesFromL1WhenL2Down(t *testing.T) {
	ctx := context.Background()
	c := NewLayered(failingCache{}, time.Minute)

	if err := c.SetBytes(ctx, "k", []byte("v"), time.Minute); err == nil {
		t.Fatalf("expected L2 error to surface on set")
	}
	b, ok, err := c.GetBytes(ctx, "k")
	if err != nil || !ok || string(b) != "v" {
		t.Fatalf("get = %q, %v, %v", b, ok, err)
	}
}

func TestLayeredPromotesL2Hits(t *testing.T) {
	ctx := context.Background()
	l2 := NewTTLCache(0)
	_ = l2.SetBytes(ctx, "k", []byte("shared"), 0)

	c := NewLayered(l2, time.Minute)
	if _, ok, _ := c.GetBytes(ctx, "k"); !ok {
		t.Fatalf("expected L2 hit")
	}
	if c.l1.Len() != 1 {
		t.Fatalf("L2 hit not promoted to L1")
	}
}

func TestLayeredCapsLocalTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	l2 := NewTTLCache(0)
	defer l2.Close()
	c := NewLayered(l2, time.Second)
	defer c.Close()
	c.l1.now = func() time.Time { return now }

	_ = c.SetBytes(ctx, "k", []byte("v"), time.Hour)

	now = now.Add(2 * time.Second)
	if _, ok, _ := c.l1.GetBytes(ctx, "k"); ok {
		t.Fatalf("L1 entry outlived l1TTL")
	}
	if _, ok, _ := l2.GetBytes(ctx, "k"); !ok {
		t.Fatalf("L2 entry should keep the caller ttl")
	}
}

func TestInstrumentedClosesWrapped(t *testing.T) {
	inner := NewTTLCache(time.Minute)
	c := NewInstrumented(inner, "local", metrics.NewCacheMetrics(prometheus.NewRegistry()))
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case <-inner.done:
	default:
		t.Fatalf("wrapped sweep still running")
	}
}

func TestInstrumentedCounts(t *testing.T) {
	ctx := context.Background()
	m := metrics.NewCacheMetrics(prometheus.NewRegistry())
	c := NewInstrumented(NewTTLCache(0), "predictions", m)

	_, _, _ = c.GetBytes(ctx, "a")
	_ = c.SetBytes(ctx, "a", []byte("x"), 0)
	_, _, _ = c.GetBytes(ctx, "a")

	if got := testutil.ToFloat64(m.Requests().WithLabelValues("predictions", metrics.CacheHit)); got != 1 {
		t.Fatalf("hits = %v", got)
	}
	if got := testutil.ToFloat64(m.Requests().WithLabelValues("predictions", metrics.CacheMiss)); got != 1 {
		t.Fatalf("misses = %v", got)
	}
}

func TestRedisCacheUnreachable(t *testing.T) {
	c := NewRedisCache(RedisConfig{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond})
	defer c.Close()

	if _, _, err := c.GetBytes(context.Background(), "k"); err == nil {
		t.Fatalf("expected error from unreachable redis")
	}
	if err := c.Ping(context.Background()); err == nil {
		t.Fatalf("expected ping error")
	}
}
