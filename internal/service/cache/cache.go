package cache

import (
	"context"
	"io"
	"time"

	"CripteX/internal/service/metrics"
)

// BytesCache is a minimal cache API storing raw bytes with TTL.
type BytesCache interface {
	GetBytes(ctx context.Context, key string) (b []byte, ok bool, err error)
	SetBytes(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Layered reads through a local L1 before the shared L2 and writes to both.
// L2 failures degrade to L1 only.
type Layered struct {
	l1    *TTLCache
	l2    BytesCache
	l1TTL time.Duration
}

// NewLayered keeps at most l1TTL worth of staleness in the local layer.
// A zero l1TTL leaves local entries bounded only by the caller's ttl.
func NewLayered(l2 BytesCache, l1TTL time.Duration, opts ...TTLOption) *Layered {
	return &Layered{l1: NewTTLCache(l1TTL, opts...), l2: l2, l1TTL: l1TTL}
}

func (c *Layered) GetBytes(ctx context.Context, key string) ([]byte, bool, error) {
	if b, ok, _ := c.l1.GetBytes(ctx, key); ok {
		return b, true, nil
	}

	b, ok, err := c.l2.GetBytes(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	_ = c.l1.SetBytes(ctx, key, b, 0)
	return b, true, nil
}

func (c *Layered) SetBytes(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	local := ttl
	if c.l1TTL > 0 && (local <= 0 || local > c.l1TTL) {
		local = c.l1TTL
	}
	_ = c.l1.SetBytes(ctx, key, value, local)
	return c.l2.SetBytes(ctx, key, value, ttl)
}

// Close stops the local sweep. The shared layer is owned by the caller.
func (c *Layered) Close() error {
	return c.l1.Close()
}

// Instrumented counts hits, misses and errors of the wrapped cache.
type Instrumented struct {
	next    BytesCache
	name    string
	metrics *metrics.CacheMetrics
}

func NewInstrumented(next BytesCache, name string, m *metrics.CacheMetrics) *Instrumented {
	return &Instrumented{next: next, name: name, metrics: m}
}

func (c *Instrumented) GetBytes(ctx context.Context, key string) ([]byte, bool, error) {
	b, ok, err := c.next.GetBytes(ctx, key)
	switch {
	case err != nil:
		c.metrics.Observe(c.name, metrics.CacheError)
	case ok:
		c.metrics.Observe(c.name, metrics.CacheHit)
	default:
		c.metrics.Observe(c.name, metrics.CacheMiss)
	}
	return b, ok, err
}

// Close closes the wrapped cache when it has a Close method.
func (c *Instrumented) Close() error {
	if cl, ok := c.next.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}

func (c *Instrumented) SetBytes(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := c.next.SetBytes(ctx, key, value, ttl)
	if err != nil {
		c.metrics.Observe(c.name, metrics.CacheError)
	}
	return err
}
