package cache

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	v   []byte
	exp time.Time
}

// TTLOption configures a TTLCache.
type TTLOption func(*TTLCache)

// WithCleanupInterval sets how often expired entries are swept.
func WithCleanupInterval(d time.Duration) TTLOption {
	return func(c *TTLCache) {
		if d > 0 {
			c.cleanupInterval = d
		}
	}
}

// TTLCache is an in-process BytesCache. Expired entries are dropped on read
// and by a periodic sweep until Close is called.
type TTLCache struct {
	mu         sync.RWMutex
	m          map[string]entry
	defaultTTL time.Duration
	now        func() time.Time

	cleanupInterval time.Duration
	stop            chan struct{}
	done            chan struct{}
	closeOnce       sync.Once
}

// NewTTLCache uses defaultTTL when SetBytes is called with ttl <= 0.
// A zero defaultTTL means such entries never expire.
func NewTTLCache(defaultTTL time.Duration, opts ...TTLOption) *TTLCache {
	c := &TTLCache{
		m:               make(map[string]entry),
		defaultTTL:      defaultTTL,
		now:             time.Now,
		cleanupInterval: time.Minute,
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.cleanupExpired()
	return c
}

func (c *TTLCache) GetBytes(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	e, ok := c.m[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if e.expired(c.now()) {
		c.mu.Lock()
		if cur, ok := c.m[key]; ok && cur.exp.Equal(e.exp) {
			delete(c.m, key)
		}
		c.mu.Unlock()
		return nil, false, nil
	}
	return e.v, true, nil
}

func (c *TTLCache) SetBytes(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	var exp time.Time
	if ttl > 0 {
		exp = c.now().Add(ttl)
	}
	c.mu.Lock()
	c.m[key] = entry{v: value, exp: exp}
	c.mu.Unlock()
	return nil
}

// Len reports stored entries, expired ones included until swept or read.
func (c *TTLCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}

// Close stops the sweep. The cache stays usable.
func (c *TTLCache) Close() error {
	c.closeOnce.Do(func() {
		close(c.stop)
		<-c.done
	})
	return nil
}

func (c *TTLCache) cleanupExpired() {
	defer close(c.done)

	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stop:
			return
		}
	}
}

// sweep removes every expired entry and returns how many were dropped.
func (c *TTLCache) sweep() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for key, e := range c.m {
		if e.expired(now) {
			delete(c.m, key)
			n++
		}
	}
	return n
}

func (e entry) expired(now time.Time) bool {
	return !e.exp.IsZero() && now.After(e.exp)
}
