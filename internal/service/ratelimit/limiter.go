package ratelimit

import (
	"sync"
	"time"
)

type bucket struct {
	tokens float64
	last   time.Time
}

// Limiter is a per-key token bucket. All keys share one rate and burst.
type Limiter struct {
	mu      sync.Mutex
	m       map[string]*bucket
	rate    float64 // tokens per second
	burst   float64
	idleTTL time.Duration
	lastGC  time.Time
	now     func() time.Time
}

// New creates a limiter refilling ratePerSec tokens up to burst.
func New(ratePerSec float64, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		m:       make(map[string]*bucket),
		rate:    ratePerSec,
		burst:   float64(burst),
		idleTTL: 10 * time.Minute,
		now:     time.Now,
	}
}

// Allow returns true if one token can be consumed for key.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.gcLocked(now)

	b, ok := l.m[key]
	if !ok {
		b = &bucket{tokens: l.burst, last: now}
		l.m[key] = b
	}

	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens += elapsed * l.rate
		if b.tokens > l.burst {
			b.tokens = l.burst
		}
		b.last = now
	}

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// gcLocked drops buckets idle long enough to be full again.
func (l *Limiter) gcLocked(now time.Time) {
	if now.Sub(l.lastGC) < l.idleTTL {
		return
	}
	l.lastGC = now
	for k, b := range l.m {
		if now.Sub(b.last) >= l.idleTTL {
			delete(l.m, k)
		}
	}
}
