package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

// CacheMetrics counts response cache lookups per cache name.
type CacheMetrics struct {
	requests *prometheus.CounterVec
}

// NewCacheMetrics registers the cache counters on reg.
func NewCacheMetrics(reg prometheus.Registerer) *CacheMetrics {
	return &CacheMetrics{
		requests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "criptex",
				Subsystem: "cache",
				Name:      "requests_total",
				Help:      "Response cache lookups by result",
			},
			[]string{"cache", "result"},
		),
	}
}

// Observe is a no-op on a nil receiver.
func (m *CacheMetrics) Observe(cache, result string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(cache, result).Inc()
}

// Requests exposes the underlying counter vector.
func (m *CacheMetrics) Requests() *prometheus.CounterVec { return m.requests }
