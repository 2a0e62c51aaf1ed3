package marketdata

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MarketMetrics (C5) tracks latency, drops, gaps, and reconnects.
// Histograms/counters are grouped under one registerable struct, the
// same pattern the teacher uses for its package-level prometheus vectors
// (feed_handler.go, execution_service.go), generalized so each
// WsClient/MarketDataMgr instance can carry its own labeled metrics
// instead of relying on globals.
type MarketMetrics struct {
	latency    prometheus.Histogram
	drops      prometheus.Counter
	gaps       prometheus.Counter
	reconnects prometheus.Counter

	lastMessageTimeNs int64 // atomic
	messageCount      int64 // atomic
}

// NewMarketMetrics builds and registers metrics for one venue label.
// Registration errors (e.g. duplicate registration in tests) are
// swallowed the way the teacher tolerates re-registration across
// services sharing a default registry. Metrics are always registered on
// the default registry; a second instance with the same venue label is
// not registered, so its values are not exported.
func NewMarketMetrics(venue string) *MarketMetrics {
	m := &MarketMetrics{
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "veloz_market_data_latency_seconds",
			Help:        "Exchange-to-publish latency for market events.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: prometheus.Labels{"venue": venue},
		}),
		drops: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "veloz_market_data_drops_total",
			Help:        "Dropped market data messages.",
			ConstLabels: prometheus.Labels{"venue": venue},
		}),
		gaps: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "veloz_market_data_gaps_total",
			Help:        "Order book sequence gaps detected.",
			ConstLabels: prometheus.Labels{"venue": venue},
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "veloz_market_data_reconnects_total",
			Help:        "WebSocket reconnect attempts.",
			ConstLabels: prometheus.Labels{"venue": venue},
		}),
	}
	_ = prometheus.Register(m.latency)
	_ = prometheus.Register(m.drops)
	_ = prometheus.Register(m.gaps)
	_ = prometheus.Register(m.reconnects)
	return m
}

func (m *MarketMetrics) ObserveLatency(d time.Duration) { m.latency.Observe(d.Seconds()) }
func (m *MarketMetrics) IncDrop()                       { m.drops.Inc() }
func (m *MarketMetrics) IncGap()                        { m.gaps.Inc() }
func (m *MarketMetrics) IncReconnect()                  { m.reconnects.Inc() }

// RecordMessage updates the concurrently-readable counters WsClient
// exposes (spec.md §4.4: reconnect_count, last_message_time,
// message_count readable concurrently).
func (m *MarketMetrics) RecordMessage(at time.Time) {
	atomic.StoreInt64(&m.lastMessageTimeNs, at.UnixNano())
	atomic.AddInt64(&m.messageCount, 1)
}

func (m *MarketMetrics) LastMessageTime() time.Time {
	ns := atomic.LoadInt64(&m.lastMessageTimeNs)
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (m *MarketMetrics) MessageCount() int64 {
	return atomic.LoadInt64(&m.messageCount)
}
