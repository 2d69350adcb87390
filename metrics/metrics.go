// Package metrics exposes the process's operational gauges/counters
// over a Prometheus /metrics endpoint: active slot count, pending order
// count, cache hit rate, and rate-limiter queue depth.
//
// Not grounded in a specific pack file — none of the example repos wire
// up prometheus/client_golang directly even though several (including
// the teacher) carry it as an indirect dependency — so this package
// follows the library's own idiomatic registration pattern instead of
// imitating a borrowed shape.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ActiveSlots = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradebot_active_slots",
		Help: "Number of realtime subscription slots currently occupied.",
	})

	PendingOrders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradebot_pending_orders",
		Help: "Number of orders submitted but not yet matched to a fill.",
	})

	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradebot_open_positions",
		Help: "Number of currently open positions.",
	})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradebot_cache_hits_total",
		Help: "Pipeline cache lookups, partitioned by hit/miss and cache name.",
	}, []string{"cache", "result"})

	RateLimiterQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradebot_rate_limiter_queue_depth",
		Help: "Approximate number of callers currently waiting on the broker rate limiter.",
	})

	SignalsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradebot_signals_emitted_total",
		Help: "Signals emitted by the signal engine, partitioned by strategy and side.",
	}, []string{"strategy", "side"})

	JournalDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradebot_journal_drops_total",
		Help: "Journal sink entries dropped due to a full queue, partitioned by stream.",
	}, []string{"stream"})
)

// Handler returns the HTTP handler to mount at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
