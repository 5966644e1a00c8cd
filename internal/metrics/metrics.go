// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CellComputations counts cell recomputations by query name prefix and outcome.
	CellComputations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "routekit_cell_computations_total",
		Help: "Memoized cell recomputations by query and result",
	}, []string{"query", "result"})

	// CellReuse counts cell reads served from a verified memo.
	CellReuse = promauto.NewCounter(prometheus.CounterOpts{
		Name: "routekit_cell_reuse_total",
		Help: "Cell reads served without recomputation",
	})

	// SettleIterations tracks how many passes a strongly consistent read needed.
	SettleIterations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "routekit_settle_iterations",
		Help:    "Evaluation passes per strongly consistent read",
		Buckets: []float64{1, 2, 3, 5, 8, 13, 32, 64},
	})

	// SettleDuration tracks strongly consistent read latency.
	SettleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "routekit_settle_duration_seconds",
		Help:    "Strongly consistent read duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16), // 0.1ms to ~3s
	})

	// Invalidations counts input keys bumped by file changes.
	Invalidations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "routekit_invalidated_inputs_total",
		Help: "Input keys whose version was bumped",
	})

	// EvictedCells counts unwatched stale cells dropped from the name index.
	EvictedCells = promauto.NewCounter(prometheus.CounterOpts{
		Name: "routekit_evicted_cells_total",
		Help: "Stale unwatched cells dropped on invalidation",
	})

	// ContentCacheBytes reports bytes held by the file content cache.
	ContentCacheBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "routekit_content_cache_bytes",
		Help: "Bytes held in the file content cache across projects",
	})

	// Deliveries counts subscription deliveries by kind (payload, transient, fatal).
	Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "routekit_deliveries_total",
		Help: "Subscription deliveries by kind",
	}, []string{"kind"})

	// SkippedDeliveries counts settled values suppressed because nothing changed.
	SkippedDeliveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "routekit_deliveries_skipped_total",
		Help: "Settled values not delivered because their fingerprint was unchanged",
	})

	// ActiveSubscriptions reports live subscriptions.
	ActiveSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "routekit_active_subscriptions",
		Help: "Subscriptions that have not terminated",
	})

	// EndpointHandles reports endpoint ids currently held by at least one holder.
	EndpointHandles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "routekit_endpoint_handles",
		Help: "Endpoint registry entries with a positive reference count",
	})

	// WatchEvents counts file system change batches by operation.
	WatchEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "routekit_watch_events_total",
		Help: "File changes observed by the watcher by operation",
	}, []string{"op"})

	// RPCRequests counts host requests by method and outcome.
	RPCRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "routekit_rpc_requests_total",
		Help: "Host JSON-RPC requests by method and result",
	}, []string{"method", "result"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
