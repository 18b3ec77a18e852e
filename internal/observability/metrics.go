package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// total requests per endpoint, method and status code
	RequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adengine_requests_total",
			Help: "Total API requests received",
		},
		[]string{"endpoint", "method", "status"},
	)

	// request latency in seconds per endpoint/method
	RequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "adengine_request_duration_seconds",
			Help:    "Histogram of request latencies",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method"},
	)

	// decisions per outcome: offer, none, forced, sticky
	DecisionCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adengine_decisions_total",
			Help: "Total ad decisions",
		},
		[]string{"outcome"},
	)

	// view/click/view-time events per billing reason
	EventCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adengine_events_total",
			Help: "Total tracked events by type and reason",
		},
		[]string{"type", "reason"},
	)

	// offers refunded
	RefundCount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "adengine_refunds_total",
			Help: "Total offers refunded",
		},
	)

	// rate limit hits per event type
	RateLimitHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adengine_ratelimit_hits_total",
			Help: "Total rate limit hits per event type",
		},
		[]string{"event_type"},
	)

	// flight totals refresh runs per result
	RollupRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adengine_rollup_runs_total",
			Help: "Total rollup worker runs",
		},
		[]string{"result"},
	)

	// rows archived per day-object uploaded
	ArchivedOffers = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "adengine_archived_offers_total",
			Help: "Total offer rows archived to object storage",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestCount,
		RequestLatency,
		DecisionCount,
		EventCount,
		RefundCount,
		RateLimitHits,
		RollupRuns,
		ArchivedOffers,
	)
}
