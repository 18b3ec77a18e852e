package observability

import "time"

// MetricsRegistry provides an interface for recording application metrics.
// This replaces direct access to global Prometheus metrics with dependency injection.
type MetricsRegistry interface {
	// HTTP request metrics
	IncrementRequests(endpoint, method, status string)
	RecordRequestLatency(endpoint, method string, duration time.Duration)

	// Decision metrics
	IncrementDecisions(outcome string)

	// Event tracking metrics
	IncrementEvent(eventType, reason string)

	// Refund metrics
	IncrementRefunds()

	// Rate limiting metrics
	IncrementRateLimitHits(eventType string)

	// Rollup metrics
	IncrementRollupRuns(result string)
	AddArchivedOffers(n int)
}

// PrometheusRegistry implements MetricsRegistry using the global Prometheus metrics.
type PrometheusRegistry struct{}

// NewPrometheusRegistry creates a new PrometheusRegistry
func NewPrometheusRegistry() *PrometheusRegistry {
	return &PrometheusRegistry{}
}

func (r *PrometheusRegistry) IncrementRequests(endpoint, method, status string) {
	RequestCount.WithLabelValues(endpoint, method, status).Inc()
}

func (r *PrometheusRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {
	RequestLatency.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

func (r *PrometheusRegistry) IncrementDecisions(outcome string) {
	DecisionCount.WithLabelValues(outcome).Inc()
}

func (r *PrometheusRegistry) IncrementEvent(eventType, reason string) {
	EventCount.WithLabelValues(eventType, reason).Inc()
}

func (r *PrometheusRegistry) IncrementRefunds() {
	RefundCount.Inc()
}

func (r *PrometheusRegistry) IncrementRateLimitHits(eventType string) {
	RateLimitHits.WithLabelValues(eventType).Inc()
}

func (r *PrometheusRegistry) IncrementRollupRuns(result string) {
	RollupRuns.WithLabelValues(result).Inc()
}

func (r *PrometheusRegistry) AddArchivedOffers(n int) {
	ArchivedOffers.Add(float64(n))
}

// NoOpRegistry implements MetricsRegistry with no-op methods for testing.
type NoOpRegistry struct{}

// NewNoOpRegistry creates a new NoOpRegistry
func NewNoOpRegistry() *NoOpRegistry {
	return &NoOpRegistry{}
}

func (r *NoOpRegistry) IncrementRequests(endpoint, method, status string)                    {}
func (r *NoOpRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {}
func (r *NoOpRegistry) IncrementDecisions(outcome string)                                    {}
func (r *NoOpRegistry) IncrementEvent(eventType, reason string)                              {}
func (r *NoOpRegistry) IncrementRefunds()                                                    {}
func (r *NoOpRegistry) IncrementRateLimitHits(eventType string)                              {}
func (r *NoOpRegistry) IncrementRollupRuns(result string)                                    {}
func (r *NoOpRegistry) AddArchivedOffers(n int)                                              {}
