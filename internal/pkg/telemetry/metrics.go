package telemetry

// SLI metric names used for instrumentation.
const (
	// Latency
	MetricAPILatencyP50 = "api.latency.p50"
	MetricAPILatencyP95 = "api.latency.p95"
	MetricAPILatencyP99 = "api.latency.p99"

	// Throughput
	MetricRequestsPerSec = "api.requests_per_second"

	// Data freshness
	MetricPositionLatency = "realtime.position_latency"
	MetricETAFreshness    = "eta.result_age_seconds"

	// Availability
	MetricUptime = "service.uptime_percentage"

	// Business
	MetricCallsCreated  = "business.calls_created"
	MetricCallsResolved = "business.calls_resolved"
	MetricNotifications = "business.driver_notifications"
)
