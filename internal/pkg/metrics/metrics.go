package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "buscall",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests processed",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "buscall",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"method", "path"})

	// Engine metrics
	SweepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "buscall",
		Subsystem: "engine",
		Name:      "sweeps_total",
		Help:      "Total full sweeps completed",
	})

	SweepsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "buscall",
		Subsystem: "engine",
		Name:      "sweeps_skipped_total",
		Help:      "Timer ticks skipped because a sweep was still running",
	})

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "buscall",
		Subsystem: "engine",
		Name:      "sweep_duration_seconds",
		Help:      "Duration of one full region sweep",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	})

	CallEvaluations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "buscall",
		Subsystem: "engine",
		Name:      "call_evaluations_total",
		Help:      "Total per-call evaluations run",
	})

	EvaluationErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "buscall",
		Subsystem: "engine",
		Name:      "evaluation_errors_total",
		Help:      "Call evaluations skipped due to an error",
	})

	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "buscall",
		Subsystem: "engine",
		Name:      "notifications_sent_total",
		Help:      "Driver notifications dispatched, by type",
	}, []string{"type"})

	// Call lifecycle
	CallsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "buscall",
		Subsystem: "calls",
		Name:      "created_total",
		Help:      "Calls created from button presses or the API",
	})

	CallsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "buscall",
		Subsystem: "calls",
		Name:      "resolved_total",
		Help:      "Calls deactivated, by reason (passed, cancelled)",
	}, []string{"reason"})

	// Location pipeline
	LocationUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "buscall",
		Subsystem: "locations",
		Name:      "updates_total",
		Help:      "Location updates accepted into the motion filter",
	})

	LocationRejects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "buscall",
		Subsystem: "locations",
		Name:      "rejects_total",
		Help:      "Location updates rejected as malformed",
	})

	// Cache
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "buscall",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total cache hits",
	}, []string{"operation"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "buscall",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Total cache misses",
	}, []string{"operation"})

	ActiveWebSockets = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "buscall",
		Subsystem: "ws",
		Name:      "active_connections",
		Help:      "Current number of active WebSocket connections",
	})

	// Database pool metrics
	DBPoolConnsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "buscall",
		Subsystem: "db",
		Name:      "pool_conns_open",
		Help:      "Total connections open in the database pool",
	})

	DBPoolConnsAcquired = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "buscall",
		Subsystem: "db",
		Name:      "pool_conns_acquired",
		Help:      "Connections currently acquired from the database pool",
	})

	DBPoolConnsIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "buscall",
		Subsystem: "db",
		Name:      "pool_conns_idle",
		Help:      "Idle connections in the database pool",
	})
)

// Middleware records request metrics.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Response().StatusCode())
		path := c.Route().Path
		if path == "" {
			path = c.Path()
		}
		method := c.Method()

		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpRequestDuration.WithLabelValues(method, path).Observe(duration)

		return err
	}
}

// Handler returns a Fiber handler serving the Prometheus /metrics endpoint.
func Handler() fiber.Handler {
	handler := promhttp.Handler()
	return func(c *fiber.Ctx) error {
		fasthttpadaptor.NewFastHTTPHandler(handler)(c.Context())
		return nil
	}
}

// UpdateDBPoolMetrics updates database pool metrics from pgx pool stats.
func UpdateDBPoolMetrics(stat interface{}) {
	type poolStat interface {
		AcquiredConns() int32
		IdleConns() int32
		TotalConns() int32
	}

	if s, ok := stat.(poolStat); ok {
		DBPoolConnsAcquired.Set(float64(s.AcquiredConns()))
		DBPoolConnsIdle.Set(float64(s.IdleConns()))
		DBPoolConnsOpen.Set(float64(s.TotalConns()))
	}
}
