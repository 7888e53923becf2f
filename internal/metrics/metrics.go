package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mediagen"

// UnknownProvider 未注册供应商统一使用的 label
const UnknownProvider = "unknown"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	tasksSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "submitted_total",
			Help:      "Generation tasks accepted by a vendor and persisted.",
		},
		[]string{"provider"},
	)

	tasksCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "completed_total",
			Help:      "Generation tasks that reached a terminal status.",
		},
		[]string{"provider", "status"},
	)

	creditsDebited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "credits",
			Name:      "debited_total",
			Help:      "Credits consumed by submitted tasks.",
		},
		[]string{"provider"},
	)

	creditRefunds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "credits",
			Name:      "refunds_total",
			Help:      "Refund transactions issued for failed tasks.",
		},
		[]string{"provider"},
	)

	webhooksReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhooks",
			Name:      "received_total",
			Help:      "Vendor webhook deliveries by handling result.",
		},
		[]string{"provider", "result"},
	)

	mediaTransfers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "media",
			Name:      "transfers_total",
			Help:      "Vendor media re-hosting attempts; fallback means the vendor URL was kept.",
		},
		[]string{"result"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		tasksSubmitted,
		tasksCompleted,
		creditsDebited,
		creditRefunds,
		webhooksReceived,
		mediaTransfers,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// GinMiddleware records request count and latency per route template.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := strings.ToUpper(c.Request.Method)
		httpRequests.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

func RecordTaskSubmitted(provider string, credits int64) {
	tasksSubmitted.WithLabelValues(provider).Inc()
	if credits > 0 {
		creditsDebited.WithLabelValues(provider).Add(float64(credits))
	}
}

// RecordTaskCompleted status 使用前端状态词 completed/failed
func RecordTaskCompleted(provider, status string) {
	tasksCompleted.WithLabelValues(provider, status).Inc()
}

func RecordRefund(provider string) {
	creditRefunds.WithLabelValues(provider).Inc()
}

// RecordWebhook result: applied, unknown_task, invalid, error
func RecordWebhook(provider, result string) {
	webhooksReceived.WithLabelValues(provider, result).Inc()
}

// RecordMediaTransfer result: stored, fallback
func RecordMediaTransfer(result string) {
	mediaTransfers.WithLabelValues(result).Inc()
}
