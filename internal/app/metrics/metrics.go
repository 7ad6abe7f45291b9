// Package metrics exposes Prometheus collectors for the gateway.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the gateway-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "feed_gateway",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "feed_gateway",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "feed_gateway",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	proxiedCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "feed_gateway",
			Subsystem: "proxy",
			Name:      "calls_total",
			Help:      "Total number of upstream proxy calls by outcome.",
		},
		[]string{"outcome"},
	)

	upstreamLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "feed_gateway",
			Subsystem: "proxy",
			Name:      "upstream_latency_seconds",
			Help:      "Wall-clock latency of upstream API calls.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
	)

	paymentEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "feed_gateway",
			Subsystem: "payment",
			Name:      "events_total",
			Help:      "Payment gate events: challenges, rejections and settlements.",
		},
		[]string{"event"},
	)

	previewDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "feed_gateway",
			Subsystem: "preview",
			Name:      "decisions_total",
			Help:      "Free-preview limiter decisions.",
		},
		[]string{"decision"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		proxiedCalls,
		upstreamLatency,
		paymentEvents,
		previewDecisions,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordProxyCall records one upstream call outcome ("success",
// "upstream_error" or "unreachable").
func RecordProxyCall(outcome string, duration time.Duration) {
	proxiedCalls.WithLabelValues(outcome).Inc()
	if duration > 0 {
		upstreamLatency.Observe(duration.Seconds())
	}
}

// RecordPaymentEvent records a gate event ("challenged", "rejected_structural",
// "rejected_verify", "rejected_settle" or "settled").
func RecordPaymentEvent(event string) {
	paymentEvents.WithLabelValues(event).Inc()
}

// RecordPreviewDecision records a limiter decision ("allow" or "deny").
func RecordPreviewDecision(decision string) {
	previewDecisions.WithLabelValues(decision).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses per-entity segments so metric cardinality stays
// bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "feed":
		return "/feed/{feedId}"
	case "api":
		if len(parts) >= 2 {
			return "/api/" + parts[1]
		}
		return "/api"
	default:
		return "/" + parts[0]
	}
}
