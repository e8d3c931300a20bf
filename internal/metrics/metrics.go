// Package metrics holds the Prometheus collectors exposed on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "openclapp"

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

	clapTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "clap",
			Name:      "transitions_total",
			Help:      "Clap state transitions by event type.",
		},
		[]string{"type"},
	)

	verifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "verification",
			Name:      "attempts_total",
			Help:      "Verification starts and checks by outcome.",
		},
		[]string{"stage", "outcome"},
	)

	cohortAgents = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stats",
			Name:      "agents",
			Help:      "Registered agents per cohort.",
		},
		[]string{"cohort"},
	)

	cohortClapping = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stats",
			Name:      "clapping_agents",
			Help:      "Agents currently clapping per cohort.",
		},
		[]string{"cohort"},
	)

	cohortLifetime = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stats",
			Name:      "lifetime_percent",
			Help:      "Pooled lifetime clap percentage per cohort.",
		},
		[]string{"cohort"},
	)

	tickerSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ticker",
			Name:      "subscribers",
			Help:      "Connected live ticker subscribers.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		clapTransitions,
		verifications,
		cohortAgents,
		cohortClapping,
		cohortLifetime,
		tickerSubscribers,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency for every route except
// /metrics itself. Paths are labelled by their gin route template.
func Middleware() gin.HandlerFunc {
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

// RecordClapTransition counts a committed started/stopped event.
func RecordClapTransition(eventType string) {
	clapTransitions.WithLabelValues(eventType).Inc()
}

// RecordVerification counts a verification start or check by outcome.
func RecordVerification(stage, outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	verifications.WithLabelValues(stage, outcome).Inc()
}

// SetCohort publishes the latest aggregate for one cohort.
func SetCohort(cohort string, agents, clapping int, lifetimePct float64) {
	cohortAgents.WithLabelValues(cohort).Set(float64(agents))
	cohortClapping.WithLabelValues(cohort).Set(float64(clapping))
	cohortLifetime.WithLabelValues(cohort).Set(lifetimePct)
}

// SubscriberConnected and SubscriberDisconnected track live ticker clients.
func SubscriberConnected()    { tickerSubscribers.Inc() }
func SubscriberDisconnected() { tickerSubscribers.Dec() }
