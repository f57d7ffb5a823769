package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once
	registry     = prometheus.NewRegistry()

	connectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "kephasrpc",
			Subsystem: "connections",
			Name:      "active",
			Help:      "Currently registered connections.",
		},
	)
	connectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kephasrpc",
			Subsystem: "connections",
			Name:      "total",
			Help:      "Connections by lifecycle outcome.",
		},
		[]string{"outcome"},
	)
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kephasrpc",
			Name:      "requests_total",
			Help:      "Requests by method and protocol error id.",
		},
		[]string{"method", "error_id"},
	)
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kephasrpc",
			Name:      "request_duration_seconds",
			Help:      "Request handling duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method"},
	)
	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kephasrpc",
			Name:      "notifications_total",
			Help:      "Notifications by method and whether they were delivered.",
		},
		[]string{"method", "delivered"},
	)
)

// Connection lifecycle outcomes.
const (
	OutcomeAccepted  = "accepted"
	OutcomeRejected  = "rejected"
	OutcomeDisplaced = "displaced"
	OutcomeClosed    = "closed"
)

// UnknownMethod labels requests whose method is not in the table.
const UnknownMethod = "unknown"

func RegisterMetrics() {
	registerOnce.Do(func() {
		registry.MustRegister(
			connectionsActive,
			connectionsTotal,
			requestsTotal,
			requestDuration,
			notificationsTotal,
		)
	})
}

// MetricsHandler serves the kephasrpc registry in the prometheus text format.
func MetricsHandler() http.Handler {
	RegisterMetrics()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func ConnectionOpened() {
	RegisterMetrics()
	connectionsActive.Inc()
	connectionsTotal.WithLabelValues(OutcomeAccepted).Inc()
}

func ConnectionClosed(outcome string) {
	RegisterMetrics()
	connectionsActive.Dec()
	connectionsTotal.WithLabelValues(outcome).Inc()
}

func ConnectionRejected() {
	RegisterMetrics()
	connectionsTotal.WithLabelValues(OutcomeRejected).Inc()
}

func RecordRequest(method string, errorID int, duration time.Duration) {
	RegisterMetrics()
	requestsTotal.WithLabelValues(method, strconv.Itoa(errorID)).Inc()
	requestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func RecordNotification(method string, delivered bool) {
	RegisterMetrics()
	notificationsTotal.WithLabelValues(method, strconv.FormatBool(delivered)).Inc()
}
