package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

var (
	registerOnce sync.Once

	packetsHandled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgemesh",
			Subsystem: "packets",
			Name:      "handled_total",
			Help:      "Inbound packets dispatched, by outcome.",
		},
		[]string{"role", "type", "outcome"},
	)
	packetDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "edgemesh",
			Subsystem: "packets",
			Name:      "handle_duration_seconds",
			Help:      "Time spent dispatching one inbound packet.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"role", "type"},
	)
	sendAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgemesh",
			Subsystem: "sender",
			Name:      "attempts_total",
			Help:      "Reliable send attempts, by outcome.",
		},
		[]string{"role", "type", "outcome"},
	)
	sweepEvictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgemesh",
			Subsystem: "registry",
			Name:      "evictions_total",
			Help:      "Peers removed by the expiry sweep.",
		},
		[]string{"role", "priority", "reason"},
	)
	registryPeers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "edgemesh",
			Subsystem: "registry",
			Name:      "peers",
			Help:      "Peers currently in the connection registry.",
		},
		[]string{"role"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgemesh",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"role", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "edgemesh",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"role", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			packetsHandled,
			packetDuration,
			sendAttempts,
			sweepEvictions,
			registryPeers,
			httpRequests,
			httpDuration,
		)
	})
}

// MetricsHandler serves the default prometheus registry.
func MetricsHandler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}

func outcome(success bool) string {
	if success {
		return OutcomeSuccess
	}
	return OutcomeFailure
}

func RecordPacket(role, packetType string, success bool, duration time.Duration) {
	RegisterMetrics()
	packetsHandled.WithLabelValues(role, packetType, outcome(success)).Inc()
	packetDuration.WithLabelValues(role, packetType).Observe(duration.Seconds())
}

func RecordSendAttempt(role, packetType string, err error) {
	RegisterMetrics()
	sendAttempts.WithLabelValues(role, packetType, outcome(err == nil)).Inc()
}

func RecordEviction(role, priority, reason string) {
	RegisterMetrics()
	sweepEvictions.WithLabelValues(role, priority, reason).Inc()
}

func SetRegistryPeers(role string, n int) {
	RegisterMetrics()
	registryPeers.WithLabelValues(role).Set(float64(n))
}

func RecordHTTPRequest(role, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(role, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(role, method, path, statusLabel).Observe(duration.Seconds())
}
