package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Replication metrics
	RequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fanout_requests_in_flight",
			Help: "Number of cluster requests currently tracked by the registry",
		},
	)

	ReplicationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanout_replications_total",
			Help: "Total number of cluster requests by method and outcome",
		},
		[]string{"method", "outcome"},
	)

	NodeRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fanout_node_request_duration_seconds",
			Help:    "Per-node request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"node"},
	)

	NodeRequestErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanout_node_request_errors_total",
			Help: "Total number of per-node transport failures",
		},
		[]string{"node"},
	)

	// Two-phase commit metrics
	VerificationRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fanout_verification_rejections_total",
			Help: "Total number of mutating requests aborted by a dissenting node",
		},
	)

	// Monitoring metrics
	SlowNodeWarnings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanout_slow_node_warnings_total",
			Help: "Total number of slow-node warnings emitted",
		},
		[]string{"node"},
	)

	RegistryEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fanout_registry_evictions_total",
			Help: "Total number of completed requests reclaimed by the maintenance sweep",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(RequestsInFlight)
	prometheus.MustRegister(ReplicationsTotal)
	prometheus.MustRegister(NodeRequestDuration)
	prometheus.MustRegister(NodeRequestErrors)
	prometheus.MustRegister(VerificationRejections)
	prometheus.MustRegister(SlowNodeWarnings)
	prometheus.MustRegister(RegistryEvictions)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
