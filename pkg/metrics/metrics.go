package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry metrics
	WorkersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hive_workers_total",
			Help: "Total number of registered workers by tier",
		},
		[]string{"tier"},
	)

	ServiceWorkers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hive_service_workers",
			Help: "Healthy workers per service",
		},
		[]string{"service"},
	)

	RegistrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hive_registrations_total",
			Help: "Total worker registrations by outcome",
		},
		[]string{"outcome"},
	)

	HeartbeatsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hive_heartbeats_total",
			Help: "Total worker heartbeats by outcome",
		},
		[]string{"outcome"},
	)

	// Reverse proxy metrics
	ProxyRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hive_proxy_requests_total",
			Help: "Total reverse-proxied requests by service and outcome",
		},
		[]string{"service", "outcome"},
	)

	ProxyAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hive_proxy_attempts_total",
			Help: "Per-worker proxy attempts by outcome",
		},
		[]string{"worker", "outcome"},
	)

	ProxyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hive_proxy_duration_seconds",
			Help:    "Reverse-proxy request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service"},
	)

	// Edge router metrics
	CoordinatorsLive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hive_coordinators_live",
			Help: "Live coordinators known to the edge router",
		},
	)

	EdgeForwardsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hive_edge_forwards_total",
			Help: "Requests forwarded by the edge router by outcome",
		},
		[]string{"outcome"},
	)

	// Finger-cache router metrics
	RouterDispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hive_router_dispatch_total",
			Help: "Finger-cache router dispatches by path taken",
		},
		[]string{"path"}, // local, cache, dht, http, failed
	)
)

func init() {
	prometheus.MustRegister(WorkersTotal)
	prometheus.MustRegister(ServiceWorkers)
	prometheus.MustRegister(RegistrationsTotal)
	prometheus.MustRegister(HeartbeatsTotal)
	prometheus.MustRegister(ProxyRequestsTotal)
	prometheus.MustRegister(ProxyAttemptsTotal)
	prometheus.MustRegister(ProxyDuration)
	prometheus.MustRegister(CoordinatorsLive)
	prometheus.MustRegister(EdgeForwardsTotal)
	prometheus.MustRegister(RouterDispatchTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
