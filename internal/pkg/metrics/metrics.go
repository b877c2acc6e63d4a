package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantly_requests_total",
			Help: "Total number of gateway requests",
		},
		[]string{"method", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tenantly_request_duration_seconds",
			Help:    "Gateway request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "status"},
	)

	SchemaSwitchErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tenantly_schema_switch_errors_total",
			Help: "Failed schema switches during request entry",
		},
	)
)

func init() {
	prometheus.MustRegister(RequestCounter, RequestDuration, SchemaSwitchErrors)
}

// Handler exposes the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
