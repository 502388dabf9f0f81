package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var Cycles = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "idxsync",
	Name:      "cycles_total",
}, []string{"index", "mode", "result"})

var CycleDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "idxsync",
	Name:      "cycle_duration_seconds",
	Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
}, []string{"index", "mode"})

var Documents = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "idxsync",
	Name:      "documents_total",
}, []string{"index", "op"})

var PoolCheckouts = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "idxsync",
	Name:      "pool_checkout_total",
}, []string{"result"})

var NodeFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "idxsync",
	Name:      "node_failures_total",
}, []string{"host"})

// Registry holds every collector above; the daemon exposes it on /metrics.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(Cycles, CycleDuration, Documents, PoolCheckouts, NodeFailures)
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
