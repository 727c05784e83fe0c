// Package metrics exposes the Reactor's internal gauges and counters
// through prometheus/client_golang's promauto registration, grounded
// on the pack's shockwave service (buffer_pool_prometheus.go), which
// wires the same promauto.With(reg) pattern for pool-style internals.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every gauge/counter the Reactor and its collaborators
// update. A Metrics value is safe for concurrent use since the
// underlying prometheus types already are.
type Metrics struct {
	ConnectionsOpen    prometheus.Gauge
	ConnectionsTotal   prometheus.Counter
	WorkerQueueDepth   prometheus.Gauge
	DBPoolInUse        prometheus.Gauge
	TimerHeapSize      prometheus.Gauge
	RequestsTotal      *prometheus.CounterVec
	ResponseBytesTotal prometheus.Counter
}

// New registers and returns the full metric set against reg. Pass
// prometheus.NewRegistry() for an isolated registry in tests, or
// prometheus.DefaultRegisterer for production.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ConnectionsOpen: f.NewGauge(prometheus.GaugeOpts{
			Name: "ember_connections_open",
			Help: "Number of live entries in the connection table.",
		}),
		ConnectionsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "ember_connections_accepted_total",
			Help: "Total connections accepted since startup.",
		}),
		WorkerQueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "ember_worker_queue_depth",
			Help: "Number of tasks currently queued in the worker pool.",
		}),
		DBPoolInUse: f.NewGauge(prometheus.GaugeOpts{
			Name: "ember_db_pool_in_use",
			Help: "Number of database handles currently checked out.",
		}),
		TimerHeapSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "ember_timer_heap_size",
			Help: "Number of armed idle-timeout deadlines.",
		}),
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ember_requests_total",
			Help: "Total HTTP responses served, labeled by status code.",
		}, []string{"code"}),
		ResponseBytesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "ember_response_bytes_total",
			Help: "Total response bytes written to client sockets.",
		}),
	}
}
