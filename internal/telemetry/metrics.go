package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	TasksAccepted     = prometheus.NewCounter(prometheus.CounterOpts{Name: "browser_tasks_accepted_total", Help: "Tasks accepted by the scheduler after dedup"})
	TasksDispatched   = prometheus.NewCounter(prometheus.CounterOpts{Name: "browser_tasks_dispatched_total", Help: "Task/proxy pairs handed to workers"})
	TaskOutcomes      = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "browser_task_outcomes_total", Help: "Worker outcomes by kind"}, []string{"outcome"})
	InFlightGauge     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "browser_tasks_inflight", Help: "Tasks currently held by workers"})
	QueueDepthGauge   = prometheus.NewGauge(prometheus.GaugeOpts{Name: "browser_tasks_queue_depth", Help: "Tasks waiting for a proxy or a worker slot"})
	ProxyPoolGauge    = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "browser_proxy_pool", Help: "Raw proxies by pool state"}, []string{"state"})
	ResolveDuration   = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "browser_proxy_resolve_seconds", Help: "Rental endpoint latency by verdict", Buckets: prometheus.DefBuckets}, []string{"verdict"})
	DrainCycles       = prometheus.NewCounter(prometheus.CounterOpts{Name: "browser_drain_cycles_total", Help: "Completed drain cycles"})
	LivenessProbes    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "liveness_probes_total", Help: "Liveness probe results"}, []string{"result"})
	JournalWriteFails = prometheus.NewCounter(prometheus.CounterOpts{Name: "journal_write_failures_total", Help: "Events the Redis journal failed to store"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			TasksAccepted,
			TasksDispatched,
			TaskOutcomes,
			InFlightGauge,
			QueueDepthGauge,
			ProxyPoolGauge,
			ResolveDuration,
			DrainCycles,
			LivenessProbes,
			JournalWriteFails,
		)
	})
	return promhttp.Handler()
}
