package runtimemetrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics wraps prometheus collectors for executor metrics.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	stepsTotal   *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec

	cacheResultsTotal    *prometheus.CounterVec
	cacheEvictionsTotal  prometheus.Counter
	readRetriesTotal     prometheus.Counter
	snapshotCollapse     prometheus.Counter
	multiExecAbortsTotal *prometheus.CounterVec

	triggerFanoutTotal *prometheus.CounterVec
	sinkWritesTotal    *prometheus.CounterVec

	uptime         prometheus.GaugeFunc
	activeSteps    prometheus.Gauge
	pendingTrigger *prometheus.GaugeVec
}

// Default histogram buckets for step duration (in milliseconds).
var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

var promMetrics *PrometheusMetrics

// InitPrometheus initializes the Prometheus metrics subsystem.
func InitPrometheus(namespace string, buckets []float64) {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	pm := &PrometheusMetrics{
		registry: registry,

		stepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_total",
				Help:      "Total number of DAG function steps executed",
			},
			[]string{"function", "status"},
		),

		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_milliseconds",
				Help:      "Duration of DAG function steps in milliseconds",
				Buckets:   buckets,
			},
			[]string{"function"},
		),

		cacheResultsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolver_cache_results_total",
				Help:      "Resolver value-cache hits and misses",
			},
			[]string{"result"},
		),

		cacheEvictionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolver_cache_evictions_total",
				Help:      "Total expired entries reclaimed from the resolver's value cache",
			},
		),

		readRetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolver_read_retries_total",
				Help:      "Total busy-retry iterations while resolving a reference",
			},
		),

		snapshotCollapse: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "causal_snapshot_collapse_total",
				Help:      "Total causal snapshot intervals that collapsed to empty",
			},
		),

		multiExecAbortsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "multiexec_aborts_total",
				Help:      "Total MULTIEXEC controlled aborts by function",
			},
			[]string{"function"},
		),

		triggerFanoutTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "trigger_fanout_total",
				Help:      "Total triggers pushed to downstream functions",
			},
			[]string{"sink"},
		),

		sinkWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sink_writes_total",
				Help:      "Total sink dispatches by destination kind",
			},
			[]string{"kind"},
		),

		activeSteps: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_steps",
				Help:      "Number of DAG steps currently executing",
			},
		),

		pendingTrigger: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pending_trigger_sets",
				Help:      "Schedules waiting on more incoming triggers before a step can run",
			},
			[]string{"schedule"},
		),
	}

	pm.uptime = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Time since the executor started",
		},
		func() float64 {
			return time.Since(StartTime()).Seconds()
		},
	)

	registry.MustRegister(
		pm.stepsTotal,
		pm.stepDuration,
		pm.cacheResultsTotal,
		pm.cacheEvictionsTotal,
		pm.readRetriesTotal,
		pm.snapshotCollapse,
		pm.multiExecAbortsTotal,
		pm.triggerFanoutTotal,
		pm.sinkWritesTotal,
		pm.uptime,
		pm.activeSteps,
		pm.pendingTrigger,
	)

	promMetrics = pm
}

// RecordPrometheusStep records a step outcome in Prometheus collectors.
func RecordPrometheusStep(function string, durationMs int64, success bool) {
	if promMetrics == nil {
		return
	}
	status := "success"
	if !success {
		status = "failed"
	}
	promMetrics.stepsTotal.WithLabelValues(function, status).Inc()
	promMetrics.stepDuration.WithLabelValues(function).Observe(float64(durationMs))
}

// RecordPrometheusCacheResult records a resolver cache hit or miss.
func RecordPrometheusCacheResult(hit bool) {
	if promMetrics == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	promMetrics.cacheResultsTotal.WithLabelValues(result).Inc()
}

// RecordPrometheusCacheEviction records the resolver value cache reclaiming
// an expired entry.
func RecordPrometheusCacheEviction() {
	if promMetrics == nil {
		return
	}
	promMetrics.cacheEvictionsTotal.Inc()
}

// RecordPrometheusReadRetry records a resolver busy-retry iteration.
func RecordPrometheusReadRetry() {
	if promMetrics == nil {
		return
	}
	promMetrics.readRetriesTotal.Inc()
}

// RecordPrometheusSnapshotCollapse records a causal snapshot interval collapse.
func RecordPrometheusSnapshotCollapse() {
	if promMetrics == nil {
		return
	}
	promMetrics.snapshotCollapse.Inc()
}

// RecordPrometheusMultiExecAbort records a MULTIEXEC controlled abort.
func RecordPrometheusMultiExecAbort(function string) {
	if promMetrics == nil {
		return
	}
	promMetrics.multiExecAbortsTotal.WithLabelValues(function).Inc()
}

// RecordTriggerFanout records a trigger push to a downstream sink.
func RecordTriggerFanout(sink string) {
	if promMetrics == nil {
		return
	}
	promMetrics.triggerFanoutTotal.WithLabelValues(sink).Inc()
}

// RecordSinkWrite records a sink dispatch by destination kind
// ("continuation", "response_address", or "kvs").
func RecordSinkWrite(kind string) {
	if promMetrics == nil {
		return
	}
	promMetrics.sinkWritesTotal.WithLabelValues(kind).Inc()
}

// IncActiveSteps increments the active-steps gauge.
func IncActiveSteps() {
	if promMetrics == nil {
		return
	}
	promMetrics.activeSteps.Inc()
}

// DecActiveSteps decrements the active-steps gauge.
func DecActiveSteps() {
	if promMetrics == nil {
		return
	}
	promMetrics.activeSteps.Dec()
}

// SetPendingTriggerSets records how many triggers a waiting schedule has accumulated.
func SetPendingTriggerSets(scheduleID string, count int) {
	if promMetrics == nil {
		return
	}
	promMetrics.pendingTrigger.WithLabelValues(scheduleID).Set(float64(count))
}

// PrometheusHandler returns an HTTP handler for Prometheus metrics scraping.
func PrometheusHandler() http.Handler {
	if promMetrics == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("prometheus metrics not initialized"))
		})
	}
	return promhttp.HandlerFor(promMetrics.registry, promhttp.HandlerOpts{})
}

// PrometheusRegistry returns the prometheus registry (for custom collectors).
func PrometheusRegistry() *prometheus.Registry {
	if promMetrics == nil {
		return nil
	}
	return promMetrics.registry
}
