// Package metrics provides Prometheus instrumentation for the process
// package's scheduler, reporting how processes move through UNKNOWN,
// SUCCESS, FAILURE, WAITING, and CANCELLED over the lifetime of a run.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SchedulerMetrics collects execution counts and latencies across
// Process.Execute/Resume/Fail/Cancel calls. All metrics are namespaced
// "lsprocess_".
type SchedulerMetrics struct {
	waitingGauge    prometheus.Gauge
	terminalTotal   *prometheus.CounterVec
	stepLatency     *prometheus.HistogramVec
	policyRejection *prometheus.CounterVec
}

// NewSchedulerMetrics registers all metrics with registry.
func NewSchedulerMetrics(registry prometheus.Registerer) *SchedulerMetrics {
	factory := promauto.With(registry)
	return &SchedulerMetrics{
		waitingGauge: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "lsprocess",
			Name:      "waiting_processes",
			Help:      "Number of processes currently suspended in WAITING.",
		}),
		terminalTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lsprocess",
			Name:      "terminal_total",
			Help:      "Terminal outcomes by status and process type.",
		}, []string{"type", "status"}),
		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lsprocess",
			Name:      "execute_latency_ms",
			Help:      "Wall-clock duration of one Execute/Resume/Fail/Cancel call.",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000},
		}, []string{"type", "op"}),
		policyRejection: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lsprocess",
			Name:      "policy_rejections_total",
			Help:      "Builder/Merge operations rejected by an update policy.",
		}, []string{"node"}),
	}
}

// ObserveEnter increments the WAITING gauge when a call suspends.
func (m *SchedulerMetrics) ObserveEnter() { m.waitingGauge.Inc() }

// ObserveLeave decrements the WAITING gauge when a suspended process resolves.
func (m *SchedulerMetrics) ObserveLeave() { m.waitingGauge.Dec() }

// ObserveTerminal records a terminal outcome for a process type.
func (m *SchedulerMetrics) ObserveTerminal(processType, status string) {
	m.terminalTotal.WithLabelValues(processType, status).Inc()
}

// ObserveLatency records how long op took for processType.
func (m *SchedulerMetrics) ObserveLatency(processType, op string, d time.Duration) {
	m.stepLatency.WithLabelValues(processType, op).Observe(float64(d.Milliseconds()))
}

// ObservePolicyRejection records a Builder/Merge no-op caused by a policy.
func (m *SchedulerMetrics) ObservePolicyRejection(nodeID string) {
	m.policyRejection.WithLabelValues(nodeID).Inc()
}
