// Package metrics exposes prometheus instrumentation for the task worker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the worker and queue collectors. A nil *Metrics is valid and
// turns every observation into a no-op, so components can run uninstrumented
// in tests.
type Metrics struct {
	tasksSubmitted *prometheus.CounterVec
	tasksStarted   prometheus.Counter
	tasksSucceeded prometheus.Counter
	tasksFailed    prometheus.Counter
	tasksCancelled prometheus.Counter
	queueDepth     prometheus.Gauge
	runDuration    prometheus.Histogram
}

// New creates the task metrics and registers them with the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		tasksSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "taskhub_tasks_submitted_total",
			Help: "Tasks accepted for execution, by task type.",
		}, []string{"task_type"}),
		tasksStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "taskhub_tasks_started_total",
			Help: "Tasks the worker began executing.",
		}),
		tasksSucceeded: factory.NewCounter(prometheus.CounterOpts{
			Name: "taskhub_tasks_succeeded_total",
			Help: "Tasks that reached SUCCESS.",
		}),
		tasksFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "taskhub_tasks_failed_total",
			Help: "Tasks that reached FAILED.",
		}),
		tasksCancelled: factory.NewCounter(prometheus.CounterOpts{
			Name: "taskhub_tasks_cancelled_total",
			Help: "Tasks that reached CANCELLED.",
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "taskhub_queue_depth",
			Help: "Task ids currently waiting in the queue.",
		}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "taskhub_task_run_duration_seconds",
			Help:    "Wall-clock handler execution time.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
	}
}

// TaskSubmitted records one accepted submission for the given task type.
func (m *Metrics) TaskSubmitted(taskType string) {
	if m == nil {
		return
	}
	m.tasksSubmitted.WithLabelValues(taskType).Inc()
}

// TaskStarted records the worker picking up a task.
func (m *Metrics) TaskStarted() {
	if m == nil {
		return
	}
	m.tasksStarted.Inc()
}

// TaskSucceeded records a SUCCESS transition.
func (m *Metrics) TaskSucceeded() {
	if m == nil {
		return
	}
	m.tasksSucceeded.Inc()
}

// TaskFailed records a FAILED transition.
func (m *Metrics) TaskFailed() {
	if m == nil {
		return
	}
	m.tasksFailed.Inc()
}

// TaskCancelled records a CANCELLED transition.
func (m *Metrics) TaskCancelled() {
	if m == nil {
		return
	}
	m.tasksCancelled.Inc()
}

// SetQueueDepth records the current queue length.
func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

// ObserveRunDuration records one handler execution time in seconds.
func (m *Metrics) ObserveRunDuration(seconds float64) {
	if m == nil {
		return
	}
	m.runDuration.Observe(seconds)
}
