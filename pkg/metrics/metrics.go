// Package metrics declares the Prometheus collectors of the task queue.
// Collectors are registered on the default registry; expose them with promhttp.Handler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Submission outcomes.
const (
	OutcomeEnqueued  = "enqueued"
	OutcomeDuplicate = "duplicate"
	OutcomeError     = "error"
)

var (
	// TasksSubmitted counts submissions to the transport.
	// Labels:
	//   - kind: task kind (e.g. "scan_library")
	//   - outcome: "enqueued", "duplicate" or "error"
	TasksSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "librarytasks_submitted_total",
		Help: "The total number of task submissions by outcome",
	}, []string{"kind", "outcome"})

	// TasksProcessed tracks the total number of processed tasks by status and kind.
	// Labels:
	//   - status: "success", "retry", "failed" or "invalid"
	//   - kind: task kind
	TasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "librarytasks_processed_total",
		Help: "The total number of processed tasks",
	}, []string{"status", "kind"})

	// TaskDuration tracks task processing latency in seconds.
	TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "librarytasks_task_duration_seconds",
		Help:    "Duration of task processing",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	// QueueDepth tracks the number of tasks in each queue.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "librarytasks_queue_depth",
		Help: "Number of tasks in each queue",
	}, []string{"queue"})

	// QueueLatency tracks the time a task spends in the queue before being processed.
	QueueLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "librarytasks_queue_latency_seconds",
		Help:    "Time spent in queue before processing",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
)
