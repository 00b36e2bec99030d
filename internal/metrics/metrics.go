package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "faceapi"

var (
	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Number of items currently held by each queue.",
		},
		[]string{"queue"},
	)
	submittedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_submitted_total",
			Help:      "Count of requests accepted into the request queue.",
		},
		[]string{"op"},
	)
	rejectedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_rejected_total",
			Help:      "Count of submissions refused because the request queue was full.",
		},
		[]string{"op"},
	)
	completedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_completed_total",
			Help:      "Count of operations that succeeded and produced a result.",
		},
		[]string{"op"},
	)
	failedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_failed_total",
			Help:      "Count of operations whose engine call failed, dropped or reported.",
		},
		[]string{"op"},
	)
	operationLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Time spent inside the engine for each operation.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"op"},
	)
)

var registerMetrics sync.Once

// Register all metrics with reg. Only the first call has any effect.
func Register(reg prometheus.Registerer) {
	registerMetrics.Do(func() {
		reg.MustRegister(queueDepth)
		reg.MustRegister(submittedCounter)
		reg.MustRegister(rejectedCounter)
		reg.MustRegister(completedCounter)
		reg.MustRegister(failedCounter)
		reg.MustRegister(operationLatency)
	})
}

// RecordQueueDepth sets the current depth of the named queue.
func RecordQueueDepth(queue string, depth int) {
	queueDepth.WithLabelValues(queue).Set(float64(depth))
}

// RecordSubmitted counts a request accepted into the request queue.
func RecordSubmitted(op string) {
	submittedCounter.WithLabelValues(op).Inc()
}

// RecordRejected counts a submission refused with a full queue.
func RecordRejected(op string) {
	rejectedCounter.WithLabelValues(op).Inc()
}

// RecordCompleted counts a successful operation and its engine latency.
func RecordCompleted(op string, d time.Duration) {
	completedCounter.WithLabelValues(op).Inc()
	operationLatency.WithLabelValues(op).Observe(d.Seconds())
}

// RecordFailed counts a failed operation and its engine latency.
func RecordFailed(op string, d time.Duration) {
	failedCounter.WithLabelValues(op).Inc()
	operationLatency.WithLabelValues(op).Observe(d.Seconds())
}
