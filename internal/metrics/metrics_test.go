package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The collectors are package globals, so every check compares against the
// value seen before recording. The test then passes on repeated runs.
func TestRecorders(t *testing.T) {
	submitted := testutil.ToFloat64(submittedCounter.WithLabelValues("detect"))
	rejected := testutil.ToFloat64(rejectedCounter.WithLabelValues("identify"))
	completed := testutil.ToFloat64(completedCounter.WithLabelValues("detect"))
	failed := testutil.ToFloat64(failedCounter.WithLabelValues("register"))

	RecordSubmitted("detect")
	RecordSubmitted("detect")
	RecordRejected("identify")
	RecordCompleted("detect", 20*time.Millisecond)
	RecordFailed("register", time.Second)
	RecordQueueDepth("request", 3)

	assert.Equal(t, submitted+2, testutil.ToFloat64(submittedCounter.WithLabelValues("detect")))
	assert.Equal(t, rejected+1, testutil.ToFloat64(rejectedCounter.WithLabelValues("identify")))
	assert.Equal(t, completed+1, testutil.ToFloat64(completedCounter.WithLabelValues("detect")))
	assert.Equal(t, failed+1, testutil.ToFloat64(failedCounter.WithLabelValues("register")))
	assert.Equal(t, 3.0, testutil.ToFloat64(queueDepth.WithLabelValues("request")))

	// One histogram series per op label
	assert.Equal(t, 2, testutil.CollectAndCount(operationLatency, "faceapi_operation_duration_seconds"))
}

func TestRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	// Only the first registration in the process reaches a registry; later
	// ones must be no-ops rather than duplicate-registration panics.
	require.NotPanics(t, func() {
		Register(reg)
		Register(reg)
		Register(prometheus.NewRegistry())
	})
}
