package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordersUpdateCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	Register(registry)

	RecordAdmissionRejected("acc-1", "fast", "queue_full")
	RecordAdmissionRejected("acc-1", "fast", "queue_full")
	SetQueueDepth("acc-1", "default", 4)
	RecordTerminal("acc-1", "SUCCESS")
	RecordSelectionDuration(3 * time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(admissionRejected.WithLabelValues("acc-1", "fast", "queue_full")))
	assert.Equal(t, 4.0, testutil.ToFloat64(queueDepth.WithLabelValues("acc-1", "default")))
	assert.Equal(t, 1.0, testutil.ToFloat64(terminalTasks.WithLabelValues("acc-1", "SUCCESS")))

	count, err := testutil.GatherAndCount(registry, "drawq_selection_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
