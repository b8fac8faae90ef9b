package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "drawq"

var (
	admissionRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_rejected_total",
			Help:      "Count of admission checks that denied a tier, by reason.",
		},
		[]string{"account", "mode", "reason"},
	)
	selectionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "selection_duration_seconds",
			Help:      "Latency of choosing an account for a request.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)
	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Entries waiting in an account tier queue.",
		},
		[]string{"account", "tier"},
	)
	running = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "running_tasks",
			Help:      "Tasks executing for an account.",
		},
		[]string{"account"},
	)
	terminalTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_terminal_total",
			Help:      "Count of tasks that reached a terminal status.",
		},
		[]string{"account", "status"},
	)
	upstreamRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_retries_total",
			Help:      "Count of protocol calls retried, by upstream code.",
		},
		[]string{"account", "code"},
	)
	accountsDisabled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accounts_disabled_total",
			Help:      "Count of accounts disabled after a forbidden upstream answer.",
		},
		[]string{"account"},
	)
)

var registerMetrics sync.Once

// Register all metrics with registerer. Only the first call has an effect.
func Register(registerer prometheus.Registerer) {
	registerMetrics.Do(func() {
		registerer.MustRegister(admissionRejected)
		registerer.MustRegister(selectionDuration)
		registerer.MustRegister(queueDepth)
		registerer.MustRegister(running)
		registerer.MustRegister(terminalTasks)
		registerer.MustRegister(upstreamRetries)
		registerer.MustRegister(accountsDisabled)
	})
}

func RecordAdmissionRejected(account, mode, reason string) {
	admissionRejected.WithLabelValues(account, mode, reason).Inc()
}

func RecordSelectionDuration(d time.Duration) {
	selectionDuration.Observe(d.Seconds())
}

func SetQueueDepth(account, tier string, depth int) {
	queueDepth.WithLabelValues(account, tier).Set(float64(depth))
}

func SetRunning(account string, n int) {
	running.WithLabelValues(account).Set(float64(n))
}

func RecordTerminal(account, status string) {
	terminalTasks.WithLabelValues(account, status).Inc()
}

func RecordUpstreamRetry(account, code string) {
	upstreamRetries.WithLabelValues(account, code).Inc()
}

func RecordAccountDisabled(account string) {
	accountsDisabled.WithLabelValues(account).Inc()
}
