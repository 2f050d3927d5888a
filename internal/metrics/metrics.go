package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mirador_heal"

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of closed runs, partitioned by terminal status.",
		},
		[]string{"status"},
	)

	runDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Run duration in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	patchTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "patch_transitions_total",
			Help:      "Patch lifecycle transitions, partitioned by resulting status.",
		},
		[]string{"status"},
	)

	alertsRaisedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_raised_total",
			Help:      "Alerts raised, partitioned by severity.",
		},
		[]string{"severity"},
	)

	heartbeatsRecordedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_recorded_total",
			Help:      "Heartbeats persisted.",
		},
	)

	heartbeatWriteFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeat_write_failures_total",
			Help:      "Heartbeat writes that failed and were skipped until the next tick.",
		},
	)

	reportSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "report_seconds",
			Help:      "Proof report generation latency in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)

	reportSourceErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "report_source_errors_total",
			Help:      "Report data sources that failed to load, partitioned by source.",
		},
		[]string{"source"},
	)
)

// Register attaches mirador-heal collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		runsTotal,
		runDurationSeconds,
		patchTransitionsTotal,
		alertsRaisedTotal,
		heartbeatsRecordedTotal,
		heartbeatWriteFailuresTotal,
		reportSeconds,
		reportSourceErrorsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveRun records a closed run.
func ObserveRun(status string, duration time.Duration) {
	runsTotal.WithLabelValues(status).Inc()
	if duration < 0 {
		duration = 0
	}
	runDurationSeconds.Observe(duration.Seconds())
}

// ObservePatchTransition counts a patch reaching status.
func ObservePatchTransition(status string) {
	patchTransitionsTotal.WithLabelValues(status).Inc()
}

// ObserveAlert counts a raised alert.
func ObserveAlert(severity string) {
	alertsRaisedTotal.WithLabelValues(severity).Inc()
}

// ObserveHeartbeat counts a heartbeat write attempt.
func ObserveHeartbeat(err error) {
	if err != nil {
		heartbeatWriteFailuresTotal.Inc()
		return
	}
	heartbeatsRecordedTotal.Inc()
}

// ObserveReport records report latency and the sources that failed.
func ObserveReport(duration time.Duration, failedSources []string) {
	reportSeconds.Observe(duration.Seconds())
	for _, source := range failedSources {
		reportSourceErrorsTotal.WithLabelValues(source).Inc()
	}
}
