package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var snapshotFetchesTotal = promauto.With(prometheus.DefaultRegisterer).NewCounterVec(
	prometheus.CounterOpts{
		Name: "podwatch_snapshot_fetches_total",
		Help: "Total snapshot source calls by outcome (ok, resync, failure).",
	},
	[]string{"outcome"},
)

var snapshotFetchSeconds = promauto.With(prometheus.DefaultRegisterer).NewHistogram(
	prometheus.HistogramOpts{
		Name:    "podwatch_snapshot_fetch_duration_seconds",
		Help:    "Latency of snapshot source calls, including poll-bound waits.",
		Buckets: prometheus.DefBuckets,
	},
)

var ingestEventsTotal = promauto.With(prometheus.DefaultRegisterer).NewCounterVec(
	prometheus.CounterOpts{
		Name: "podwatch_ingest_events_total",
		Help: "Pod lifecycle events appended to monitored histories, by status.",
	},
	[]string{"status"},
)

var podsRescheduledTotal = promauto.With(prometheus.DefaultRegisterer).NewCounter(
	prometheus.CounterOpts{
		Name: "podwatch_pods_rescheduled_total",
		Help: "Replacement pods correlated to a deleted pod's logical slot.",
	},
)

var podsVacatedTotal = promauto.With(prometheus.DefaultRegisterer).NewCounter(
	prometheus.CounterOpts{
		Name: "podwatch_pods_vacated_total",
		Help: "Deleted pods whose correlation lookback expired with no replacement.",
	},
)

var sessionsFinishedTotal = promauto.With(prometheus.DefaultRegisterer).NewCounterVec(
	prometheus.CounterOpts{
		Name: "podwatch_sessions_finished_total",
		Help: "Finished monitoring sessions by terminal status (SETTLED, TIMED_OUT, CANCELLED).",
	},
	[]string{"status"},
)

var sessionSeconds = promauto.With(prometheus.DefaultRegisterer).NewHistogram(
	prometheus.HistogramOpts{
		Name:    "podwatch_session_duration_seconds",
		Help:    "Wall time of finished monitoring sessions.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	},
)

var recoverySeconds = promauto.With(prometheus.DefaultRegisterer).NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "podwatch_recovery_duration_seconds",
		Help:    "Recovery durations of disrupted pods by phase (readiness, rescheduling, total).",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 12),
	},
	[]string{"phase"},
)

// RecordSnapshotFetch counts one snapshot source call and observes its latency.
func RecordSnapshotFetch(outcome string, latency time.Duration) {
	snapshotFetchesTotal.WithLabelValues(outcome).Inc()
	snapshotFetchSeconds.Observe(latency.Seconds())
}

// RecordIngestEvents counts events of one status appended by an ingest.
func RecordIngestEvents(status string, count int) {
	ingestEventsTotal.WithLabelValues(status).Add(float64(count))
}

// RecordPodsRescheduled counts replacements claimed during one ingest.
func RecordPodsRescheduled(count int) {
	podsRescheduledTotal.Add(float64(count))
}

// RecordPodsVacated counts slots given up during one ingest.
func RecordPodsVacated(count int) {
	podsVacatedTotal.Add(float64(count))
}

// RecordSessionFinished counts one finished session and observes its wall time.
func RecordSessionFinished(status string, wall time.Duration) {
	sessionsFinishedTotal.WithLabelValues(status).Inc()
	sessionSeconds.Observe(wall.Seconds())
}

// RecordRecoveryDuration observes one recovery phase duration of a pod that
// made it back to ready.
func RecordRecoveryDuration(phase string, d time.Duration) {
	recoverySeconds.WithLabelValues(phase).Observe(d.Seconds())
}
