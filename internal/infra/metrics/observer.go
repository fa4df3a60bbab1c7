package metrics

import (
	"time"

	"github.com/chaosloop/podwatch/internal/logic/monitor"
)

// Observer feeds session telemetry into the Prometheus instruments. Stateless
// and safe for concurrent use by any number of sessions.
type Observer struct{}

var _ monitor.Observer = Observer{}

func (Observer) SnapshotFetch(outcome monitor.FetchOutcome, latency time.Duration) {
	RecordSnapshotFetch(string(outcome), latency)
}

func (Observer) Ingested(stats monitor.IngestStats) {
	for status, count := range stats.EventsByStatus {
		RecordIngestEvents(string(status), count)
	}

	RecordPodsRescheduled(stats.Rescheduled)
	RecordPodsVacated(stats.Vacated)
}

func (Observer) SessionFinished(result monitor.SessionResult) {
	RecordSessionFinished(string(result.Status), result.EndedAt.Sub(result.StartedAt))

	for _, pod := range result.Recovered {
		recordPodRecovery(pod.Metrics)
	}
}

func recordPodRecovery(m monitor.RecoveryMetrics) {
	if m.ReadinessTime != nil {
		RecordRecoveryDuration("readiness", *m.ReadinessTime)
	}

	if m.ReschedulingTime != nil {
		RecordRecoveryDuration("rescheduling", *m.ReschedulingTime)
	}

	if m.TotalRecoveryTime != nil {
		RecordRecoveryDuration("total", *m.TotalRecoveryTime)
	}
}
