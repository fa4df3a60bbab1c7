package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testBase = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func atSec(sec int) time.Time {
	return testBase.Add(time.Duration(sec) * time.Second)
}

func ev(sec int, status PodStatus) PodEvent {
	return PodEvent{Timestamp: atSec(sec), Status: status, ResourceVersion: "1"}
}

func TestComputeRecoveryMetrics(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		pod          MonitoredPod
		rescheduling *time.Duration
		readiness    *time.Duration
		total        *time.Duration
	}{
		{
			name: "rescheduled pod measures all three durations",
			pod: MonitoredPod{
				LogicalID:   "default/p-1",
				Rescheduled: true,
				EventHistory: []PodEvent{
					ev(0, PodStatusAdded),
					ev(1, PodStatusReady),
					ev(10, PodStatusDeletionScheduled),
					ev(11, PodStatusDeleted),
					ev(13, PodStatusAdded),
					ev(15, PodStatusReady),
				},
			},
			rescheduling: durPtr(2 * time.Second),
			readiness:    durPtr(2 * time.Second),
			total:        durPtr(5 * time.Second),
		},
		{
			name: "readiness blip without rescheduling",
			pod: MonitoredPod{
				LogicalID: "default/p-1",
				EventHistory: []PodEvent{
					ev(0, PodStatusAdded),
					ev(1, PodStatusReady),
					ev(5, PodStatusNotReady),
					ev(9, PodStatusReady),
				},
			},
			rescheduling: nil,
			readiness:    durPtr(4 * time.Second),
			total:        durPtr(4 * time.Second),
		},
		{
			name: "not ready while settling is not a disruption",
			pod: MonitoredPod{
				LogicalID: "default/p-1",
				EventHistory: []PodEvent{
					ev(0, PodStatusAdded),
					ev(2, PodStatusNotReady),
					ev(6, PodStatusReady),
				},
			},
			rescheduling: nil,
			readiness:    nil,
			total:        nil,
		},
		{
			name: "pod that never came back has no durations",
			pod: MonitoredPod{
				LogicalID: "default/p-1",
				EventHistory: []PodEvent{
					ev(0, PodStatusAdded),
					ev(1, PodStatusReady),
					ev(10, PodStatusDeletionScheduled),
					ev(11, PodStatusDeleted),
				},
			},
			rescheduling: nil,
			readiness:    nil,
			total:        nil,
		},
		{
			name: "replacement observed before final deletion floors the gap",
			pod: MonitoredPod{
				LogicalID:   "default/p-1",
				Rescheduled: true,
				EventHistory: []PodEvent{
					ev(0, PodStatusAdded),
					ev(1, PodStatusReady),
					ev(10, PodStatusDeletionScheduled),
					ev(12, PodStatusAdded),
					ev(13, PodStatusDeleted),
					ev(14, PodStatusReady),
				},
			},
			rescheduling: durPtr(0),
			readiness:    durPtr(2 * time.Second),
			total:        durPtr(4 * time.Second),
		},
		{
			name: "two reschedules sum the gaps",
			pod: MonitoredPod{
				LogicalID:   "default/p-1",
				Rescheduled: true,
				EventHistory: []PodEvent{
					ev(0, PodStatusAdded),
					ev(1, PodStatusReady),
					ev(10, PodStatusDeleted),
					ev(12, PodStatusAdded),
					ev(13, PodStatusReady),
					ev(20, PodStatusDeleted),
					ev(25, PodStatusAdded),
					ev(26, PodStatusReady),
				},
			},
			rescheduling: durPtr(7 * time.Second),
			readiness:    durPtr(1 * time.Second),
			total:        durPtr(16 * time.Second),
		},
		{
			name: "hard kill without termination phase",
			pod: MonitoredPod{
				LogicalID:   "default/p-1",
				Rescheduled: true,
				EventHistory: []PodEvent{
					ev(0, PodStatusAdded),
					ev(1, PodStatusReady),
					ev(5, PodStatusDeleted),
					ev(7, PodStatusAdded),
					ev(9, PodStatusReady),
				},
			},
			rescheduling: durPtr(2 * time.Second),
			readiness:    durPtr(2 * time.Second),
			total:        durPtr(4 * time.Second),
		},
		{
			name: "replacement still settling has rescheduling only",
			pod: MonitoredPod{
				LogicalID:   "default/p-1",
				Rescheduled: true,
				EventHistory: []PodEvent{
					ev(0, PodStatusAdded),
					ev(1, PodStatusReady),
					ev(10, PodStatusDeleted),
					ev(13, PodStatusAdded),
					ev(13, PodStatusNotReady),
				},
			},
			rescheduling: durPtr(3 * time.Second),
			readiness:    nil,
			total:        nil,
		},
		{
			name:         "empty history",
			pod:          MonitoredPod{LogicalID: "default/p-1"},
			rescheduling: nil,
			readiness:    nil,
			total:        nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			m := computeRecoveryMetrics(tt.pod)

			require.Equal(t, tt.pod.LogicalID, m.LogicalID)
			requireDuration(t, tt.rescheduling, m.ReschedulingTime, "reschedulingTime")
			requireDuration(t, tt.readiness, m.ReadinessTime, "readinessTime")
			requireDuration(t, tt.total, m.TotalRecoveryTime, "totalRecoveryTime")
		})
	}
}

func TestBuildPodRecovery(t *testing.T) {
	t.Parallel()

	pod := MonitoredPod{
		LogicalID: "default/p-1",
		PhysicalGenerations: []PodIdentity{
			{Name: "p-1", Namespace: "default"},
			{Name: "p-1-replacement", Namespace: "default"},
		},
		Rescheduled: true,
		EventHistory: []PodEvent{
			ev(0, PodStatusAdded),
			ev(1, PodStatusReady),
			ev(10, PodStatusDeleted),
			ev(13, PodStatusAdded),
			ev(15, PodStatusReady),
		},
	}

	t.Run("recovered pod reports the final generation", func(t *testing.T) {
		t.Parallel()

		pr := buildPodRecovery(pod, true)

		require.Equal(t, RecoveryStateRecovered, pr.State)
		require.Equal(t, "p-1-replacement", pr.PodName)
		require.Equal(t, "default", pr.Namespace)
		require.True(t, pr.Rescheduled)
		require.NotNil(t, pr.Metrics.TotalRecoveryTime)
	})

	t.Run("unrecovered pod is marked timed out", func(t *testing.T) {
		t.Parallel()

		pr := buildPodRecovery(pod, false)

		require.Equal(t, RecoveryStateTimedOut, pr.State)
	})
}

func durPtr(d time.Duration) *time.Duration {
	return &d
}

func requireDuration(t *testing.T, want, got *time.Duration, field string) {
	t.Helper()

	if want == nil {
		require.Nil(t, got, field)

		return
	}

	require.NotNil(t, got, field)
	require.Equal(t, *want, *got, field)
}
