package fetchstats_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chaosloop/podwatch/internal/infra/fetchstats"
	"github.com/chaosloop/podwatch/internal/logic/monitor"
)

func TestCollector(t *testing.T) {
	t.Parallel()

	t.Run("a fresh collector reports zeros", func(t *testing.T) {
		t.Parallel()

		stats := fetchstats.NewCollector().Statistics()
		require.Zero(t, stats.OKCount)
		require.True(t, stats.LastFetch.IsZero())
		require.Equal(t, fetchstats.LatencyMetrics{}, stats.OKLatencies)
	})

	t.Run("outcomes are tallied separately", func(t *testing.T) {
		t.Parallel()

		c := fetchstats.NewCollector()
		c.SnapshotFetch(monitor.FetchOK, 10*time.Millisecond)
		c.SnapshotFetch(monitor.FetchOK, 20*time.Millisecond)
		c.SnapshotFetch(monitor.FetchOK, 30*time.Millisecond)
		c.SnapshotFetch(monitor.FetchResync, 5*time.Millisecond)
		c.SnapshotFetch(monitor.FetchFailure, 250*time.Millisecond)

		stats := c.Statistics()
		require.Equal(t, 3, stats.OKCount)
		require.Equal(t, 1, stats.ResyncCount)
		require.Equal(t, 1, stats.FailureCount)
		require.Equal(t, 20*time.Millisecond, stats.OKLatencies.Median)
		require.Equal(t, 20*time.Millisecond, stats.OKLatencies.Average)
		require.Equal(t, 30*time.Millisecond, stats.OKLatencies.P99)
		require.Equal(t, 250*time.Millisecond, stats.FailureLatencies.Median)
		require.False(t, stats.LastFetch.IsZero())
		require.False(t, stats.LastFailure.IsZero())
	})

	t.Run("latency metrics cover only the buffered window", func(t *testing.T) {
		t.Parallel()

		c := fetchstats.NewCollector()
		for i := 1; i <= 120; i++ {
			c.SnapshotFetch(monitor.FetchOK, time.Duration(i)*time.Millisecond)
		}

		stats := c.Statistics()
		require.Equal(t, 120, stats.OKCount)
		require.Equal(t, 100, stats.OKLatencies.Count)
		require.Equal(t, 70500*time.Microsecond, stats.OKLatencies.Median)
		require.Equal(t, 120*time.Millisecond, stats.OKLatencies.P99)
		require.Equal(t, 100*time.Millisecond, stats.OKLatencies.P80)
	})

	t.Run("other telemetry callbacks are ignored", func(t *testing.T) {
		t.Parallel()

		c := fetchstats.NewCollector()
		c.Ingested(monitor.IngestStats{Added: 1})
		c.SessionFinished(monitor.SessionResult{Status: monitor.SessionSettled})

		require.Equal(t, fetchstats.Statistics{}, c.Statistics())
	})
}
