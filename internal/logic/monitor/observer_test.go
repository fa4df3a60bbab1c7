package monitor_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chaosloop/podwatch/internal/logic/monitor"
)

func TestTeeObserver(t *testing.T) {
	t.Parallel()

	first := &captureObserver{}
	second := &captureObserver{}
	tee := monitor.TeeObserver(first, second)

	tee.SnapshotFetch(monitor.FetchOK, 5*time.Millisecond)
	tee.Ingested(monitor.IngestStats{Added: 1})
	tee.SessionFinished(monitor.SessionResult{Status: monitor.SessionSettled})

	for _, obs := range []*captureObserver{first, second} {
		require.Equal(t, []monitor.FetchOutcome{monitor.FetchOK}, obs.fetches)
		require.Equal(t, 1, obs.ingests)
		require.Len(t, obs.finished, 1)
	}
}
