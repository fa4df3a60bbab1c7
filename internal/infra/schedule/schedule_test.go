package schedule_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chaosloop/podwatch/internal/infra/schedule"
)

func TestSchedule_NextAfter(t *testing.T) {
	t.Parallel()

	t.Run("standard spec returns next occurrence", func(t *testing.T) {
		t.Parallel()

		sched, err := schedule.New("40 7 * * *", "", 0)
		require.NoError(t, err)

		after := time.Date(2026, 2, 15, 7, 0, 0, 0, time.UTC)
		next := sched.NextAfter(after)
		require.True(t, next.After(after))
		require.Equal(t, 7, next.Hour())
		require.Equal(t, 40, next.Minute())
	})

	t.Run("with tz uses timezone", func(t *testing.T) {
		t.Parallel()

		sched, err := schedule.New("0 8 * * *", "America/New_York", 0)
		require.NoError(t, err)

		after := time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC)
		require.True(t, sched.NextAfter(after).After(after))
	})

	t.Run("inline CRON_TZ ignores tz param", func(t *testing.T) {
		t.Parallel()

		sched, err := schedule.New("CRON_TZ=UTC 0 14 * * *", "America/New_York", 0)
		require.NoError(t, err)

		after := time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC)
		next := sched.NextAfter(after)
		require.True(t, next.After(after))
		require.Equal(t, 14, next.Hour())
	})

	t.Run("jitter stays within the bound", func(t *testing.T) {
		t.Parallel()

		plain, err := schedule.New("40 7 * * *", "", 0)
		require.NoError(t, err)

		jittered, err := schedule.New("40 7 * * *", "", 30*time.Second)
		require.NoError(t, err)

		after := time.Date(2026, 2, 15, 7, 0, 0, 0, time.UTC)
		base := plain.NextAfter(after)

		for range 20 {
			next := jittered.NextAfter(after)
			require.False(t, next.Before(base))
			require.True(t, next.Before(base.Add(30*time.Second)))
		}
	})

	t.Run("malformed spec fails at construction", func(t *testing.T) {
		t.Parallel()

		_, err := schedule.New("invalid", "", 0)
		require.Error(t, err)
	})
}
