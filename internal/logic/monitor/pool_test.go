package monitor_test

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chaosloop/podwatch/internal/logic/monitor"
)

func TestPool(t *testing.T) {
	t.Parallel()

	logger := slog.Default()
	owner := testOwnerRef("uid-1")

	t.Run("join merges results and keeps the worst status", func(t *testing.T) {
		t.Parallel()

		factory := &fakeFactory{mk: func(selector monitor.Selector) monitor.SnapshotSource {
			if selector.Namespace == "settles" {
				return settlingSource(owner)
			}

			return &scriptedSource{
				lists: []fakeStep{
					{snap: testSnap("1", tAt(0), testObs("web-zzz", owner, true))},
				},
				nexts: []fakeStep{
					{snap: testSnap("2", tAt(10))},
				},
			}
		}}
		reg := newTestRegistry(t, factory, nil)
		pool := monitor.NewPool(logger, reg)

		targets := []monitor.PoolTarget{
			{Name: "frontend", Selector: monitor.Selector{Namespace: "settles"}, Config: fastConfig(5 * time.Second)},
			{Name: "backend", Selector: monitor.Selector{Namespace: "stalls"}, Config: fastConfig(200 * time.Millisecond)},
		}

		require.NoError(t, pool.Start(t.Context(), targets))
		require.Len(t, pool.Handles(), 2)

		merged, err := pool.Join(t.Context())
		require.NoError(t, err)

		require.Equal(t, pool.ID(), merged.SessionID)
		require.Equal(t, monitor.SessionTimedOut, merged.Status)
		require.Len(t, merged.Recovered, 1)
		require.Len(t, merged.Unrecovered, 1)
		require.False(t, merged.StartedAt.IsZero())
		require.False(t, merged.EndedAt.Before(merged.StartedAt))
	})

	t.Run("cancel all wins over any other outcome", func(t *testing.T) {
		t.Parallel()

		factory := &fakeFactory{mk: func(monitor.Selector) monitor.SnapshotSource {
			return blockingSource(owner)
		}}
		reg := newTestRegistry(t, factory, nil)
		pool := monitor.NewPool(logger, reg)

		targets := []monitor.PoolTarget{
			{Name: "one", Selector: monitor.Selector{}, Config: fastConfig(10 * time.Second)},
			{Name: "two", Selector: monitor.Selector{}, Config: fastConfig(10 * time.Second)},
		}

		require.NoError(t, pool.Start(t.Context(), targets))

		for _, handle := range pool.Handles() {
			require.Eventually(t, func() bool {
				summary, err := reg.Summary(handle)

				return err == nil && summary.Status == monitor.SessionRunning
			}, 2*time.Second, 10*time.Millisecond)
		}

		pool.CancelAll()

		merged, err := pool.Join(t.Context())
		require.NoError(t, err)
		require.Equal(t, monitor.SessionCancelled, merged.Status)
	})

	t.Run("an empty pool settles", func(t *testing.T) {
		t.Parallel()

		reg := newTestRegistry(t, &fakeFactory{mk: func(monitor.Selector) monitor.SnapshotSource {
			return blockingSource(owner)
		}}, nil)
		pool := monitor.NewPool(logger, reg)

		require.NoError(t, pool.Start(t.Context(), nil))

		merged, err := pool.Join(t.Context())
		require.NoError(t, err)
		require.Equal(t, monitor.SessionSettled, merged.Status)
		require.Empty(t, merged.Recovered)
		require.Empty(t, merged.Unrecovered)
	})

	t.Run("one bad target starts nothing", func(t *testing.T) {
		t.Parallel()

		factory := &fakeFactory{mk: func(monitor.Selector) monitor.SnapshotSource {
			return blockingSource(owner)
		}}
		reg := newTestRegistry(t, factory, nil)
		pool := monitor.NewPool(logger, reg)

		targets := []monitor.PoolTarget{
			{Name: "good", Selector: monitor.Selector{}, Config: fastConfig(time.Second)},
			{Name: "bad", Selector: monitor.Selector{NamePattern: "web-("}, Config: fastConfig(time.Second)},
		}

		err := pool.Start(t.Context(), targets)
		require.ErrorIs(t, err, monitor.ErrInvalidSelector)
		require.Empty(t, pool.Handles())
		require.Equal(t, 0, factory.sources())
	})
}
