package fetchstats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRing(t *testing.T) {
	t.Parallel()

	t.Run("keeps insertion order before wrapping", func(t *testing.T) {
		t.Parallel()

		r := newRing(3)
		r.add(time.Millisecond)
		r.add(2 * time.Millisecond)

		require.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, r.all())
	})

	t.Run("overwrites oldest after wrapping", func(t *testing.T) {
		t.Parallel()

		r := newRing(3)
		for i := 1; i <= 5; i++ {
			r.add(time.Duration(i) * time.Millisecond)
		}

		require.Equal(t, []time.Duration{
			3 * time.Millisecond,
			4 * time.Millisecond,
			5 * time.Millisecond,
		}, r.all())
	})

	t.Run("empty ring yields nil", func(t *testing.T) {
		t.Parallel()

		require.Nil(t, newRing(3).all())
	})
}

func TestLatencyMath(t *testing.T) {
	t.Parallel()

	ms := func(n int) time.Duration { return time.Duration(n) * time.Millisecond }

	sorted := make([]time.Duration, 0, 10)
	for i := 1; i <= 10; i++ {
		sorted = append(sorted, ms(i))
	}

	t.Run("percentiles use the floor method", func(t *testing.T) {
		t.Parallel()

		require.Equal(t, ms(8), percentile(sorted, percentileP80))
		require.Equal(t, ms(9), percentile(sorted, percentileP90))
	})

	t.Run("p99 rounds up to the worst observation", func(t *testing.T) {
		t.Parallel()

		require.Equal(t, ms(10), percentile(sorted, percentileP99))
	})

	t.Run("median averages the middle pair on even counts", func(t *testing.T) {
		t.Parallel()

		require.Equal(t, ms(2), median([]time.Duration{ms(1), ms(2), ms(3)}))
		require.Equal(t, 2500*time.Microsecond, median([]time.Duration{ms(1), ms(2), ms(3), ms(4)}))
	})

	t.Run("empty input yields zeros", func(t *testing.T) {
		t.Parallel()

		require.Equal(t, LatencyMetrics{}, calculateLatencyMetrics(nil))
	})
}
