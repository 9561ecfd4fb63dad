package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetectorStableWindow(t *testing.T) {
	d := NewDetector(3, 5, 1)
	series := []float64{100, 102, 98, 101, 99, 100}
	want := []bool{false, false, true, true, true, true}
	for i := range series {
		require.Equal(t, want[i], d.IsStable(series[:i+1]), "prefix %d", i+1)
	}
}

func TestDetectorUnstableSeries(t *testing.T) {
	d := NewDetector(3, 5, 1)
	require.False(t, d.IsStable([]float64{50, 100, 75}))
	require.False(t, d.IsStable(nil))
}

func TestDetectorRequiresConsecutiveStableTicks(t *testing.T) {
	d := NewDetector(2, 1, 3)
	history := []float64{10, 10}

	require.False(t, d.Observe(history))
	require.False(t, d.Observe(history))
	require.Equal(t, 2, d.Consecutive())

	// One unstable observation restarts the count.
	require.False(t, d.Observe([]float64{10, 10, 30}))
	require.Equal(t, 0, d.Consecutive())

	history = []float64{10, 10, 30, 30, 30}
	require.False(t, d.Observe(history))
	require.False(t, d.Observe(history))
	require.True(t, d.Observe(history))

	d.Reset()
	require.Zero(t, d.Consecutive())
}

func TestDetectorZeroTolerance(t *testing.T) {
	d := NewDetector(2, 0, 1)
	require.True(t, d.Observe([]float64{7, 7}))
	require.False(t, d.Observe([]float64{7, 7.01}))
}
