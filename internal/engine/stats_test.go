package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSummarizeLatencyTrimsExtremes(t *testing.T) {
	rtts := []time.Duration{
		100 * time.Millisecond,
		10 * time.Millisecond,
		30 * time.Millisecond,
		40 * time.Millisecond,
		20 * time.Millisecond,
	}
	ping, jitter, err := summarizeLatency(rtts)
	require.NoError(t, err)
	require.InDelta(t, 30.0, float64(ping)/float64(time.Millisecond), 1e-6)
	// |20-30| + |30-30| + |40-30| over three samples.
	require.InDelta(t, 20.0/3.0, float64(jitter)/float64(time.Millisecond), 1e-3)
}

func TestSummarizeLatencyNeedsThreeSamples(t *testing.T) {
	_, _, err := summarizeLatency([]time.Duration{time.Millisecond, 2 * time.Millisecond})
	require.ErrorIs(t, err, ErrInsufficientSamples)

	ping, jitter, err := summarizeLatency([]time.Duration{
		5 * time.Millisecond, 9 * time.Millisecond, 1 * time.Millisecond,
	})
	require.NoError(t, err)
	require.Equal(t, 5*time.Millisecond, ping)
	require.Zero(t, jitter)
}

func TestWarmupAverage(t *testing.T) {
	samples := make([]float64, 20)
	for i := range samples {
		samples[i] = 50
	}
	samples[0], samples[1] = 1000, 1000

	avg, err := warmupAverage(samples, 0.1, 10)
	require.NoError(t, err)
	require.InDelta(t, 50.0, avg, 1e-9)

	avg, err = warmupAverage(samples, 0, 10)
	require.NoError(t, err)
	require.InDelta(t, (18*50.0+2000)/20, avg, 1e-9)

	_, err = warmupAverage(samples[:9], 0.1, 10)
	require.ErrorIs(t, err, ErrInsufficientSamples)
}

func TestMbps(t *testing.T) {
	require.InDelta(t, 50.0, mbps(625_000, 100*time.Millisecond), 1e-9)
	require.InDelta(t, 8.0, mbps(1_000_000, time.Second), 1e-9)
	require.Zero(t, mbps(1000, 0))
}

func TestSpreadAndInterior(t *testing.T) {
	require.Equal(t, 4.0, spread([]float64{100, 102, 98}))
	require.Zero(t, spread(nil))
	require.Equal(t, []float64{2, 3}, interior([]float64{4, 1, 3, 2}))
	require.Equal(t, []float64{1, 2}, interior([]float64{2, 1}))
}
