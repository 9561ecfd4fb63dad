package engine

import (
	"math"
	"sort"
	"time"
)

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// interior returns a sorted copy of values without its minimum and maximum.
func interior(values []float64) []float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if len(sorted) <= 2 {
		return sorted
	}
	return sorted[1 : len(sorted)-1]
}

// meanAbsDeviation is the mean of |v - center| over values.
func meanAbsDeviation(values []float64, center float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += math.Abs(v - center)
	}
	return sum / float64(len(values))
}

// summarizeLatency drops the fastest and slowest probes, then reports the
// mean of the rest and their mean absolute deviation from it.
func summarizeLatency(rtts []time.Duration) (ping, jitter time.Duration, err error) {
	if len(rtts) < minProbeSuccesses {
		return 0, 0, ErrInsufficientSamples
	}
	ms := make([]float64, len(rtts))
	for i, rtt := range rtts {
		ms[i] = float64(rtt) / float64(time.Millisecond)
	}
	kept := interior(ms)
	avg := mean(kept)
	mad := meanAbsDeviation(kept, avg)
	return time.Duration(avg * float64(time.Millisecond)), time.Duration(mad * float64(time.Millisecond)), nil
}

// warmupAverage drops floor(len*frac) leading samples and averages the rest.
func warmupAverage(samples []float64, frac float64, minSamples int) (float64, error) {
	if len(samples) < minSamples || len(samples) == 0 {
		return 0, ErrInsufficientSamples
	}
	skip := int(math.Floor(float64(len(samples)) * frac))
	if skip >= len(samples) {
		skip = len(samples) - 1
	}
	return mean(samples[skip:]), nil
}

// spread is max-min over values.
func spread(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return hi - lo
}

// mbps converts bytes moved over elapsed into megabits per second.
func mbps(bytes uint64, elapsed time.Duration) float64 {
	secs := elapsed.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(bytes) * 8 / (secs * 1e6)
}
