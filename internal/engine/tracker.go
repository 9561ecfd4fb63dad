package engine

import (
	"time"

	"github.com/NodePath81/fbspeed/internal/util"
)

// StopReason records why a transfer phase ended.
type StopReason int

const (
	StopNone StopReason = iota
	StopConverged
	StopMaxDuration
)

func (r StopReason) String() string {
	switch r {
	case StopConverged:
		return "converged"
	case StopMaxDuration:
		return "max_duration"
	default:
		return "none"
	}
}

// tick is one sampler reading: the bytes drained from the counter at a time.
type tick struct {
	at    time.Time
	bytes uint64
}

type tickResult struct {
	sampled  bool
	mbps     float64
	progress float64
	done     bool
	reason   StopReason
}

// phaseTracker turns sampler ticks into throughput samples and decides when
// the phase stops. It takes time only from ticks so it can be driven with
// synthetic sequences.
type phaseTracker struct {
	cfg      SamplingConfig
	dir      Direction
	detector *Detector
	start    time.Time
	last     time.Time
	samples  []float64
	progress float64
	reason   StopReason
}

func newPhaseTracker(cfg SamplingConfig, dir Direction, start time.Time) *phaseTracker {
	return &phaseTracker{
		cfg:      cfg,
		dir:      dir,
		detector: NewDetector(cfg.Window, cfg.Tolerance, cfg.StableTicks),
		start:    start,
		last:     start,
	}
}

func (t *phaseTracker) observe(tk tick) tickResult {
	var res tickResult
	elapsed := tk.at.Sub(t.start)

	// A download tick without bytes is skipped and its interval carried into
	// the next sample. An empty upload tick restarts the interval.
	if tk.bytes > 0 {
		if interval := tk.at.Sub(t.last); interval > 0 {
			v := mbps(tk.bytes, interval)
			t.samples = append(t.samples, v)
			res.sampled = true
			res.mbps = v
			if elapsed >= t.cfg.MinDuration && t.detector.Observe(t.samples) {
				res.done = true
				res.reason = StopConverged
			}
		}
		t.last = tk.at
	} else if t.dir == DirectionUpload {
		t.last = tk.at
	}

	if !res.done && elapsed >= t.cfg.MaxDuration {
		res.done = true
		res.reason = StopMaxDuration
	}
	if res.done {
		t.reason = res.reason
	}

	p := progressFor(elapsed, t.cfg.MaxDuration)
	if p < t.progress {
		p = t.progress
	}
	t.progress = p
	res.progress = p
	return res
}

// finalize averages the samples after the warm-up cut, rounded to one decimal.
func (t *phaseTracker) finalize() (float64, error) {
	avg, err := warmupAverage(t.samples, t.cfg.Warmup, t.cfg.MinSamples)
	if err != nil {
		return 0, err
	}
	return util.Round(avg, 1), nil
}

func (t *phaseTracker) sampleCount() int {
	return len(t.samples)
}

func progressFor(elapsed, limit time.Duration) float64 {
	if limit <= 0 {
		return 100
	}
	frac := float64(elapsed) / float64(limit)
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return frac * 100
}
