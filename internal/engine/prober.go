package engine

import (
	"context"
	"errors"
	"time"

	"github.com/NodePath81/fbspeed/internal/util"
)

// Prober measures latency with strictly sequential probes so that no
// transfer load overlaps a measurement.
type Prober struct {
	transport Transport
	count     int
	recorder  Recorder
	logger    util.Logger
	now       func() time.Time
}

func NewProber(transport Transport, count int, recorder Recorder, logger util.Logger) *Prober {
	if count <= 0 {
		count = DefaultProbeCount
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if logger == nil {
		logger = util.NopLogger()
	}
	return &Prober{
		transport: transport,
		count:     count,
		recorder:  recorder,
		logger:    logger,
		now:       time.Now,
	}
}

// Probe runs the probe series. progress, if set, receives the completed
// percentage after every attempt. With fewer than three successful probes
// it returns ErrInsufficientSamples along with the attempt counts.
func (p *Prober) Probe(ctx context.Context, progress func(pct float64)) (Latency, error) {
	rtts := make([]time.Duration, 0, p.count)
	for i := 0; i < p.count; i++ {
		if err := ctx.Err(); err != nil {
			return Latency{}, err
		}
		start := p.now()
		err := p.transport.Probe(ctx)
		rtt := p.now().Sub(start)
		if err != nil {
			if ctx.Err() != nil {
				return Latency{}, ctx.Err()
			}
			if errors.Is(err, ErrFatalTransfer) {
				return Latency{}, err
			}
			p.recorder.ProbeObserved(0, false)
			p.logger.Warn("probe failed", "attempt", i+1, "error", err)
		} else {
			p.recorder.ProbeObserved(rtt, true)
			rtts = append(rtts, rtt)
		}
		if progress != nil {
			progress(float64(i+1) / float64(p.count) * 100)
		}
	}

	lat := Latency{Successes: len(rtts), Attempts: p.count}
	ping, jitter, err := summarizeLatency(rtts)
	if err != nil {
		return lat, err
	}
	lat.Ping = ping
	lat.Jitter = jitter
	return lat, nil
}
