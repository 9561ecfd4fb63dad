package engine

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/NodePath81/fbspeed/internal/util"
	"github.com/google/uuid"
)

const inspectTimeout = 3 * time.Second

// Options wires an Orchestrator. Transport is required; the rest is optional.
type Options struct {
	Config    Config
	Transport Transport
	Inspector Inspector
	Recorder  Recorder
	Logger    util.Logger
}

// Orchestrator sequences ping, download and upload phases and is the only
// writer of the published state. Start and Reset are safe for concurrent use.
type Orchestrator struct {
	cfg       Config
	transport Transport
	inspector Inspector
	recorder  Recorder
	logger    util.Logger
	store     *Store

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	closed bool
}

func NewOrchestrator(opts Options) *Orchestrator {
	recorder := opts.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = util.NopLogger()
	}
	store := NewStore()
	store.reset()
	return &Orchestrator{
		cfg:       opts.Config.withDefaults(),
		transport: opts.Transport,
		inspector: opts.Inspector,
		recorder:  recorder,
		logger:    logger,
		store:     store,
	}
}

// Config returns the effective engine configuration.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

func (o *Orchestrator) Snapshot() Snapshot {
	return o.store.Snapshot()
}

func (o *Orchestrator) Subscribe() (<-chan Snapshot, func()) {
	return o.store.Subscribe()
}

// Start begins a run when idle or complete and reports whether it did.
func (o *Orchestrator) Start() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || o.transport == nil {
		return false
	}
	if o.store.Snapshot().Phase.Running() {
		return false
	}
	if o.done != nil {
		<-o.done
	}

	runID := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	o.cancel = cancel
	o.done = done
	o.store.begin(runID, time.Now())
	o.logger.Info("speed test started", "run_id", runID)

	go func() {
		defer close(done)
		defer cancel()
		o.run(ctx, runID)
	}()
	return true
}

// Reset cancels any run, waits for its workers to exit and publishes idle.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.resetLocked()
}

func (o *Orchestrator) resetLocked() {
	cancel, done := o.cancel, o.done
	o.cancel, o.done = nil, nil
	o.store.invalidate()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	o.store.reset()
}

// Wait blocks until the current run, if any, has finished.
func (o *Orchestrator) Wait() {
	o.mu.Lock()
	done := o.done
	o.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Close resets and releases subscribers. Start is a no-op afterwards.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	o.resetLocked()
	o.store.Close()
}

func (o *Orchestrator) run(ctx context.Context, runID string) {
	err := o.execute(ctx, runID)
	outcome := OutcomeComplete
	switch {
	case err == nil:
		o.store.complete(runID, time.Now())
		snap := o.store.Snapshot()
		o.logger.Info("speed test complete",
			"run_id", runID,
			"ping_ms", snap.Results.PingMs,
			"jitter_ms", snap.Results.JitterMs,
			"download_mbps", snap.Results.DownloadMbps,
			"upload_mbps", snap.Results.UploadMbps)
	case ctx.Err() != nil:
		outcome = OutcomeCancelled
		o.logger.Info("speed test cancelled", "run_id", runID)
	default:
		outcome = OutcomeFailed
		o.store.abandon(runID, err.Error(), time.Now())
		o.logger.Error("speed test failed", "run_id", runID, "error", err)
	}
	o.recorder.RunFinished(outcome, o.store.Snapshot())
}

func (o *Orchestrator) execute(ctx context.Context, runID string) error {
	o.inspect(ctx, runID)
	if err := o.runPing(ctx, runID); err != nil {
		return err
	}
	if !sleepCtx(ctx, o.cfg.SettleDelay) {
		return ctx.Err()
	}
	if err := o.runTransfer(ctx, runID, DirectionDownload); err != nil {
		return err
	}
	if !sleepCtx(ctx, o.cfg.SettleDelay) {
		return ctx.Err()
	}
	return o.runTransfer(ctx, runID, DirectionUpload)
}

func (o *Orchestrator) inspect(ctx context.Context, runID string) {
	if o.inspector == nil {
		return
	}
	ictx, cancel := context.WithTimeout(ctx, inspectTimeout)
	defer cancel()
	info, err := o.inspector.Inspect(ictx)
	if err != nil {
		if ctx.Err() == nil {
			o.logger.Warn("endpoint inspection failed", "error", err)
		}
	}
	if info != (EndpointInfo{}) {
		o.store.setEndpoint(runID, info)
		o.logger.Info("endpoint resolved",
			"host", info.Host,
			"ip", info.IP,
			"interface", info.Interface,
			"country", info.Country)
	}
}

func (o *Orchestrator) runPing(ctx context.Context, runID string) error {
	o.store.enterPhase(runID, PhasePing)
	o.logger.Info("phase started", "phase", PhasePing.String(), "probes", o.cfg.ProbeCount)
	start := time.Now()

	prober := NewProber(o.transport, o.cfg.ProbeCount, o.recorder, o.logger)
	lat, err := prober.Probe(ctx, func(pct float64) {
		o.store.setProgress(runID, pct)
	})
	switch {
	case errors.Is(err, ErrInsufficientSamples):
		o.logger.Warn("latency unavailable", "successes", lat.Successes, "attempts", lat.Attempts)
	case err != nil:
		return err
	default:
		o.store.setLatency(runID, lat)
		o.logger.Info("latency measured", "ping", lat.Ping, "jitter", lat.Jitter, "successes", lat.Successes)
	}
	o.store.setProgress(runID, 100)
	o.recorder.PhaseFinished(PhasePing, time.Since(start), lat.Successes)
	return nil
}

func (o *Orchestrator) poolConfig(dir Direction) (PoolConfig, error) {
	if dir == DirectionDownload {
		return PoolConfig{
			Direction:    dir,
			Workers:      o.cfg.DownloadWorkers,
			Sizes:        o.cfg.DownloadSizes,
			RetryBackoff: o.cfg.DownloadRetryBackoff,
		}, nil
	}
	payload := make([]byte, o.cfg.UploadPayloadBytes)
	if _, err := rand.Read(payload); err != nil {
		return PoolConfig{}, fmt.Errorf("generate upload payload: %w", err)
	}
	return PoolConfig{
		Direction:     dir,
		Workers:       o.cfg.UploadWorkers,
		Payload:       payload,
		SanityTimeout: o.cfg.UploadSanityTimeout,
		RetryBackoff:  o.cfg.UploadRetryBackoff,
	}, nil
}

// runTransfer drives one transfer phase: a worker pool and a sampler run
// until the tracker signals stop, then the phase average is finalized.
func (o *Orchestrator) runTransfer(ctx context.Context, runID string, dir Direction) error {
	phase := dir.phase()
	o.store.enterPhase(runID, phase)
	poolCfg, err := o.poolConfig(dir)
	if err != nil {
		return err
	}
	o.logger.Info("phase started", "phase", phase.String(), "workers", poolCfg.Workers)

	phaseCtx, stop := context.WithCancel(ctx)
	defer stop()

	counter := &ByteCounter{}
	start := time.Now()
	tracker := newPhaseTracker(o.cfg.Sampling, dir, start)

	pool := NewPool(o.transport, poolCfg, o.recorder, o.logger)
	poolErr := make(chan error, 1)
	go func() {
		poolErr <- pool.Run(phaseCtx, counter)
	}()

	ticks := make(chan tick)
	samplerDone := make(chan struct{})
	go func() {
		defer close(samplerDone)
		runSampler(phaseCtx, o.cfg.Sampling.Interval, counter, ticks)
	}()

	var runErr error
	poolCh := poolErr
loop:
	for {
		select {
		case <-ctx.Done():
			runErr = ctx.Err()
			break loop
		case err := <-poolCh:
			poolCh = nil
			if err != nil {
				runErr = err
				break loop
			}
		case tk := <-ticks:
			res := tracker.observe(tk)
			o.store.tick(runID, dir, res)
			if res.done {
				o.logger.Info("phase stopping",
					"phase", phase.String(),
					"reason", res.reason.String(),
					"samples", tracker.sampleCount(),
					"elapsed", time.Since(start).Round(time.Millisecond))
				break loop
			}
		}
	}

	stop()
	<-samplerDone
	if poolCh != nil {
		if err := <-poolCh; err != nil && runErr == nil {
			runErr = err
		}
	}
	if runErr != nil {
		return runErr
	}

	value, err := tracker.finalize()
	measured := err == nil
	if measured {
		o.logger.Info("throughput measured", "phase", phase.String(), "mbps", value, "samples", tracker.sampleCount())
	} else {
		o.logger.Warn("throughput unavailable", "phase", phase.String(), "samples", tracker.sampleCount())
	}
	o.store.finishTransfer(runID, dir, value, measured)
	o.recorder.PhaseFinished(phase, time.Since(start), tracker.sampleCount())
	return nil
}
