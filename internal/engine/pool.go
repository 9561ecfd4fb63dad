package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/NodePath81/fbspeed/internal/util"
	"golang.org/x/sync/errgroup"
)

// Pool runs a fixed number of transfer workers against one byte counter.
// Workers are independent; a failed transfer is retried after a backoff and
// never stops its siblings. Only ErrFatalTransfer aborts the pool.
type Pool struct {
	transport Transport
	dir       Direction
	workers   int
	sizes     []int64
	payload   []byte
	sanity    time.Duration
	backoff   time.Duration
	recorder  Recorder
	logger    util.Logger
}

// PoolConfig parameterizes NewPool. Sizes apply to downloads; Payload and
// SanityTimeout apply to uploads.
type PoolConfig struct {
	Direction     Direction
	Workers       int
	Sizes         []int64
	Payload       []byte
	SanityTimeout time.Duration
	RetryBackoff  time.Duration
}

func NewPool(transport Transport, cfg PoolConfig, recorder Recorder, logger util.Logger) *Pool {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if logger == nil {
		logger = util.NopLogger()
	}
	if len(cfg.Sizes) == 0 {
		cfg.Sizes = DefaultDownloadSizes
	}
	if cfg.SanityTimeout <= 0 {
		cfg.SanityTimeout = DefaultUploadSanityTimeout
	}
	return &Pool{
		transport: transport,
		dir:       cfg.Direction,
		workers:   cfg.Workers,
		sizes:     cfg.Sizes,
		payload:   cfg.Payload,
		sanity:    cfg.SanityTimeout,
		backoff:   cfg.RetryBackoff,
		recorder:  recorder,
		logger:    logger,
	}
}

// Run blocks until ctx is cancelled and every worker has returned. A nil
// error means the workers stopped because of cancellation.
func (p *Pool) Run(ctx context.Context, counter *ByteCounter) error {
	if p.workers <= 0 {
		return errors.New("pool has no workers")
	}
	if p.dir == DirectionUpload && len(p.payload) == 0 {
		return fmt.Errorf("%w: empty upload payload", ErrFatalTransfer)
	}
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		id := i
		g.Go(func() error {
			return p.worker(gctx, id, counter)
		})
	}
	return g.Wait()
}

func (p *Pool) worker(ctx context.Context, id int, counter *ByteCounter) error {
	next := 0
	onBytes := func(n int) {
		counter.Add(n)
		p.recorder.AddBytes(p.dir, n)
	}
	for {
		if ctx.Err() != nil {
			return nil
		}
		var err error
		switch p.dir {
		case DirectionDownload:
			size := p.sizes[next%len(p.sizes)]
			next++
			err = p.transport.Download(ctx, size, onBytes)
		case DirectionUpload:
			start := time.Now()
			err = p.transport.Upload(ctx, p.payload)
			if err == nil {
				if took := time.Since(start); took < p.sanity {
					onBytes(len(p.payload))
				} else {
					p.logger.Debug("slow upload excluded", "worker", id, "duration", took)
				}
			}
		}
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, ErrFatalTransfer) {
			return fmt.Errorf("%s worker %d: %w", p.dir, id, err)
		}
		p.recorder.TransferFailed(p.dir)
		p.logger.Warn("transfer failed", "direction", p.dir.String(), "worker", id, "error", err)
		if !sleepCtx(ctx, p.backoff) {
			return nil
		}
	}
}
