package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestPoolRotatesDownloadSizes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	transport := &fakeTransport{}
	transport.download = func(_ context.Context, size int64, onBytes func(int)) error {
		onBytes(int(size))
		if calls.Add(1) == 7 {
			cancel()
		}
		return nil
	}
	pool := NewPool(transport, PoolConfig{
		Direction: DirectionDownload,
		Workers:   1,
		Sizes:     []int64{10, 25, 50},
	}, nil, nil)

	counter := &ByteCounter{}
	require.NoError(t, pool.Run(ctx, counter))

	want := []int64{10, 25, 50, 10, 25, 50, 10}
	if diff := cmp.Diff(want, transport.downloadSizes()); diff != "" {
		t.Fatalf("download sizes mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, uint64(180), counter.Load())
}

func TestPoolRunsWorkersConcurrently(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	transport := &fakeTransport{}
	rec := newFakeRecorder()
	pool := NewPool(transport, PoolConfig{Direction: DirectionDownload, Workers: 6}, rec, nil)
	counter := &ByteCounter{}
	require.NoError(t, pool.Run(ctx, counter))

	transport.mu.Lock()
	maxActive := transport.maxActive
	transport.mu.Unlock()
	require.Equal(t, 6, maxActive)
	require.Positive(t, counter.Load())

	rec.mu.Lock()
	recorded := rec.bytes[DirectionDownload]
	rec.mu.Unlock()
	require.Equal(t, int(counter.Load()), recorded)
}

func TestPoolRetriesFailedTransfers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	transport := &fakeTransport{}
	transport.download = func(_ context.Context, _ int64, onBytes func(int)) error {
		n := calls.Add(1)
		if n <= 2 {
			return errors.New("status 503")
		}
		onBytes(1)
		cancel()
		return nil
	}
	rec := newFakeRecorder()
	pool := NewPool(transport, PoolConfig{
		Direction:    DirectionDownload,
		Workers:      1,
		RetryBackoff: time.Millisecond,
	}, rec, nil)

	counter := &ByteCounter{}
	require.NoError(t, pool.Run(ctx, counter))
	require.Equal(t, 2, rec.failures(DirectionDownload))
	require.Equal(t, uint64(1), counter.Load())
}

func TestPoolFatalErrorStopsAllWorkers(t *testing.T) {
	transport := &fakeTransport{}
	var calls atomic.Int32
	transport.download = func(ctx context.Context, _ int64, _ func(int)) error {
		if calls.Add(1) == 1 {
			return fmt.Errorf("%w: malformed url", ErrFatalTransfer)
		}
		<-ctx.Done()
		return ctx.Err()
	}
	pool := NewPool(transport, PoolConfig{Direction: DirectionDownload, Workers: 3}, nil, nil)
	err := pool.Run(context.Background(), &ByteCounter{})
	require.ErrorIs(t, err, ErrFatalTransfer)
}

func TestPoolUploadSanityTimeout(t *testing.T) {
	run := func(delay time.Duration) uint64 {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		transport := &fakeTransport{}
		transport.upload = func(context.Context, []byte) error {
			time.Sleep(delay)
			cancel()
			return nil
		}
		pool := NewPool(transport, PoolConfig{
			Direction:     DirectionUpload,
			Workers:       1,
			Payload:       make([]byte, 1000),
			SanityTimeout: 20 * time.Millisecond,
		}, nil, nil)
		counter := &ByteCounter{}
		require.NoError(t, pool.Run(ctx, counter))
		return counter.Load()
	}

	require.Equal(t, uint64(1000), run(0))
	require.Zero(t, run(50*time.Millisecond))
}

func TestPoolRejectsBadConfig(t *testing.T) {
	transport := &fakeTransport{}
	err := NewPool(transport, PoolConfig{Direction: DirectionDownload}, nil, nil).Run(context.Background(), &ByteCounter{})
	require.Error(t, err)

	err = NewPool(transport, PoolConfig{Direction: DirectionUpload, Workers: 1}, nil, nil).Run(context.Background(), &ByteCounter{})
	require.ErrorIs(t, err, ErrFatalTransfer)
}
