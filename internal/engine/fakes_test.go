package engine

import (
	"context"
	"sync"
	"time"
)

// fakeTransport streams synthetic bytes. Hooks left nil take the defaults:
// probes succeed instantly, downloads stream until cancelled, uploads take
// uploadDelay.
type fakeTransport struct {
	probe    func(ctx context.Context) error
	download func(ctx context.Context, size int64, onBytes func(int)) error
	upload   func(ctx context.Context, payload []byte) error

	uploadDelay time.Duration

	mu        sync.Mutex
	sizes     []int64
	uploads   int
	maxActive int
	active    int
}

func (f *fakeTransport) Probe(ctx context.Context) error {
	if f.probe != nil {
		return f.probe(ctx)
	}
	return nil
}

func (f *fakeTransport) Download(ctx context.Context, size int64, onBytes func(int)) error {
	f.mu.Lock()
	f.sizes = append(f.sizes, size)
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if f.download != nil {
		return f.download(ctx, size, onBytes)
	}
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			onBytes(10_000)
		}
	}
}

func (f *fakeTransport) Upload(ctx context.Context, payload []byte) error {
	f.mu.Lock()
	f.uploads++
	f.mu.Unlock()
	if f.upload != nil {
		return f.upload(ctx, payload)
	}
	if !sleepCtx(ctx, f.uploadDelay) {
		return ctx.Err()
	}
	return nil
}

func (f *fakeTransport) downloadSizes() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.sizes...)
}

type fakeRecorder struct {
	mu       sync.Mutex
	bytes    map[Direction]int
	failed   map[Direction]int
	probesOK int
	probesKO int
	phases   []Phase
	outcomes []string
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{bytes: map[Direction]int{}, failed: map[Direction]int{}}
}

func (r *fakeRecorder) AddBytes(dir Direction, n int) {
	r.mu.Lock()
	r.bytes[dir] += n
	r.mu.Unlock()
}

func (r *fakeRecorder) TransferFailed(dir Direction) {
	r.mu.Lock()
	r.failed[dir]++
	r.mu.Unlock()
}

func (r *fakeRecorder) ProbeObserved(_ time.Duration, ok bool) {
	r.mu.Lock()
	if ok {
		r.probesOK++
	} else {
		r.probesKO++
	}
	r.mu.Unlock()
}

func (r *fakeRecorder) PhaseFinished(phase Phase, _ time.Duration, _ int) {
	r.mu.Lock()
	r.phases = append(r.phases, phase)
	r.mu.Unlock()
}

func (r *fakeRecorder) RunFinished(outcome string, _ Snapshot) {
	r.mu.Lock()
	r.outcomes = append(r.outcomes, outcome)
	r.mu.Unlock()
}

func (r *fakeRecorder) failures(dir Direction) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed[dir]
}

func (r *fakeRecorder) runOutcomes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.outcomes...)
}

type fakeInspector struct {
	info EndpointInfo
	err  error
}

func (f fakeInspector) Inspect(context.Context) (EndpointInfo, error) {
	return f.info, f.err
}

// fakeClock advances only when told to.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
