package engine

import (
	"sync"
	"time"

	"github.com/NodePath81/fbspeed/internal/util"
)

const subscriberBuffer = 16

// Store holds the published snapshot. Every write names the run it belongs
// to; writes from a run that is no longer current are dropped, so a
// cancelled run cannot publish after it was invalidated.
type Store struct {
	mu     sync.Mutex
	snap   Snapshot
	subs   map[*subscriber]struct{}
	closed bool
}

type subscriber struct {
	ch        chan Snapshot
	closeOnce sync.Once
}

func (s *subscriber) close() {
	s.closeOnce.Do(func() {
		close(s.ch)
	})
}

func NewStore() *Store {
	return &Store{subs: make(map[*subscriber]struct{})}
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Subscribe returns a channel receiving every publication and a cancel
// function. A slow subscriber loses intermediate snapshots but always
// receives the latest one.
func (s *Store) Subscribe() (<-chan Snapshot, func()) {
	sub := &subscriber{ch: make(chan Snapshot, subscriberBuffer)}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sub.close()
		return sub.ch, func() {}
	}
	s.subs[sub] = struct{}{}
	s.mu.Unlock()
	return sub.ch, func() {
		s.mu.Lock()
		delete(s.subs, sub)
		s.mu.Unlock()
		sub.close()
	}
}

// Close releases all subscribers.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for sub := range s.subs {
		sub.close()
	}
	s.subs = make(map[*subscriber]struct{})
}

// publishLocked must be called with s.mu held.
func (s *Store) publishLocked() {
	snap := s.snap
	for sub := range s.subs {
		select {
		case sub.ch <- snap:
		default:
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- snap:
			default:
			}
		}
	}
}

func (s *Store) update(runID string, fn func(*Snapshot)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if runID == "" || s.snap.RunID != runID {
		return false
	}
	fn(&s.snap)
	s.publishLocked()
	return true
}

// begin replaces the state with a fresh run entering the ping phase.
func (s *Store) begin(runID string, startedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = Snapshot{RunID: runID, Phase: PhasePing, StartedAt: startedAt}
	s.publishLocked()
}

// invalidate detaches the current run without publishing.
func (s *Store) invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.RunID = ""
}

// reset publishes an idle state with zeroed results.
func (s *Store) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = Snapshot{Phase: PhaseIdle}
	s.publishLocked()
}

func (s *Store) enterPhase(runID string, phase Phase) bool {
	return s.update(runID, func(snap *Snapshot) {
		snap.Phase = phase
		snap.Progress = 0
		snap.InstantaneousMbps = 0
	})
}

func (s *Store) setProgress(runID string, pct float64) bool {
	return s.update(runID, func(snap *Snapshot) {
		if pct > 100 {
			pct = 100
		}
		if pct > snap.Progress {
			snap.Progress = pct
		}
	})
}

func (s *Store) setEndpoint(runID string, info EndpointInfo) bool {
	return s.update(runID, func(snap *Snapshot) {
		snap.Endpoint = info
	})
}

func (s *Store) setLatency(runID string, lat Latency) bool {
	return s.update(runID, func(snap *Snapshot) {
		snap.Results.PingMs = util.Round(float64(lat.Ping)/float64(time.Millisecond), 0)
		snap.Results.JitterMs = util.Round(float64(lat.Jitter)/float64(time.Millisecond), 1)
		snap.Results.PingMeasured = true
	})
}

// tick publishes one sampler result. The live upload value is also written
// into the results so it is visible before the phase finalizes.
func (s *Store) tick(runID string, dir Direction, res tickResult) bool {
	return s.update(runID, func(snap *Snapshot) {
		if res.progress > snap.Progress {
			snap.Progress = res.progress
		}
		if !res.sampled {
			return
		}
		live := util.Round(res.mbps, 1)
		snap.InstantaneousMbps = live
		if dir == DirectionUpload {
			snap.Results.UploadMbps = live
		}
	})
}

// finishTransfer ends a transfer phase. measured is false when the phase
// collected too few samples; the result field then keeps its prior value.
func (s *Store) finishTransfer(runID string, dir Direction, value float64, measured bool) bool {
	return s.update(runID, func(snap *Snapshot) {
		snap.Progress = 100
		if !measured {
			return
		}
		switch dir {
		case DirectionDownload:
			snap.Results.DownloadMbps = value
			snap.Results.DownloadMeasured = true
		case DirectionUpload:
			snap.Results.UploadMbps = value
			snap.Results.UploadMeasured = true
		}
	})
}

func (s *Store) complete(runID string, at time.Time) bool {
	return s.update(runID, func(snap *Snapshot) {
		snap.Phase = PhaseComplete
		snap.Progress = 100
		snap.InstantaneousMbps = 0
		snap.FinishedAt = at
	})
}

// abandon returns a failed run to idle, discarding partial results.
func (s *Store) abandon(runID string, reason string, at time.Time) bool {
	return s.update(runID, func(snap *Snapshot) {
		*snap = Snapshot{
			RunID:      snap.RunID,
			Phase:      PhaseIdle,
			Endpoint:   snap.Endpoint,
			StartedAt:  snap.StartedAt,
			FinishedAt: at,
			LastError:  reason,
		}
	})
}
