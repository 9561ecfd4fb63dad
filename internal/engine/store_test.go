package engine

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestStoreRejectsStaleRun(t *testing.T) {
	s := NewStore()
	s.begin("run-1", trackerEpoch)
	require.True(t, s.enterPhase("run-1", PhaseDownload))

	s.invalidate()
	require.False(t, s.setProgress("run-1", 50))
	require.False(t, s.enterPhase("", PhaseUpload))

	s.begin("run-2", trackerEpoch)
	require.False(t, s.finishTransfer("run-1", DirectionDownload, 99, true))
	snap := s.Snapshot()
	require.Equal(t, "run-2", snap.RunID)
	require.Equal(t, PhasePing, snap.Phase)
	require.False(t, snap.Results.DownloadMeasured)
}

func TestStoreProgressIsMonotonicAndCapped(t *testing.T) {
	s := NewStore()
	s.begin("r", trackerEpoch)
	s.setProgress("r", 40)
	s.setProgress("r", 30)
	require.Equal(t, 40.0, s.Snapshot().Progress)
	s.setProgress("r", 140)
	require.Equal(t, 100.0, s.Snapshot().Progress)

	s.enterPhase("r", PhaseDownload)
	require.Zero(t, s.Snapshot().Progress)
}

func TestStoreLatencyRounding(t *testing.T) {
	s := NewStore()
	s.begin("r", trackerEpoch)
	s.setLatency("r", Latency{Ping: 23600 * time.Microsecond, Jitter: 1260 * time.Microsecond})
	res := s.Snapshot().Results
	require.Equal(t, 24.0, res.PingMs)
	require.InDelta(t, 1.3, res.JitterMs, 1e-9)
	require.True(t, res.PingMeasured)
}

func TestStoreLiveUploadValue(t *testing.T) {
	s := NewStore()
	s.begin("r", trackerEpoch)
	s.enterPhase("r", PhaseUpload)
	s.tick("r", DirectionUpload, tickResult{sampled: true, mbps: 41.26, progress: 10})
	snap := s.Snapshot()
	require.InDelta(t, 41.3, snap.InstantaneousMbps, 1e-9)
	require.InDelta(t, 41.3, snap.Results.UploadMbps, 1e-9)
	require.False(t, snap.Results.UploadMeasured)

	// An unmeasured finish keeps the live value.
	s.finishTransfer("r", DirectionUpload, 0, false)
	snap = s.Snapshot()
	require.InDelta(t, 41.3, snap.Results.UploadMbps, 1e-9)
	require.False(t, snap.Results.UploadMeasured)
	require.Equal(t, 100.0, snap.Progress)
}

func TestStoreAbandonZeroesResults(t *testing.T) {
	s := NewStore()
	s.begin("r", trackerEpoch)
	s.setEndpoint("r", EndpointInfo{Host: "speed.example"})
	s.setLatency("r", Latency{Ping: 10 * time.Millisecond})
	s.abandon("r", "boom", trackerEpoch.Add(time.Second))

	snap := s.Snapshot()
	require.Equal(t, PhaseIdle, snap.Phase)
	require.Equal(t, "boom", snap.LastError)
	require.Equal(t, "speed.example", snap.Endpoint.Host)
	if diff := cmp.Diff(Results{}, snap.Results); diff != "" {
		t.Fatalf("results not zeroed (-want +got):\n%s", diff)
	}
}

func TestStoreSubscribersSeeLatest(t *testing.T) {
	s := NewStore()
	ch, cancel := s.Subscribe()
	defer cancel()

	s.begin("r", trackerEpoch)
	for i := 1; i <= 3*subscriberBuffer; i++ {
		s.setProgress("r", float64(i))
	}

	var last Snapshot
	for {
		select {
		case snap := <-ch:
			last = snap
			continue
		default:
		}
		break
	}
	require.Equal(t, float64(3*subscriberBuffer), last.Progress)
}

func TestStoreCloseReleasesSubscribers(t *testing.T) {
	s := NewStore()
	ch, cancel := s.Subscribe()
	s.Close()
	_, ok := <-ch
	require.False(t, ok)
	cancel()

	late, _ := s.Subscribe()
	_, ok = <-late
	require.False(t, ok)
}
