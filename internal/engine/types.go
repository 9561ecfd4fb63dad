package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Phase is the externally visible state of a run.
type Phase int

const (
	PhaseIdle Phase = iota
	PhasePing
	PhaseDownload
	PhaseUpload
	PhaseComplete
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePing:
		return "ping"
	case PhaseDownload:
		return "download"
	case PhaseUpload:
		return "upload"
	case PhaseComplete:
		return "complete"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

func (p Phase) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Phase) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParsePhase(raw)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

func ParsePhase(s string) (Phase, error) {
	for p := PhaseIdle; p <= PhaseComplete; p++ {
		if p.String() == s {
			return p, nil
		}
	}
	return PhaseIdle, fmt.Errorf("unknown phase %q", s)
}

// Running reports whether a run is in progress.
func (p Phase) Running() bool {
	return p == PhasePing || p == PhaseDownload || p == PhaseUpload
}

// Direction identifies transfer direction.
type Direction int

const (
	DirectionDownload Direction = iota
	DirectionUpload
)

func (d Direction) String() string {
	switch d {
	case DirectionDownload:
		return "download"
	case DirectionUpload:
		return "upload"
	default:
		return "unknown"
	}
}

func (d Direction) phase() Phase {
	if d == DirectionUpload {
		return PhaseUpload
	}
	return PhaseDownload
}

// Results holds the figures of one run. A false *Measured flag means the
// measurement is unavailable, which is distinct from a measured zero.
type Results struct {
	PingMs           float64 `json:"ping_ms"`
	JitterMs         float64 `json:"jitter_ms"`
	DownloadMbps     float64 `json:"download_mbps"`
	UploadMbps       float64 `json:"upload_mbps"`
	PingMeasured     bool    `json:"ping_measured"`
	DownloadMeasured bool    `json:"download_measured"`
	UploadMeasured   bool    `json:"upload_measured"`
}

// Latency is the outcome of a probe series.
type Latency struct {
	Ping      time.Duration
	Jitter    time.Duration
	Successes int
	Attempts  int
}

// EndpointInfo annotates the measured endpoint. All fields are best effort.
type EndpointInfo struct {
	Host      string `json:"host,omitempty"`
	IP        string `json:"ip,omitempty"`
	Interface string `json:"interface,omitempty"`
	Source    string `json:"source,omitempty"`
	Gateway   string `json:"gateway,omitempty"`
	Country   string `json:"country,omitempty"`
	City      string `json:"city,omitempty"`
	ASN       uint   `json:"asn,omitempty"`
	ASOrg     string `json:"as_org,omitempty"`
}

// Snapshot is the published state observed by presentation layers.
type Snapshot struct {
	RunID             string       `json:"run_id,omitempty"`
	Phase             Phase        `json:"phase"`
	Progress          float64      `json:"progress"`
	InstantaneousMbps float64      `json:"instantaneous_mbps"`
	Results           Results      `json:"results"`
	Endpoint          EndpointInfo `json:"endpoint"`
	StartedAt         time.Time    `json:"started_at,omitempty"`
	FinishedAt        time.Time    `json:"finished_at,omitempty"`
	LastError         string       `json:"last_error,omitempty"`
}

// Transport performs single network operations against the endpoint pair.
type Transport interface {
	// Probe performs one uncached round trip to the latency endpoint.
	Probe(ctx context.Context) error
	// Download fetches size bytes and reports each received chunk to onBytes.
	Download(ctx context.Context, size int64, onBytes func(n int)) error
	// Upload sends payload and discards the response.
	Upload(ctx context.Context, payload []byte) error
}

// Inspector resolves path details for the endpoint before a run.
type Inspector interface {
	Inspect(ctx context.Context) (EndpointInfo, error)
}

// Recorder receives engine telemetry. Implementations must be safe for
// concurrent use.
type Recorder interface {
	AddBytes(dir Direction, n int)
	TransferFailed(dir Direction)
	ProbeObserved(rtt time.Duration, ok bool)
	PhaseFinished(phase Phase, elapsed time.Duration, samples int)
	RunFinished(outcome string, snap Snapshot)
}

type nopRecorder struct{}

func (nopRecorder) AddBytes(Direction, int) {}
func (nopRecorder) TransferFailed(Direction) {}
func (nopRecorder) ProbeObserved(time.Duration, bool) {}
func (nopRecorder) PhaseFinished(Phase, time.Duration, int) {}
func (nopRecorder) RunFinished(string, Snapshot) {}

// Run outcomes passed to Recorder.RunFinished.
const (
	OutcomeComplete  = "complete"
	OutcomeCancelled = "cancelled"
	OutcomeFailed    = "failed"
)
