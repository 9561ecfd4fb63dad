package engine

import "time"

const (
	// DefaultProbeCount is the number of latency probes per run.
	DefaultProbeCount = 10
	// DefaultDownloadWorkers is the download pool size.
	DefaultDownloadWorkers = 6
	// DefaultUploadWorkers is the upload pool size.
	DefaultUploadWorkers = 4
	// DefaultUploadPayloadBytes is the size of the shared upload body.
	DefaultUploadPayloadBytes = 1_000_000
	// DefaultUploadSanityTimeout excludes slower uploads from the byte count.
	DefaultUploadSanityTimeout = 10 * time.Second
	// DefaultDownloadRetryBackoff is the pause after a failed download.
	DefaultDownloadRetryBackoff = 50 * time.Millisecond
	// DefaultUploadRetryBackoff is the pause after a failed upload.
	DefaultUploadRetryBackoff = 100 * time.Millisecond
	// DefaultSettleDelay separates consecutive phases.
	DefaultSettleDelay = 500 * time.Millisecond

	minProbeSuccesses = 3
)

// DefaultDownloadSizes are the rotating download size tiers in bytes.
var DefaultDownloadSizes = []int64{10_000_000, 25_000_000, 50_000_000}

// Config holds the engine constants. Zero fields take defaults.
type Config struct {
	ProbeCount int

	DownloadWorkers      int
	DownloadSizes        []int64
	DownloadRetryBackoff time.Duration

	UploadWorkers       int
	UploadPayloadBytes  int
	UploadSanityTimeout time.Duration
	UploadRetryBackoff  time.Duration

	Sampling SamplingConfig

	SettleDelay time.Duration
}

// SamplingConfig parameterizes the throughput sampler and stability detector.
type SamplingConfig struct {
	Interval    time.Duration
	Window      int
	Tolerance   float64
	StableTicks int
	MinDuration time.Duration
	MaxDuration time.Duration
	MinSamples  int
	// Warmup is the leading fraction of samples dropped before averaging.
	Warmup float64
}

// DefaultSamplingConfig returns the stock stability parameters.
func DefaultSamplingConfig() SamplingConfig {
	return SamplingConfig{
		Interval:    100 * time.Millisecond,
		Window:      15,
		Tolerance:   5,
		StableTicks: 10,
		MinDuration: 10 * time.Second,
		MaxDuration: 20 * time.Second,
		MinSamples:  10,
		Warmup:      0.1,
	}
}

// DefaultConfig returns the stock engine configuration.
func DefaultConfig() Config {
	return Config{
		ProbeCount:           DefaultProbeCount,
		DownloadWorkers:      DefaultDownloadWorkers,
		DownloadSizes:        append([]int64(nil), DefaultDownloadSizes...),
		DownloadRetryBackoff: DefaultDownloadRetryBackoff,
		UploadWorkers:        DefaultUploadWorkers,
		UploadPayloadBytes:   DefaultUploadPayloadBytes,
		UploadSanityTimeout:  DefaultUploadSanityTimeout,
		UploadRetryBackoff:   DefaultUploadRetryBackoff,
		Sampling:             DefaultSamplingConfig(),
		SettleDelay:          DefaultSettleDelay,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ProbeCount <= 0 {
		c.ProbeCount = def.ProbeCount
	}
	if c.DownloadWorkers <= 0 {
		c.DownloadWorkers = def.DownloadWorkers
	}
	if len(c.DownloadSizes) == 0 {
		c.DownloadSizes = def.DownloadSizes
	}
	if c.UploadWorkers <= 0 {
		c.UploadWorkers = def.UploadWorkers
	}
	if c.UploadPayloadBytes <= 0 {
		c.UploadPayloadBytes = def.UploadPayloadBytes
	}
	if c.UploadSanityTimeout <= 0 {
		c.UploadSanityTimeout = def.UploadSanityTimeout
	}
	if c.Sampling.Interval <= 0 {
		c.Sampling.Interval = def.Sampling.Interval
	}
	if c.Sampling.Window <= 0 {
		c.Sampling.Window = def.Sampling.Window
	}
	if c.Sampling.StableTicks <= 0 {
		c.Sampling.StableTicks = def.Sampling.StableTicks
	}
	if c.Sampling.MaxDuration <= 0 {
		c.Sampling.MaxDuration = def.Sampling.MaxDuration
	}
	if c.Sampling.MinSamples <= 0 {
		c.Sampling.MinSamples = def.Sampling.MinSamples
	}
	return c
}
