package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/NodePath81/fbspeed/internal/util"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPingURL     = "https://speed.cloudflare.com/cdn-cgi/trace"
	DefaultDownloadURL = "https://speed.cloudflare.com/__down"
	DefaultUploadURL   = "https://speed.cloudflare.com/__up"

	defaultLogLevel  = "info"
	defaultLogFormat = "text"

	defaultProbeCount = 10

	defaultDownloadWorkers      = 6
	defaultDownloadRetryBackoff = 50 * time.Millisecond
	defaultUploadWorkers        = 4
	defaultUploadPayloadSize    = "1mb"
	defaultUploadRetryBackoff   = 100 * time.Millisecond
	defaultUploadSanityTimeout  = 10 * time.Second

	defaultSamplingInterval    = 100 * time.Millisecond
	defaultSamplingWindow      = 15
	defaultSamplingTolerance   = 5.0
	defaultSamplingStableTicks = 10
	defaultSamplingMinDuration = 10 * time.Second
	defaultSamplingMaxDuration = 20 * time.Second
	defaultSamplingMinSamples  = 10
	defaultSamplingWarmup      = 0.1

	defaultSettleDelay = 500 * time.Millisecond

	defaultDialTimeout = 10 * time.Second
	defaultHTTP2       = false
	defaultUserAgent   = "fbspeed"
	defaultRouteLookup = true

	defaultControlAddr           = "127.0.0.1"
	defaultControlPort           = 8080
	defaultControlMetricsEnabled = true

	defaultServerAddr        = "0.0.0.0"
	defaultServerPort        = 8081
	defaultServerMaxDownload = "100mb"
	defaultServerMaxUpload   = "50mb"

	minProbeCount = 3
)

var defaultDownloadSizes = []string{"10mb", "25mb", "50mb"}

type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be a scalar")
	}
	switch value.Tag {
	case "!!int", "!!float":
		var secs float64
		if err := value.Decode(&secs); err != nil {
			return err
		}
		*d = Duration(time.Duration(secs * float64(time.Second)))
		return nil
	default:
		var raw string
		if err := value.Decode(&raw); err != nil {
			return err
		}
		if raw == "" {
			*d = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	}
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

type Config struct {
	Hostname  string          `yaml:"hostname"`
	Log       LogConfig       `yaml:"log"`
	Endpoints EndpointsConfig `yaml:"endpoints"`
	Probe     ProbeConfig     `yaml:"probe"`
	Download  DownloadConfig  `yaml:"download"`
	Upload    UploadConfig    `yaml:"upload"`
	Sampling  SamplingConfig  `yaml:"sampling"`
	Run       RunConfig       `yaml:"run"`
	Transport TransportConfig `yaml:"transport"`
	NetInfo   NetInfoConfig   `yaml:"netinfo"`
	Control   ControlConfig   `yaml:"control"`
	Server    ServerConfig    `yaml:"server"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type EndpointsConfig struct {
	Ping     string `yaml:"ping"`
	Download string `yaml:"download"`
	Upload   string `yaml:"upload"`
}

type ProbeConfig struct {
	Count int `yaml:"count"`
}

type DownloadConfig struct {
	Workers      int      `yaml:"workers"`
	Sizes        []string `yaml:"sizes"`
	RetryBackoff Duration `yaml:"retry_backoff"`

	SizeBytes []int64 `yaml:"-"`
}

type UploadConfig struct {
	Workers       int      `yaml:"workers"`
	PayloadSize   string   `yaml:"payload_size"`
	RetryBackoff  Duration `yaml:"retry_backoff"`
	SanityTimeout Duration `yaml:"sanity_timeout"`

	PayloadBytes int64 `yaml:"-"`
}

// SamplingConfig drives the stability detector shared by both transfer phases.
// Tolerance is in Mbps.
type SamplingConfig struct {
	Interval       Duration `yaml:"interval"`
	Window         int      `yaml:"window"`
	Tolerance      float64  `yaml:"tolerance"`
	StableTicks    int      `yaml:"stable_ticks"`
	MinDuration    Duration `yaml:"min_duration"`
	MaxDuration    Duration `yaml:"max_duration"`
	MinSamples     int      `yaml:"min_samples"`
	WarmupFraction *float64 `yaml:"warmup_fraction"`
}

type RunConfig struct {
	SettleDelay Duration `yaml:"settle_delay"`
}

type TransportConfig struct {
	DialTimeout Duration `yaml:"dial_timeout"`
	RecvBuffer  string   `yaml:"recv_buffer"`
	SendBuffer  string   `yaml:"send_buffer"`
	HTTP2       *bool    `yaml:"http2"`
	UserAgent   string   `yaml:"user_agent"`

	RecvBufferBytes int64 `yaml:"-"`
	SendBufferBytes int64 `yaml:"-"`
}

type NetInfoConfig struct {
	RouteLookup   *bool  `yaml:"route_lookup"`
	GeoIPDatabase string `yaml:"geoip_database"`
}

type ControlConfig struct {
	BindAddr  string               `yaml:"bind_addr"`
	BindPort  int                  `yaml:"bind_port"`
	AuthToken string               `yaml:"auth_token"`
	Metrics   ControlMetricsConfig `yaml:"metrics"`
}

type ControlMetricsConfig struct {
	Enabled *bool `yaml:"enabled"`
}

// ServerConfig configures the local speed server. Shaping rates are
// bandwidth strings ("100m"); empty means unshaped.
type ServerConfig struct {
	BindAddr      string `yaml:"bind_addr"`
	BindPort      int    `yaml:"bind_port"`
	MaxDownload   string `yaml:"max_download"`
	MaxUpload     string `yaml:"max_upload"`
	ShapeDownload string `yaml:"shape_download"`
	ShapeUpload   string `yaml:"shape_upload"`

	MaxDownloadBytes   int64  `yaml:"-"`
	MaxUploadBytes     int64  `yaml:"-"`
	ShapeDownloadBytes uint64 `yaml:"-"`
	ShapeUploadBytes   uint64 `yaml:"-"`
}

func (m ControlMetricsConfig) IsEnabled() bool {
	return util.BoolValue(m.Enabled, defaultControlMetricsEnabled)
}

func (t TransportConfig) HTTP2Enabled() bool {
	return util.BoolValue(t.HTTP2, defaultHTTP2)
}

func (n NetInfoConfig) RouteLookupEnabled() bool {
	return util.BoolValue(n.RouteLookup, defaultRouteLookup)
}

func (s SamplingConfig) Warmup() float64 {
	if s.WarmupFraction == nil {
		return defaultSamplingWarmup
	}
	return *s.WarmupFraction
}

func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return ParseConfig(raw)
}

func ParseConfig(raw []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, err
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns a validated config with every field at its default.
func Default() Config {
	var cfg Config
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return cfg
}

func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = defaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = defaultLogFormat
	}

	if c.Endpoints.Ping == "" {
		c.Endpoints.Ping = DefaultPingURL
	}
	if c.Endpoints.Download == "" {
		c.Endpoints.Download = DefaultDownloadURL
	}
	if c.Endpoints.Upload == "" {
		c.Endpoints.Upload = DefaultUploadURL
	}

	if c.Probe.Count == 0 {
		c.Probe.Count = defaultProbeCount
	}

	if c.Download.Workers == 0 {
		c.Download.Workers = defaultDownloadWorkers
	}
	if len(c.Download.Sizes) == 0 {
		c.Download.Sizes = append([]string(nil), defaultDownloadSizes...)
	}
	if c.Download.RetryBackoff == 0 {
		c.Download.RetryBackoff = Duration(defaultDownloadRetryBackoff)
	}

	if c.Upload.Workers == 0 {
		c.Upload.Workers = defaultUploadWorkers
	}
	if c.Upload.PayloadSize == "" {
		c.Upload.PayloadSize = defaultUploadPayloadSize
	}
	if c.Upload.RetryBackoff == 0 {
		c.Upload.RetryBackoff = Duration(defaultUploadRetryBackoff)
	}
	if c.Upload.SanityTimeout == 0 {
		c.Upload.SanityTimeout = Duration(defaultUploadSanityTimeout)
	}

	if c.Sampling.Interval == 0 {
		c.Sampling.Interval = Duration(defaultSamplingInterval)
	}
	if c.Sampling.Window == 0 {
		c.Sampling.Window = defaultSamplingWindow
	}
	if c.Sampling.Tolerance == 0 {
		c.Sampling.Tolerance = defaultSamplingTolerance
	}
	if c.Sampling.StableTicks == 0 {
		c.Sampling.StableTicks = defaultSamplingStableTicks
	}
	if c.Sampling.MinDuration == 0 {
		c.Sampling.MinDuration = Duration(defaultSamplingMinDuration)
	}
	if c.Sampling.MaxDuration == 0 {
		c.Sampling.MaxDuration = Duration(defaultSamplingMaxDuration)
	}
	if c.Sampling.MinSamples == 0 {
		c.Sampling.MinSamples = defaultSamplingMinSamples
	}
	if c.Sampling.WarmupFraction == nil {
		val := defaultSamplingWarmup
		c.Sampling.WarmupFraction = &val
	}

	if c.Run.SettleDelay == 0 {
		c.Run.SettleDelay = Duration(defaultSettleDelay)
	}

	if c.Transport.DialTimeout == 0 {
		c.Transport.DialTimeout = Duration(defaultDialTimeout)
	}
	if c.Transport.HTTP2 == nil {
		val := defaultHTTP2
		c.Transport.HTTP2 = &val
	}
	if c.Transport.UserAgent == "" {
		c.Transport.UserAgent = defaultUserAgent
	}

	if c.NetInfo.RouteLookup == nil {
		val := defaultRouteLookup
		c.NetInfo.RouteLookup = &val
	}

	if c.Control.BindAddr == "" {
		c.Control.BindAddr = defaultControlAddr
	}
	if c.Control.BindPort == 0 {
		c.Control.BindPort = defaultControlPort
	}
	if c.Control.Metrics.Enabled == nil {
		enabled := defaultControlMetricsEnabled
		c.Control.Metrics.Enabled = &enabled
	}

	if c.Server.BindAddr == "" {
		c.Server.BindAddr = defaultServerAddr
	}
	if c.Server.BindPort == 0 {
		c.Server.BindPort = defaultServerPort
	}
	if c.Server.MaxDownload == "" {
		c.Server.MaxDownload = defaultServerMaxDownload
	}
	if c.Server.MaxUpload == "" {
		c.Server.MaxUpload = defaultServerMaxUpload
	}
}

func (c *Config) validate() error {
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json: %q", c.Log.Format)
	}

	if err := validateEndpoint("endpoints.ping", c.Endpoints.Ping); err != nil {
		return err
	}
	if err := validateEndpoint("endpoints.download", c.Endpoints.Download); err != nil {
		return err
	}
	if err := validateEndpoint("endpoints.upload", c.Endpoints.Upload); err != nil {
		return err
	}

	if c.Probe.Count < minProbeCount {
		return fmt.Errorf("probe.count must be >= %d", minProbeCount)
	}

	if c.Download.Workers <= 0 || c.Upload.Workers <= 0 {
		return errors.New("download.workers and upload.workers must be > 0")
	}
	c.Download.SizeBytes = c.Download.SizeBytes[:0]
	for i, raw := range c.Download.Sizes {
		size, err := ParseSize(raw)
		if err != nil {
			return fmt.Errorf("download.sizes[%d]: %w", i, err)
		}
		if size <= 0 {
			return fmt.Errorf("download.sizes[%d] must be > 0", i)
		}
		c.Download.SizeBytes = append(c.Download.SizeBytes, size)
	}
	payload, err := ParseSize(c.Upload.PayloadSize)
	if err != nil {
		return fmt.Errorf("upload.payload_size: %w", err)
	}
	if payload <= 0 {
		return errors.New("upload.payload_size must be > 0")
	}
	c.Upload.PayloadBytes = payload
	if c.Download.RetryBackoff.Duration() < 0 || c.Upload.RetryBackoff.Duration() < 0 {
		return errors.New("retry_backoff must be >= 0")
	}
	if c.Upload.SanityTimeout.Duration() <= 0 {
		return errors.New("upload.sanity_timeout must be > 0")
	}

	s := c.Sampling
	if s.Interval.Duration() <= 0 {
		return errors.New("sampling.interval must be > 0")
	}
	if s.Window <= 0 || s.StableTicks <= 0 || s.MinSamples <= 0 {
		return errors.New("sampling.window, stable_ticks and min_samples must be > 0")
	}
	if s.Tolerance < 0 {
		return errors.New("sampling.tolerance must be >= 0")
	}
	if s.MinDuration.Duration() < 0 || s.MaxDuration.Duration() <= 0 {
		return errors.New("sampling.min_duration must be >= 0 and max_duration > 0")
	}
	if s.MinDuration.Duration() > s.MaxDuration.Duration() {
		return errors.New("sampling.min_duration must be <= max_duration")
	}
	if w := s.Warmup(); w < 0 || w >= 1 {
		return errors.New("sampling.warmup_fraction must be in [0,1)")
	}

	if c.Run.SettleDelay.Duration() < 0 {
		return errors.New("run.settle_delay must be >= 0")
	}

	if c.Transport.DialTimeout.Duration() <= 0 {
		return errors.New("transport.dial_timeout must be > 0")
	}
	if c.Transport.RecvBufferBytes, err = ParseSize(c.Transport.RecvBuffer); err != nil {
		return fmt.Errorf("transport.recv_buffer: %w", err)
	}
	if c.Transport.SendBufferBytes, err = ParseSize(c.Transport.SendBuffer); err != nil {
		return fmt.Errorf("transport.send_buffer: %w", err)
	}

	if c.Control.BindPort <= 0 || c.Control.BindPort > 65535 {
		return errors.New("control.bind_port must be in 1..65535")
	}
	if c.Server.BindPort <= 0 || c.Server.BindPort > 65535 {
		return errors.New("server.bind_port must be in 1..65535")
	}
	if c.Server.MaxDownloadBytes, err = ParseSize(c.Server.MaxDownload); err != nil {
		return fmt.Errorf("server.max_download: %w", err)
	}
	if c.Server.MaxUploadBytes, err = ParseSize(c.Server.MaxUpload); err != nil {
		return fmt.Errorf("server.max_upload: %w", err)
	}
	if c.Server.ShapeDownloadBytes, err = parseRateBytes(c.Server.ShapeDownload); err != nil {
		return fmt.Errorf("server.shape_download: %w", err)
	}
	if c.Server.ShapeUploadBytes, err = parseRateBytes(c.Server.ShapeUpload); err != nil {
		return fmt.Errorf("server.shape_upload: %w", err)
	}
	return nil
}

func validateEndpoint(field, raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must be an http or https url: %q", field, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s must include a host: %q", field, raw)
	}
	return nil
}

// parseRateBytes converts a bandwidth string in bits/sec to bytes/sec.
func parseRateBytes(s string) (uint64, error) {
	bits, err := ParseBandwidth(s)
	if err != nil {
		return 0, err
	}
	return bits / 8, nil
}
