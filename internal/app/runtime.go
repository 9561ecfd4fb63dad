package app

import (
	"context"
	"time"

	"github.com/NodePath81/fbspeed/internal/config"
	"github.com/NodePath81/fbspeed/internal/control"
	"github.com/NodePath81/fbspeed/internal/endpoint"
	"github.com/NodePath81/fbspeed/internal/engine"
	"github.com/NodePath81/fbspeed/internal/metrics"
	"github.com/NodePath81/fbspeed/internal/netinfo"
	"github.com/NodePath81/fbspeed/internal/util"
)

// EngineConfig maps the loaded configuration onto engine constants.
func EngineConfig(cfg config.Config) engine.Config {
	return engine.Config{
		ProbeCount:           cfg.Probe.Count,
		DownloadWorkers:      cfg.Download.Workers,
		DownloadSizes:        append([]int64(nil), cfg.Download.SizeBytes...),
		DownloadRetryBackoff: cfg.Download.RetryBackoff.Duration(),
		UploadWorkers:        cfg.Upload.Workers,
		UploadPayloadBytes:   int(cfg.Upload.PayloadBytes),
		UploadSanityTimeout:  cfg.Upload.SanityTimeout.Duration(),
		UploadRetryBackoff:   cfg.Upload.RetryBackoff.Duration(),
		Sampling: engine.SamplingConfig{
			Interval:    cfg.Sampling.Interval.Duration(),
			Window:      cfg.Sampling.Window,
			Tolerance:   cfg.Sampling.Tolerance,
			StableTicks: cfg.Sampling.StableTicks,
			MinDuration: cfg.Sampling.MinDuration.Duration(),
			MaxDuration: cfg.Sampling.MaxDuration.Duration(),
			MinSamples:  cfg.Sampling.MinSamples,
			Warmup:      cfg.Sampling.Warmup(),
		},
		SettleDelay: cfg.Run.SettleDelay.Duration(),
	}
}

// Engine bundles an orchestrator with the resources it owns.
type Engine struct {
	*engine.Orchestrator
	Client  *endpoint.Client
	Metrics *metrics.Metrics
	geo     *netinfo.GeoIP
}

// NewEngine wires the HTTP transport, endpoint inspector and metrics into
// an orchestrator. A GeoIP database that fails to open is logged and skipped.
func NewEngine(cfg config.Config, logger util.Logger) (*Engine, error) {
	client, err := endpoint.New(endpoint.Options{
		PingURL:     cfg.Endpoints.Ping,
		DownloadURL: cfg.Endpoints.Download,
		UploadURL:   cfg.Endpoints.Upload,
		DialTimeout: cfg.Transport.DialTimeout.Duration(),
		RecvBuffer:  int(cfg.Transport.RecvBufferBytes),
		SendBuffer:  int(cfg.Transport.SendBufferBytes),
		HTTP2:       cfg.Transport.HTTP2Enabled(),
		UserAgent:   cfg.Transport.UserAgent,
	})
	if err != nil {
		return nil, err
	}

	var geo *netinfo.GeoIP
	if path := cfg.NetInfo.GeoIPDatabase; path != "" {
		geo, err = netinfo.OpenGeoIP(path)
		if err != nil {
			logger.Warn("geoip disabled", "path", path, "error", err)
			geo = nil
		}
	}
	inspector := netinfo.NewInspector(netinfo.InspectorOptions{
		Host:        client.Host(),
		RouteLookup: cfg.NetInfo.RouteLookupEnabled(),
		GeoIP:       geo,
		Logger:      logger,
	})

	m := metrics.NewMetrics()
	orch := engine.NewOrchestrator(engine.Options{
		Config:    EngineConfig(cfg),
		Transport: client,
		Inspector: inspector,
		Recorder:  m,
		Logger:    logger,
	})
	return &Engine{Orchestrator: orch, Client: client, Metrics: m, geo: geo}, nil
}

// Close stops any run and releases the transport and GeoIP reader.
func (e *Engine) Close() {
	e.Orchestrator.Close()
	e.Client.Close()
	_ = e.geo.Close()
}

// Runtime is the long-running control-plane process: one engine and the
// control server in front of it.
type Runtime struct {
	cfg     config.Config
	ctx     context.Context
	cancel  context.CancelFunc
	logger  util.Logger
	engine  *Engine
	control *control.ControlServer
}

func NewRuntime(cfg config.Config, logger util.Logger) (*Runtime, error) {
	eng, err := NewEngine(cfg, logger)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	rt := &Runtime{
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
		engine:  eng,
		control: control.NewControlServer(cfg, eng, eng.Metrics.Handler(), logger),
	}
	return rt, nil
}

func (r *Runtime) Start() error {
	if err := r.control.Start(r.ctx); err != nil {
		r.Stop()
		return err
	}
	return nil
}

// ControlAddr is the bound control address after Start.
func (r *Runtime) ControlAddr() string {
	return r.control.Addr()
}

func (r *Runtime) Engine() *Engine {
	return r.engine
}

func (r *Runtime) Stop() {
	r.cancel()
	if r.control != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = r.control.Shutdown(ctx)
		cancel()
	}
	r.engine.Close()
}
