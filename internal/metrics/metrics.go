// Package metrics exposes engine telemetry in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/NodePath81/fbspeed/internal/engine"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fbspeed"

// Metrics implements engine.Recorder on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	bytesTotal     *prometheus.CounterVec
	transferErrors *prometheus.CounterVec
	probesTotal    *prometheus.CounterVec
	probeRTT       prometheus.Histogram
	runsTotal      *prometheus.CounterVec
	phaseDuration  *prometheus.GaugeVec
	phaseSamples   *prometheus.GaugeVec
	lastResult     *prometheus.GaugeVec
	lastRunTime    prometheus.Gauge
	startTime      prometheus.Gauge
}

var _ engine.Recorder = (*Metrics)(nil)

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		bytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_bytes_total",
			Help:      "Bytes moved by transfer workers.",
		}, []string{"direction"}),
		transferErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_errors_total",
			Help:      "Failed transfers that were retried.",
		}, []string{"direction"}),
		probesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_total",
			Help:      "Latency probes by result.",
		}, []string{"result"}),
		probeRTT: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_rtt_seconds",
			Help:      "Round-trip time of successful latency probes.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished runs by outcome.",
		}, []string{"outcome"}),
		phaseDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "phase_duration_seconds",
			Help:      "Duration of the most recent phase.",
		}, []string{"phase"}),
		phaseSamples: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "phase_samples",
			Help:      "Samples collected in the most recent phase.",
		}, []string{"phase"}),
		lastResult: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_result",
			Help:      "Figures of the last completed run; absent while unmeasured.",
		}, []string{"metric"}),
		lastRunTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
		startTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "start_time_seconds",
			Help:      "Unix time the process started.",
		}),
	}
	m.registry.MustRegister(
		m.bytesTotal,
		m.transferErrors,
		m.probesTotal,
		m.probeRTT,
		m.runsTotal,
		m.phaseDuration,
		m.phaseSamples,
		m.lastResult,
		m.lastRunTime,
		m.startTime,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m.startTime.Set(float64(time.Now().Unix()))
	return m
}

// Registry returns the registry backing Handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) AddBytes(dir engine.Direction, n int) {
	if n <= 0 {
		return
	}
	m.bytesTotal.WithLabelValues(dir.String()).Add(float64(n))
}

func (m *Metrics) TransferFailed(dir engine.Direction) {
	m.transferErrors.WithLabelValues(dir.String()).Inc()
}

func (m *Metrics) ProbeObserved(rtt time.Duration, ok bool) {
	if !ok {
		m.probesTotal.WithLabelValues("failed").Inc()
		return
	}
	m.probesTotal.WithLabelValues("ok").Inc()
	m.probeRTT.Observe(rtt.Seconds())
}

func (m *Metrics) PhaseFinished(phase engine.Phase, elapsed time.Duration, samples int) {
	m.phaseDuration.WithLabelValues(phase.String()).Set(elapsed.Seconds())
	m.phaseSamples.WithLabelValues(phase.String()).Set(float64(samples))
}

func (m *Metrics) RunFinished(outcome string, snap engine.Snapshot) {
	m.runsTotal.WithLabelValues(outcome).Inc()
	if outcome != engine.OutcomeComplete {
		return
	}
	m.lastRunTime.Set(float64(snap.FinishedAt.Unix()))
	res := snap.Results
	m.setResult("ping_ms", res.PingMs, res.PingMeasured)
	m.setResult("jitter_ms", res.JitterMs, res.PingMeasured)
	m.setResult("download_mbps", res.DownloadMbps, res.DownloadMeasured)
	m.setResult("upload_mbps", res.UploadMbps, res.UploadMeasured)
}

func (m *Metrics) setResult(name string, value float64, measured bool) {
	if !measured {
		m.lastResult.DeleteLabelValues(name)
		return
	}
	m.lastResult.WithLabelValues(name).Set(value)
}
