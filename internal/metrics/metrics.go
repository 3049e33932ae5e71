// internal/metrics/metrics.go
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"serial-device/internal/discovery"
	"serial-device/internal/protocol"
)

const namespace = "serial_device"

// Metrics holds the service collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	scans         *prometheus.CounterVec
	scanDuration  prometheus.Histogram
	probes        *prometheus.CounterVec
	probeDuration prometheus.Histogram
	devices       prometheus.Gauge
	frames        *prometheus.CounterVec
	lifecycle     *prometheus.CounterVec
}

// New creates and registers all collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Device scans by result.",
		}, []string{"result"}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Wall time of completed scans.",
			Buckets:   []float64{.5, 1, 2, 4, 8, 16, 32},
		}),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_total",
			Help:      "Port probes by outcome.",
		}, []string{"outcome"}),
		probeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_duration_seconds",
			Help:      "Wall time of single port probes.",
			Buckets:   prometheus.DefBuckets,
		}),
		devices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registered_devices",
			Help:      "Devices in the registry after the last scan.",
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Frames exchanged with devices by direction and status.",
		}, []string{"direction", "status"}),
		lifecycle: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lifecycle_total",
			Help:      "Open and close requests by result.",
		}, []string{"action", "result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.scans,
		m.scanDuration,
		m.probes,
		m.probeDuration,
		m.devices,
		m.frames,
		m.lifecycle,
	)
	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveProbe matches discovery.ProbeObserver
func (m *Metrics) ObserveProbe(_ discovery.PortInfo, outcome discovery.ProbeOutcome, elapsed time.Duration) {
	m.probes.WithLabelValues(string(outcome)).Inc()
	m.probeDuration.Observe(elapsed.Seconds())
}

// ObserveScan records a finished or rejected scan
func (m *Metrics) ObserveScan(elapsed time.Duration, registered int, err error) {
	if err != nil {
		m.scans.WithLabelValues("rejected").Inc()
		return
	}
	m.scans.WithLabelValues("completed").Inc()
	m.scanDuration.Observe(elapsed.Seconds())
	m.devices.Set(float64(registered))
}

// ObserveLifecycle records an open or close request
func (m *Metrics) ObserveLifecycle(action string, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.lifecycle.WithLabelValues(action, result).Inc()
}

// ObserveSend records an outbound frame
func (m *Metrics) ObserveSend(sent bool, err error) {
	status := "ok"
	switch {
	case err != nil:
		status = "error"
	case !sent:
		status = "skipped"
	}
	m.frames.WithLabelValues("tx", status).Inc()
}

// ObserveRecv records an inbound read by how it ended
func (m *Metrics) ObserveRecv(status protocol.RecvStatus) {
	m.frames.WithLabelValues("rx", status.String()).Inc()
}
