// Package metrics holds the Prometheus collectors for the pose pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "posebridge"

// Metrics groups every collector the pipeline updates. Each instance owns a
// private registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	FramesReceived  prometheus.Counter
	FramesRejected  *prometheus.CounterVec
	FramesProcessed prometheus.Counter
	FrameLatency    prometheus.Histogram

	SinkPublished *prometheus.CounterVec
	SinkErrors    *prometheus.CounterVec
	SinkDropped   *prometheus.CounterVec
	Sinks         prometheus.Gauge

	Producers        prometheus.Gauge
	Observers        prometheus.Gauge
	ObserversEvicted prometheus.Counter

	RecordingActive prometheus.Gauge
	RecordedFrames  prometheus.Counter

	ConfigReloads *prometheus.CounterVec
}

// New creates the collectors and registers them, plus Go runtime and
// process collectors, on a fresh registry.
func New() *Metrics {
	sinkLabels := []string{"sink_id", "sink_type"}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		FramesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "frames_received_total",
			Help: "Tracking messages received from producers.",
		}),
		FramesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "frames_rejected_total",
			Help: "Tracking messages discarded during validation.",
		}, []string{"reason"}),
		FramesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "frames_processed_total",
			Help: "Frames that went through the full pipeline.",
		}),
		FrameLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "frame_processing_seconds",
			Help:    "Time spent normalizing, publishing, recording and relaying one frame.",
			Buckets: []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025},
		}),
		SinkPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sink", Name: "frames_published_total",
			Help: "Frames handed to a sink adapter.",
		}, sinkLabels),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sink", Name: "publish_errors_total",
			Help: "Sink adapter transmission failures.",
		}, sinkLabels),
		SinkDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sink", Name: "frames_dropped_total",
			Help: "Frames dropped because a sink mailbox was full.",
		}, sinkLabels),
		Sinks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "sink", Name: "active",
			Help: "Live sink adapters.",
		}),
		Producers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "producers",
			Help: "Open producer connections.",
		}),
		Observers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "observers",
			Help: "Open observer connections.",
		}),
		ObserversEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "observers_evicted_total",
			Help: "Observers dropped for falling behind.",
		}),
		RecordingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "recorder", Name: "active",
			Help: "1 while a recording session is open.",
		}),
		RecordedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "recorder", Name: "frames_written_total",
			Help: "Frames appended to session files.",
		}),
		ConfigReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "config", Name: "reloads_total",
			Help: "Reconfiguration attempts by result.",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		m.FramesReceived, m.FramesRejected, m.FramesProcessed, m.FrameLatency,
		m.SinkPublished, m.SinkErrors, m.SinkDropped, m.Sinks,
		m.Producers, m.Observers, m.ObserversEvicted,
		m.RecordingActive, m.RecordedFrames,
		m.ConfigReloads,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
