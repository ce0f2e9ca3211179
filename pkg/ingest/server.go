// Package ingest is the ingestion server: it classifies websocket
// connections as producers or observers and drives every valid tracking
// envelope through normalize, broadcast, record and observer relay.
package ingest

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-posebridge/internal/log"
	"github.com/teslashibe/go-posebridge/pkg/configstore"
	"github.com/teslashibe/go-posebridge/pkg/hub"
	"github.com/teslashibe/go-posebridge/pkg/metrics"
	"github.com/teslashibe/go-posebridge/pkg/normalizer"
	"github.com/teslashibe/go-posebridge/pkg/pose"
	"github.com/teslashibe/go-posebridge/pkg/protocol"
	"github.com/teslashibe/go-posebridge/pkg/sink"
)

// Recorder receives every normalized frame. *recorder.Recorder satisfies it.
type Recorder interface {
	Record(pose.Frame) error
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics sets the collectors shared by the whole pipeline.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithRecorder attaches the session recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Server) { s.recorder = r }
}

// WithBroadcaster overrides the sink broadcaster.
func WithBroadcaster(b *sink.Broadcaster) Option {
	return func(s *Server) { s.sinks = b }
}

// settings is the part of the configuration read on every frame. It is
// replaced as a whole on reconfiguration.
type settings struct {
	targetFPS float64
}

// Server owns the pipeline state. Reconfiguration goes through
// UpdateConfig and UpdateSinks only.
type Server struct {
	config     configstore.Provider
	normalizer *normalizer.Normalizer
	sinks      *sink.Broadcaster
	recorder   Recorder
	observers  *hub.Hub
	metrics    *metrics.Metrics
	logger     *slog.Logger

	settings  atomic.Pointer[settings]
	producers atomic.Int64

	connMu        sync.Mutex
	producerConns map[io.Closer]struct{}
}

// NewServer builds a server from the provider's current configuration.
// Sinks are not opened until UpdateSinks or UpdateConfig is called.
func NewServer(provider configstore.Provider, opts ...Option) (*Server, error) {
	s := &Server{config: provider, producerConns: make(map[io.Closer]struct{})}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.Component("ingest")
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	if s.sinks == nil {
		s.sinks = sink.NewBroadcaster(
			sink.WithLogger(s.logger.With("component", "sinks")),
			sink.WithMetrics(s.metrics),
		)
	}

	cfg, err := provider.Read()
	if err != nil {
		return nil, fmt.Errorf("ingest: read config: %w", err)
	}
	n, err := normalizer.New(cfg.FilterParams(), s.logger.With("component", "normalizer"))
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	s.normalizer = n
	s.settings.Store(&settings{targetFPS: cfg.Video.TargetFPS})
	s.observers = hub.New("observers",
		hub.WithLogger(s.logger.With("component", "observers")),
		hub.WithMetrics(s.metrics),
	)
	return s, nil
}

// Observers returns the observer hub.
func (s *Server) Observers() *hub.Hub {
	return s.observers
}

// Sinks returns the sink broadcaster.
func (s *Server) Sinks() *sink.Broadcaster {
	return s.sinks
}

// Normalizer returns the frame normalizer.
func (s *Server) Normalizer() *normalizer.Normalizer {
	return s.normalizer
}

// ProducerCount returns the number of connected producers.
func (s *Server) ProducerCount() int {
	return int(s.producers.Load())
}

// HandleMessage parses one producer message and, if valid, runs it
// through the pipeline. Invalid messages are logged and counted; the
// returned error is for the caller's information only.
func (s *Server) HandleMessage(data []byte) error {
	s.metrics.FramesReceived.Inc()
	env, err := protocol.ParseTracking(data)
	if err != nil {
		s.metrics.FramesRejected.WithLabelValues(rejectReason(err)).Inc()
		s.logger.Warn("invalid tracking payload", "error", err)
		return err
	}
	s.Process(env)
	return nil
}

// Process runs a validated envelope through the pipeline and returns the
// normalized frame. Sink and recorder failures never reach the caller.
func (s *Server) Process(env *protocol.TrackingEnvelope) pose.Frame {
	start := time.Now()

	normalized := s.normalizer.Normalize(env.Payload)
	s.sinks.Publish(normalized)
	if s.recorder != nil {
		if err := s.recorder.Record(normalized); err != nil {
			s.logger.Error("record frame", "error", err)
		}
	}

	resolved := env.Metrics.Resolve(s.settings.Load().targetFPS)
	data, err := protocol.NewMonitor(normalized, resolved).Bytes()
	if err != nil {
		s.logger.Error("encode monitor message", "error", err)
	} else {
		s.observers.Broadcast(hub.NewTextMessage(data))
	}

	s.metrics.FramesProcessed.Inc()
	s.metrics.FrameLatency.Observe(time.Since(start).Seconds())
	return normalized
}

// UpdateConfig re-reads the provider and applies it: the sink set is
// rebuilt, then the filter model is swapped. On error nothing changes.
func (s *Server) UpdateConfig() error {
	cfg, err := s.config.Read()
	if err != nil {
		s.metrics.ConfigReloads.WithLabelValues("error").Inc()
		return fmt.Errorf("ingest: read config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		s.metrics.ConfigReloads.WithLabelValues("rejected").Inc()
		return err
	}
	if err := s.sinks.UpdateSinks(cfg.Sinks); err != nil {
		s.metrics.ConfigReloads.WithLabelValues("error").Inc()
		return err
	}
	if err := s.normalizer.UpdateConfig(cfg.FilterParams()); err != nil {
		s.metrics.ConfigReloads.WithLabelValues("rejected").Inc()
		return err
	}
	s.settings.Store(&settings{targetFPS: cfg.Video.TargetFPS})
	s.metrics.ConfigReloads.WithLabelValues("ok").Inc()
	s.logger.Info("configuration applied",
		"filter", cfg.Smoothing.Filter,
		"sinks", len(cfg.Sinks),
		"target_fps", cfg.Video.TargetFPS,
	)
	return nil
}

// UpdateSinks replaces the active sink set.
func (s *Server) UpdateSinks(ds []sink.Descriptor) error {
	return s.sinks.UpdateSinks(ds)
}

// Disconnect closes every producer and observer connection. Run it before
// stopping the HTTP server so open websockets do not hold shutdown up.
func (s *Server) Disconnect() {
	s.observers.Close()

	s.connMu.Lock()
	defer s.connMu.Unlock()
	for c := range s.producerConns {
		c.Close()
	}
}

// Close disconnects every connection and closes every sink adapter.
func (s *Server) Close() {
	s.Disconnect()
	s.sinks.Close()
}

func (s *Server) trackProducer(c io.Closer) {
	s.connMu.Lock()
	s.producerConns[c] = struct{}{}
	s.connMu.Unlock()
}

func (s *Server) untrackProducer(c io.Closer) {
	s.connMu.Lock()
	delete(s.producerConns, c)
	s.connMu.Unlock()
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, protocol.ErrUnexpectedType):
		return "type"
	case errors.Is(err, pose.ErrInvalidFrame):
		return "invalid_frame"
	default:
		return "decode"
	}
}
