// Package protocol defines the WebSocket envelopes exchanged with pose
// producers and monitoring observers.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/teslashibe/go-posebridge/pkg/pose"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Producer → server
	TypeTracking MessageType = "tracking"

	// Server → observer
	TypeMonitor MessageType = "monitor"
)

var (
	// ErrMalformed is returned when an envelope is not valid JSON or is
	// missing required members.
	ErrMalformed = errors.New("protocol: malformed envelope")

	// ErrUnexpectedType is returned when the envelope type is not tracking.
	ErrUnexpectedType = errors.New("protocol: unexpected message type")
)

// PartialMetrics is the optional capture metrics block a producer may
// attach. Every field may be omitted.
type PartialMetrics struct {
	CameraFPS      *float64 `json:"cameraFps,omitempty"`
	EffectiveFPS   *float64 `json:"effectiveFps,omitempty"`
	AFIMultiplier  *float64 `json:"afiMultiplier,omitempty"`
	SREnabled      *bool    `json:"srEnabled,omitempty"`
	GPUBackend     *string  `json:"gpuBackend,omitempty"`
	AddedLatencyMs *float64 `json:"addedLatencyMs,omitempty"`
}

// Metrics is the metrics record relayed to observers.
type Metrics struct {
	CameraFPS      float64  `json:"cameraFps"`
	EffectiveFPS   float64  `json:"effectiveFps"`
	AFIMultiplier  *float64 `json:"afiMultiplier,omitempty"`
	SREnabled      *bool    `json:"srEnabled,omitempty"`
	GPUBackend     *string  `json:"gpuBackend,omitempty"`
	AddedLatencyMs *float64 `json:"addedLatencyMs,omitempty"`
}

// Resolve fills the rates the producer left out with targetFPS. Both
// cameraFps and effectiveFps fall back to the target independently.
func (p *PartialMetrics) Resolve(targetFPS float64) Metrics {
	m := Metrics{CameraFPS: targetFPS, EffectiveFPS: targetFPS}
	if p == nil {
		return m
	}
	if p.CameraFPS != nil {
		m.CameraFPS = *p.CameraFPS
	}
	if p.EffectiveFPS != nil {
		m.EffectiveFPS = *p.EffectiveFPS
	}
	m.AFIMultiplier = p.AFIMultiplier
	m.SREnabled = p.SREnabled
	m.GPUBackend = p.GPUBackend
	m.AddedLatencyMs = p.AddedLatencyMs
	return m
}

// TrackingEnvelope is the inbound producer message.
type TrackingEnvelope struct {
	Type    MessageType     `json:"type"`
	Payload pose.Frame      `json:"payload"`
	Metrics *PartialMetrics `json:"metrics,omitempty"`
}

// NewTracking wraps a frame for sending to the server.
func NewTracking(frame pose.Frame, metrics *PartialMetrics) TrackingEnvelope {
	return TrackingEnvelope{Type: TypeTracking, Payload: frame, Metrics: metrics}
}

// Bytes returns the JSON-encoded envelope
func (e TrackingEnvelope) Bytes() ([]byte, error) {
	return json.Marshal(e)
}

// MonitorEnvelope is the outbound observer message.
type MonitorEnvelope struct {
	Type    MessageType `json:"type"`
	Frame   pose.Frame  `json:"frame"`
	Metrics Metrics     `json:"metrics"`
}

// NewMonitor wraps a normalized frame and its metrics for observers.
func NewMonitor(frame pose.Frame, metrics Metrics) MonitorEnvelope {
	return MonitorEnvelope{Type: TypeMonitor, Frame: frame, Metrics: metrics}
}

// Bytes returns the JSON-encoded envelope
func (e MonitorEnvelope) Bytes() ([]byte, error) {
	return json.Marshal(e)
}

// ParseMonitor decodes an observer message.
func ParseMonitor(data []byte) (*MonitorEnvelope, error) {
	var env MonitorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type != TypeMonitor {
		return nil, fmt.Errorf("%w: %q", ErrUnexpectedType, env.Type)
	}
	return &env, nil
}

// rawTracking defers payload decoding so required members can be checked.
type rawTracking struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Metrics *PartialMetrics `json:"metrics"`
}

// ParseTracking decodes and validates a producer message. Errors wrap
// ErrMalformed, ErrUnexpectedType or pose.ErrInvalidFrame.
func ParseTracking(data []byte) (*TrackingEnvelope, error) {
	var raw rawTracking
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if raw.Type != TypeTracking {
		return nil, fmt.Errorf("%w: %q", ErrUnexpectedType, raw.Type)
	}
	if len(raw.Payload) == 0 || bytes.Equal(raw.Payload, []byte("null")) {
		return nil, fmt.Errorf("%w: missing payload", ErrMalformed)
	}

	var head struct {
		Timestamp *float64 `json:"timestamp"`
	}
	if err := json.Unmarshal(raw.Payload, &head); err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrMalformed, err)
	}
	if head.Timestamp == nil {
		return nil, fmt.Errorf("%w: payload: missing timestamp", ErrMalformed)
	}

	var frame pose.Frame
	if err := json.Unmarshal(raw.Payload, &frame); err != nil {
		return nil, fmt.Errorf("%w: payload: %w", ErrMalformed, err)
	}
	if err := frame.Validate(); err != nil {
		return nil, err
	}
	return &TrackingEnvelope{Type: raw.Type, Payload: frame, Metrics: raw.Metrics}, nil
}
