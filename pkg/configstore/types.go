package configstore

import (
	"errors"
	"fmt"

	"github.com/teslashibe/go-posebridge/pkg/filter"
	"github.com/teslashibe/go-posebridge/pkg/pose"
	"github.com/teslashibe/go-posebridge/pkg/sink"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("configstore: invalid configuration")

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configstore: invalid %s: %s", e.Field, e.Reason)
}

// Unwrap lets callers match ErrInvalidConfig.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidConfig
}

// SmoothingConfig selects the filter model. Unset tunables fall back to
// the model defaults.
type SmoothingConfig struct {
	Filter    filter.Kind `json:"filter" yaml:"filter"`
	Beta      *float64    `json:"beta,omitempty" yaml:"beta,omitempty"`
	MinCutoff *float64    `json:"minCutoff,omitempty" yaml:"minCutoff,omitempty"`
	R         *float64    `json:"r,omitempty" yaml:"r,omitempty"`
	Q         *float64    `json:"q,omitempty" yaml:"q,omitempty"`
}

// VideoConfig carries capture settings the client reads back. Only
// TargetFPS is used server side.
type VideoConfig struct {
	TargetFPS    float64 `json:"targetFps" yaml:"targetFps"`
	AISmooth     string  `json:"aiSmooth" yaml:"aiSmooth"`
	SR           string  `json:"sr" yaml:"sr"`
	ServerAFIURL string  `json:"serverAfiUrl,omitempty" yaml:"serverAfiUrl,omitempty"`
}

// StudioConfig toggles studio UI features.
type StudioConfig struct {
	MonitorEnabled bool `json:"monitorEnabled" yaml:"monitorEnabled"`
}

// ServerConfig is the configuration the core reads at reconfiguration time.
type ServerConfig struct {
	Smoothing SmoothingConfig   `json:"smoothing" yaml:"smoothing"`
	Sinks     []sink.Descriptor `json:"sinks" yaml:"sinks"`
	Video     VideoConfig       `json:"video" yaml:"video"`
	Studio    StudioConfig      `json:"studio" yaml:"studio"`
}

// TrackerProfile maps a SlimeVR tracker profile onto a joint.
type TrackerProfile struct {
	Joint  pose.JointName `json:"joint" yaml:"joint"`
	Offset pose.Vector3   `json:"offset" yaml:"offset"`
	Yaw    float64        `json:"yaw" yaml:"yaw"`
	Roll   float64        `json:"roll" yaml:"roll"`
}

// SlimeVRConfig holds the saved tracker profiles by profile id.
type SlimeVRConfig struct {
	Trackers map[string]TrackerProfile `json:"trackers" yaml:"trackers"`
}

// File is the on-disk document.
type File struct {
	Server  ServerConfig  `json:"server" yaml:"server"`
	SlimeVR SlimeVRConfig `json:"slimevr" yaml:"slimevr"`
}

// Default returns the stock configuration: One-Euro smoothing at 60 fps
// and no sinks.
func Default() ServerConfig {
	d := filter.DefaultParams()
	return ServerConfig{
		Smoothing: SmoothingConfig{
			Filter:    filter.KindOneEuro,
			Beta:      pose.Float(d.Beta),
			MinCutoff: pose.Float(d.MinCutoff),
		},
		Sinks: []sink.Descriptor{},
		Video: VideoConfig{
			TargetFPS: 60,
			AISmooth:  "auto",
			SR:        "off",
		},
		Studio: StudioConfig{MonitorEnabled: true},
	}
}

// DefaultFile wraps Default with an empty profile table.
func DefaultFile() File {
	return File{
		Server:  Default(),
		SlimeVR: SlimeVRConfig{Trackers: map[string]TrackerProfile{}},
	}
}

// FilterParams resolves the smoothing section into engine parameters,
// using the video target rate as the sampling frequency.
func (c ServerConfig) FilterParams() filter.Params {
	p := filter.DefaultParams()
	p.Kind = c.Smoothing.Filter
	p.Frequency = c.Video.TargetFPS
	if c.Smoothing.Beta != nil {
		p.Beta = *c.Smoothing.Beta
	}
	if c.Smoothing.MinCutoff != nil {
		p.MinCutoff = *c.Smoothing.MinCutoff
	}
	if c.Smoothing.R != nil {
		p.R = *c.Smoothing.R
	}
	if c.Smoothing.Q != nil {
		p.Q = *c.Smoothing.Q
	}
	return p
}

// Validate checks the whole server section.
func (c ServerConfig) Validate() error {
	if c.Video.TargetFPS <= 0 {
		return &ValidationError{Field: "video.targetFps", Reason: "must be positive"}
	}
	switch c.Video.AISmooth {
	case "auto", "on", "off":
	default:
		return &ValidationError{Field: "video.aiSmooth", Reason: fmt.Sprintf("unknown mode %q", c.Video.AISmooth)}
	}
	switch c.Video.SR {
	case "off", "auto":
	default:
		return &ValidationError{Field: "video.sr", Reason: fmt.Sprintf("unknown mode %q", c.Video.SR)}
	}
	if err := c.FilterParams().Validate(); err != nil {
		return &ValidationError{Field: "smoothing", Reason: err.Error()}
	}
	if err := sink.ValidateAll(c.Sinks); err != nil {
		return &ValidationError{Field: "sinks", Reason: err.Error()}
	}
	return nil
}

// Validate checks a tracker profile.
func (p TrackerProfile) Validate() error {
	if !p.Joint.Valid() {
		return &ValidationError{Field: "joint", Reason: fmt.Sprintf("unknown joint %q", p.Joint)}
	}
	return nil
}

// Patch is a partial ServerConfig update. Smoothing, Sinks and Studio
// replace their section; Video is merged field by field.
type Patch struct {
	Smoothing *SmoothingConfig   `json:"smoothing,omitempty"`
	Sinks     *[]sink.Descriptor `json:"sinks,omitempty"`
	Video     *VideoPatch        `json:"video,omitempty"`
	Studio    *StudioConfig      `json:"studio,omitempty"`
}

// VideoPatch is a partial VideoConfig.
type VideoPatch struct {
	TargetFPS    *float64 `json:"targetFps,omitempty"`
	AISmooth     *string  `json:"aiSmooth,omitempty"`
	SR           *string  `json:"sr,omitempty"`
	ServerAFIURL *string  `json:"serverAfiUrl,omitempty"`
}

// Apply returns c with the patch merged in. c is not modified.
func (p Patch) Apply(c ServerConfig) ServerConfig {
	out := c
	out.Sinks = append([]sink.Descriptor(nil), c.Sinks...)
	if p.Smoothing != nil {
		out.Smoothing = *p.Smoothing
	}
	if p.Sinks != nil {
		out.Sinks = append([]sink.Descriptor(nil), (*p.Sinks)...)
	}
	if p.Video != nil {
		out.Video = p.Video.Apply(c.Video)
	}
	if p.Studio != nil {
		out.Studio = *p.Studio
	}
	return out
}

// Apply merges the set fields into v.
func (p VideoPatch) Apply(v VideoConfig) VideoConfig {
	if p.TargetFPS != nil {
		v.TargetFPS = *p.TargetFPS
	}
	if p.AISmooth != nil {
		v.AISmooth = *p.AISmooth
	}
	if p.SR != nil {
		v.SR = *p.SR
	}
	if p.ServerAFIURL != nil {
		v.ServerAFIURL = *p.ServerAFIURL
	}
	return v
}
