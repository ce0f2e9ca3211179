// Package filter implements the temporal smoothing models applied to pose
// channels. An Engine keeps independent state per pose.ChannelKey; engines
// are not safe for concurrent use and are guarded by their owner.
package filter

import (
	"errors"
	"fmt"

	"github.com/teslashibe/go-posebridge/pkg/pose"
)

// Kind names a filter model.
type Kind string

const (
	KindOneEuro Kind = "one-euro"
	KindKalman  Kind = "kalman"
)

// ErrUnknownKind is returned for a model name outside the known set.
var ErrUnknownKind = errors.New("filter: unknown filter kind")

// ErrInvalidParams is returned when a parameter is out of range.
var ErrInvalidParams = errors.New("filter: invalid parameters")

// Params holds the tunables for both models. Only the fields of the
// selected Kind are used.
type Params struct {
	Kind Kind

	// Frequency is the nominal sampling rate in Hz. 1/Frequency is the
	// floor applied to dt in the One-Euro model.
	Frequency float64

	// One-Euro
	MinCutoff float64 // Hz, cutoff at zero velocity
	Beta      float64 // cutoff slope against velocity
	DCutoff   float64 // Hz, cutoff of the derivative low-pass

	// Kalman
	R float64 // measurement noise
	Q float64 // process noise
}

// DefaultParams returns the stock One-Euro configuration at 60 Hz.
func DefaultParams() Params {
	return Params{
		Kind:      KindOneEuro,
		Frequency: 60,
		MinCutoff: 1.0,
		Beta:      0.01,
		DCutoff:   1.0,
		R:         0.01,
		Q:         1,
	}
}

// Validate checks that the selected model can run with these values.
func (p Params) Validate() error {
	switch p.Kind {
	case KindOneEuro:
		if p.Frequency <= 0 {
			return fmt.Errorf("%w: frequency must be positive", ErrInvalidParams)
		}
		if p.MinCutoff <= 0 || p.DCutoff <= 0 {
			return fmt.Errorf("%w: cutoffs must be positive", ErrInvalidParams)
		}
		if p.Beta < 0 {
			return fmt.Errorf("%w: beta must be non-negative", ErrInvalidParams)
		}
	case KindKalman:
		if p.R <= 0 {
			return fmt.Errorf("%w: r must be positive", ErrInvalidParams)
		}
		if p.Q < 0 {
			return fmt.Errorf("%w: q must be non-negative", ErrInvalidParams)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, p.Kind)
	}
	return nil
}

// Engine filters vectors per channel.
type Engine interface {
	// Kind reports the model this engine runs.
	Kind() Kind

	// Filter smooths values for key observed at timestampMs. The first
	// observation of a channel is returned unchanged and seeds its state.
	Filter(key pose.ChannelKey, values []float64, timestampMs float64) []float64

	// SetParams retunes the model without touching channel state.
	// p.Kind must match Kind().
	SetParams(p Params)

	// Channels returns how many channels hold state.
	Channels() int
}

// New builds an engine with empty state for p.Kind.
func New(p Params) (Engine, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	switch p.Kind {
	case KindOneEuro:
		return newOneEuro(p), nil
	case KindKalman:
		return newKalman(p), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, p.Kind)
}
