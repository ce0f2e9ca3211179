package filter

import "github.com/teslashibe/go-posebridge/pkg/pose"

type kalmanState struct {
	x float64 // estimate
	p float64 // error covariance
}

// Kalman is a constant-position scalar Kalman filter run per component.
type Kalman struct {
	params   Params
	channels map[pose.ChannelKey][]kalmanState
}

func newKalman(p Params) *Kalman {
	return &Kalman{
		params:   p,
		channels: make(map[pose.ChannelKey][]kalmanState),
	}
}

// Kind implements Engine.
func (f *Kalman) Kind() Kind { return KindKalman }

// SetParams implements Engine.
func (f *Kalman) SetParams(p Params) { f.params = p }

// Channels implements Engine.
func (f *Kalman) Channels() int { return len(f.channels) }

// Filter implements Engine. Timestamps are ignored by this model.
//
// A new channel is seeded at (raw, 1) and then takes a regular
// predict/update step on the same sample. The output is still raw, but
// the stored covariance is (1-k)(1+q) rather than 1.
func (f *Kalman) Filter(key pose.ChannelKey, values []float64, _ float64) []float64 {
	out := make([]float64, len(values))
	state, ok := f.channels[key]
	if !ok || len(state) != len(values) {
		state = make([]kalmanState, len(values))
		for i, v := range values {
			state[i] = kalmanState{x: v, p: 1}
		}
		f.channels[key] = state
	}

	for i, v := range values {
		s := &state[i]
		s.p += f.params.Q
		k := s.p / (s.p + f.params.R)
		s.x += k * (v - s.x)
		s.p *= 1 - k
		out[i] = s.x
	}
	return out
}
