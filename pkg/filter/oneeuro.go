package filter

import (
	"math"

	"github.com/teslashibe/go-posebridge/pkg/pose"
)

// lowPass is a first order exponential smoother.
type lowPass struct {
	value float64
}

func (l *lowPass) apply(x, alpha float64) float64 {
	l.value = alpha*x + (1-alpha)*l.value
	return l.value
}

type oneEuroChannel struct {
	lastTime float64
	x        []lowPass
	dx       []lowPass
}

// OneEuro is the adaptive low-pass model: the cutoff rises with the
// estimated speed, so slow motion is smoothed hard and fast motion lags less.
type OneEuro struct {
	params   Params
	channels map[pose.ChannelKey]*oneEuroChannel
}

func newOneEuro(p Params) *OneEuro {
	return &OneEuro{
		params:   p,
		channels: make(map[pose.ChannelKey]*oneEuroChannel),
	}
}

// Kind implements Engine.
func (f *OneEuro) Kind() Kind { return KindOneEuro }

// SetParams implements Engine.
func (f *OneEuro) SetParams(p Params) { f.params = p }

// Channels implements Engine.
func (f *OneEuro) Channels() int { return len(f.channels) }

// smoothingFactor returns α = 1 / (1 + τ/dt) with τ = 1/(2π·cutoff).
func smoothingFactor(cutoff, dt float64) float64 {
	tau := 1 / (2 * math.Pi * cutoff)
	return 1 / (1 + tau/dt)
}

// Filter implements Engine.
func (f *OneEuro) Filter(key pose.ChannelKey, values []float64, timestampMs float64) []float64 {
	out := make([]float64, len(values))
	ch, ok := f.channels[key]
	if !ok || len(ch.x) != len(values) {
		ch = &oneEuroChannel{
			lastTime: timestampMs,
			x:        make([]lowPass, len(values)),
			dx:       make([]lowPass, len(values)),
		}
		for i, v := range values {
			ch.x[i].value = v
		}
		f.channels[key] = ch
		copy(out, values)
		return out
	}

	// Out-of-order or duplicate timestamps would give dt <= 0.
	dt := math.Max((timestampMs-ch.lastTime)/1000, 1/f.params.Frequency)
	ch.lastTime = timestampMs

	dAlpha := smoothingFactor(f.params.DCutoff, dt)
	for i, v := range values {
		rate := (v - ch.x[i].value) / dt
		edx := ch.dx[i].apply(rate, dAlpha)
		cutoff := f.params.MinCutoff + f.params.Beta*math.Abs(edx)
		out[i] = ch.x[i].apply(v, smoothingFactor(cutoff, dt))
	}
	return out
}
