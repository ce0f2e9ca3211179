// Package normalizer runs the active filter model over every channel of a
// pose frame.
package normalizer

import (
	"log/slog"
	"sync"

	"github.com/teslashibe/go-posebridge/internal/log"
	"github.com/teslashibe/go-posebridge/pkg/filter"
	"github.com/teslashibe/go-posebridge/pkg/pose"
)

// Normalizer owns one filter engine. Normalize and UpdateConfig are
// serialized so a frame is filtered entirely by the old or the new model.
type Normalizer struct {
	mu     sync.Mutex
	engine filter.Engine
	params filter.Params
	logger *slog.Logger
}

// New creates a normalizer running the model described by p.
func New(p filter.Params, logger *slog.Logger) (*Normalizer, error) {
	engine, err := filter.New(p)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.With("component", "normalizer")
	}
	return &Normalizer{engine: engine, params: p, logger: logger}, nil
}

// UpdateConfig applies new smoothing parameters. A change of model kind
// discards all channel state; a parameter-only change keeps it.
func (n *Normalizer) UpdateConfig(p filter.Params) error {
	if err := p.Validate(); err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if p.Kind == n.engine.Kind() {
		n.engine.SetParams(p)
		n.params = p
		n.logger.Debug("filter parameters updated", "filter", p.Kind)
		return nil
	}

	engine, err := filter.New(p)
	if err != nil {
		return err
	}
	n.logger.Info("filter model switched", "from", n.engine.Kind(), "to", p.Kind, "dropped_channels", n.engine.Channels())
	n.engine = engine
	n.params = p
	return nil
}

// Params returns the parameters currently in effect.
func (n *Normalizer) Params() filter.Params {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.params
}

// Channels returns how many filter channels hold state.
func (n *Normalizer) Channels() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Channels()
}

// Normalize returns a filtered copy of frame. Joints absent from the input
// stay absent and confidence is copied through.
func (n *Normalizer) Normalize(frame pose.Frame) pose.Frame {
	out := pose.Frame{
		Timestamp: frame.Timestamp,
		Joints:    make(map[pose.JointName]pose.Joint, len(frame.Joints)),
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	for name, j := range frame.Joints {
		var res pose.Joint
		if j.Pos != nil {
			v := n.engine.Filter(pose.ChannelKey{Joint: name, Kind: pose.ChannelPosition}, j.Pos[:], frame.Timestamp)
			var pos pose.Vector3
			copy(pos[:], v)
			res.Pos = &pos
		}
		if j.RotQuat != nil {
			v := n.engine.Filter(pose.ChannelKey{Joint: name, Kind: pose.ChannelRotation}, j.RotQuat[:], frame.Timestamp)
			var rot pose.Quaternion
			copy(rot[:], v)
			res.RotQuat = &rot
		}
		if j.Conf != nil {
			res.Conf = pose.Float(*j.Conf)
		}
		out.Joints[name] = res
	}
	return out
}
