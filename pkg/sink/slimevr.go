package sink

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/teslashibe/go-posebridge/pkg/pose"
)

// TrackerPacket is one joint inside a SlimeVR datagram.
type TrackerPacket struct {
	TrackerID  string           `json:"trackerId"`
	Joint      pose.JointName   `json:"joint"`
	Position   *pose.Vector3    `json:"position,omitempty"`
	Rotation   *pose.Quaternion `json:"rotation,omitempty"`
	Confidence *float64         `json:"confidence,omitempty"`
}

// TrackerBatch is the datagram body: every observed joint of one frame.
type TrackerBatch struct {
	Type     string          `json:"type"`
	Trackers []TrackerPacket `json:"trackers"`
}

// SlimeVR batches all observed joints of a frame into a single JSON
// datagram addressed to one tracker profile.
type SlimeVR struct {
	desc Descriptor
	conn io.WriteCloser
}

// NewSlimeVR creates the adapter for a SlimeVR descriptor. The socket is
// opened on the first publish.
func NewSlimeVR(d Descriptor) *SlimeVR {
	return &SlimeVR{desc: d, conn: newUDPConn(d)}
}

// Descriptor implements Adapter.
func (s *SlimeVR) Descriptor() Descriptor { return s.desc }

// Batch builds the datagram body for frame. ok is false when no joint was
// observed.
func (s *SlimeVR) Batch(frame pose.Frame) (TrackerBatch, bool) {
	observed := frame.Observed()
	if len(observed) == 0 {
		return TrackerBatch{}, false
	}
	batch := TrackerBatch{Type: "trackers", Trackers: make([]TrackerPacket, 0, len(observed))}
	for _, name := range observed {
		j := frame.Joints[name]
		batch.Trackers = append(batch.Trackers, TrackerPacket{
			TrackerID:  s.desc.ProfileID + ":" + string(name),
			Joint:      name,
			Position:   j.Pos,
			Rotation:   j.RotQuat,
			Confidence: j.Conf,
		})
	}
	return batch, true
}

// Publish implements Adapter. Nothing is sent for an empty frame.
func (s *SlimeVR) Publish(frame pose.Frame) error {
	batch, ok := s.Batch(frame)
	if !ok {
		return nil
	}
	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encode trackers: %w", err)
	}
	if _, err := s.conn.Write(data); err != nil {
		return fmt.Errorf("send trackers: %w", err)
	}
	return nil
}

// Close implements Adapter.
func (s *SlimeVR) Close() error {
	return s.conn.Close()
}
