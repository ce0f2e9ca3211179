// Package pose defines the body pose data model shared by the ingestion
// pipeline: the fixed joint set, per-joint samples and whole frames.
package pose

import (
	"encoding/json"
	"errors"
	"fmt"
)

// JointName identifies one of the tracked skeletal landmarks.
type JointName string

// The fixed joint set. Order matters: it is the order sinks emit joints in.
const (
	Hip       JointName = "hip"
	Chest     JointName = "chest"
	Head      JointName = "head"
	ShoulderL JointName = "shoulder_l"
	ElbowL    JointName = "elbow_l"
	WristL    JointName = "wrist_l"
	ShoulderR JointName = "shoulder_r"
	ElbowR    JointName = "elbow_r"
	WristR    JointName = "wrist_r"
	KneeL     JointName = "knee_l"
	AnkleL    JointName = "ankle_l"
	FootL     JointName = "foot_l"
	KneeR     JointName = "knee_r"
	AnkleR    JointName = "ankle_r"
	FootR     JointName = "foot_r"
)

// Joints lists every joint in canonical order.
var Joints = []JointName{
	Hip, Chest, Head,
	ShoulderL, ElbowL, WristL,
	ShoulderR, ElbowR, WristR,
	KneeL, AnkleL, FootL,
	KneeR, AnkleR, FootR,
}

var knownJoints = func() map[JointName]struct{} {
	m := make(map[JointName]struct{}, len(Joints))
	for _, j := range Joints {
		m[j] = struct{}{}
	}
	return m
}()

// Valid reports whether j is part of the fixed joint set.
func (j JointName) Valid() bool {
	_, ok := knownJoints[j]
	return ok
}

// Vector3 is a position in tracker space.
type Vector3 [3]float64

// Quaternion is an orientation as (x, y, z, w).
type Quaternion [4]float64

// UnmarshalJSON rejects arrays that are not exactly three numbers long.
func (v *Vector3) UnmarshalJSON(data []byte) error {
	return decodeFixed(data, v[:], "vector3")
}

// UnmarshalJSON rejects arrays that are not exactly four numbers long.
func (q *Quaternion) UnmarshalJSON(data []byte) error {
	return decodeFixed(data, q[:], "quaternion")
}

func decodeFixed(data []byte, dst []float64, kind string) error {
	var raw []float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != len(dst) {
		return fmt.Errorf("pose: %s needs %d components, got %d", kind, len(dst), len(raw))
	}
	copy(dst, raw)
	return nil
}

// Joint is one observed joint. Every field is independently optional.
type Joint struct {
	Pos     *Vector3    `json:"pos,omitempty"`
	RotQuat *Quaternion `json:"rotQuat,omitempty"`
	Conf    *float64    `json:"conf,omitempty"`
}

// Empty reports whether the sample carries no data at all.
func (j Joint) Empty() bool {
	return j.Pos == nil && j.RotQuat == nil && j.Conf == nil
}

// Frame is one full-body observation. Joints missing from the map were not
// observed this frame; they are never zero-filled.
type Frame struct {
	Timestamp float64             `json:"timestamp"`
	Joints    map[JointName]Joint `json:"joints"`
}

// ChannelKind selects which vector of a joint a filter channel tracks.
type ChannelKind uint8

const (
	ChannelPosition ChannelKind = iota
	ChannelRotation
)

func (k ChannelKind) String() string {
	switch k {
	case ChannelPosition:
		return "position"
	case ChannelRotation:
		return "rotation"
	default:
		return "unknown"
	}
}

// ChannelKey identifies one independent filter state instance.
type ChannelKey struct {
	Joint JointName
	Kind  ChannelKind
}

// ErrInvalidFrame is wrapped by every validation failure.
var ErrInvalidFrame = errors.New("pose: invalid frame")

// ValidationError describes which part of a frame failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("pose: invalid %s: %s", e.Field, e.Reason)
}

// Unwrap lets callers match ErrInvalidFrame.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidFrame
}

// Validate checks a decoded frame and drops joints that carry no fields.
func (f *Frame) Validate() error {
	if f.Timestamp < 0 {
		return &ValidationError{Field: "timestamp", Reason: "must be non-negative"}
	}
	if f.Joints == nil {
		f.Joints = map[JointName]Joint{}
	}
	for name, j := range f.Joints {
		if !name.Valid() {
			return &ValidationError{Field: "joints", Reason: fmt.Sprintf("unknown joint %q", name)}
		}
		if j.Conf != nil && (*j.Conf < 0 || *j.Conf > 1) {
			return &ValidationError{Field: "joints." + string(name) + ".conf", Reason: "must be within [0,1]"}
		}
		if j.Empty() {
			delete(f.Joints, name)
		}
	}
	return nil
}

// Observed returns the present joints in canonical order.
func (f Frame) Observed() []JointName {
	out := make([]JointName, 0, len(f.Joints))
	for _, name := range Joints {
		if _, ok := f.Joints[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

// Float returns a pointer to v, for building optional fields.
func Float(v float64) *float64 {
	return &v
}
