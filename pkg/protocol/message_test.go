package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/teslashibe/go-posebridge/pkg/pose"
)

func TestParseTracking(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
		joints  int
	}{
		{
			name:   "full joint",
			input:  `{"type":"tracking","payload":{"timestamp":1000,"joints":{"hip":{"pos":[0,1,2],"rotQuat":[0,0,0,1],"conf":0.9}}}}`,
			joints: 1,
		},
		{
			name:   "no joints",
			input:  `{"type":"tracking","payload":{"timestamp":5}}`,
			joints: 0,
		},
		{
			name:   "empty joint dropped",
			input:  `{"type":"tracking","payload":{"timestamp":5,"joints":{"head":{},"hip":{"conf":1}}}}`,
			joints: 1,
		},
		{
			name:    "not json",
			input:   `{"type":`,
			wantErr: ErrMalformed,
		},
		{
			name:    "wrong type",
			input:   `{"type":"monitor","payload":{"timestamp":5}}`,
			wantErr: ErrUnexpectedType,
		},
		{
			name:    "missing payload",
			input:   `{"type":"tracking"}`,
			wantErr: ErrMalformed,
		},
		{
			name:    "missing timestamp",
			input:   `{"type":"tracking","payload":{"joints":{}}}`,
			wantErr: ErrMalformed,
		},
		{
			name:    "short position",
			input:   `{"type":"tracking","payload":{"timestamp":1,"joints":{"hip":{"pos":[0,1]}}}}`,
			wantErr: ErrMalformed,
		},
		{
			name:    "long quaternion",
			input:   `{"type":"tracking","payload":{"timestamp":1,"joints":{"hip":{"rotQuat":[0,0,0,1,0]}}}}`,
			wantErr: ErrMalformed,
		},
		{
			name:    "unknown joint",
			input:   `{"type":"tracking","payload":{"timestamp":1,"joints":{"tail":{"conf":1}}}}`,
			wantErr: pose.ErrInvalidFrame,
		},
		{
			name:    "confidence out of range",
			input:   `{"type":"tracking","payload":{"timestamp":1,"joints":{"hip":{"conf":1.5}}}}`,
			wantErr: pose.ErrInvalidFrame,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := ParseTracking([]byte(tt.input))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ParseTracking() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTracking() error = %v", err)
			}
			if len(env.Payload.Joints) != tt.joints {
				t.Errorf("joints = %d, want %d", len(env.Payload.Joints), tt.joints)
			}
		})
	}
}

func TestParseTrackingMetrics(t *testing.T) {
	env, err := ParseTracking([]byte(`{"type":"tracking","payload":{"timestamp":1},"metrics":{"cameraFps":30,"srEnabled":true}}`))
	if err != nil {
		t.Fatalf("ParseTracking() error = %v", err)
	}
	if env.Metrics == nil || *env.Metrics.CameraFPS != 30 || !*env.Metrics.SREnabled {
		t.Fatalf("metrics = %+v", env.Metrics)
	}
	if env.Metrics.EffectiveFPS != nil {
		t.Error("effectiveFps should be absent")
	}
}

func TestResolveFallsBackToTarget(t *testing.T) {
	cam := 24.0
	tests := []struct {
		name      string
		partial   *PartialMetrics
		camera    float64
		effective float64
	}{
		{"nil", nil, 60, 60},
		{"empty", &PartialMetrics{}, 60, 60},
		// effectiveFps does not follow cameraFps
		{"camera only", &PartialMetrics{CameraFPS: &cam}, 24, 60},
		{"effective only", &PartialMetrics{EffectiveFPS: &cam}, 60, 24},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := tt.partial.Resolve(60)
			if m.CameraFPS != tt.camera || m.EffectiveFPS != tt.effective {
				t.Errorf("Resolve() = %+v, want camera %v effective %v", m, tt.camera, tt.effective)
			}
		})
	}
}

func TestMonitorEnvelopeShape(t *testing.T) {
	frame := pose.Frame{
		Timestamp: 1000,
		Joints: map[pose.JointName]pose.Joint{
			pose.Hip: {Pos: &pose.Vector3{0, 1, 2}},
		},
	}
	data, err := NewMonitor(frame, (*PartialMetrics)(nil).Resolve(60)).Bytes()
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}

	var generic map[string]json.RawMessage
	if err := json.Unmarshal(data, &generic); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	for _, key := range []string{"type", "frame", "metrics"} {
		if _, ok := generic[key]; !ok {
			t.Errorf("missing %q in %s", key, data)
		}
	}
	if got := string(generic["metrics"]); got != `{"cameraFps":60,"effectiveFps":60}` {
		t.Errorf("metrics = %s", got)
	}

	env, err := ParseMonitor(data)
	if err != nil {
		t.Fatalf("ParseMonitor() error = %v", err)
	}
	if p := env.Frame.Joints[pose.Hip].Pos; p == nil || *p != (pose.Vector3{0, 1, 2}) {
		t.Errorf("hip pos = %v", p)
	}
}

func TestTrackingEnvelopeParsesBack(t *testing.T) {
	frame := pose.Frame{Timestamp: 42, Joints: map[pose.JointName]pose.Joint{pose.Head: {Conf: pose.Float(0.5)}}}
	data, err := NewTracking(frame, nil).Bytes()
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}
	env, err := ParseTracking(data)
	if err != nil {
		t.Fatalf("ParseTracking() error = %v", err)
	}
	if env.Payload.Timestamp != 42 || env.Metrics != nil {
		t.Errorf("envelope = %+v", env)
	}
}
