// Package sink fans normalized pose frames out to network receivers. Each
// configured Descriptor becomes one Adapter speaking a specific protocol;
// the Broadcaster owns the live adapter set.
package sink

import (
	"errors"
	"fmt"
	"strings"
)

// Type is the protocol tag of a sink. The set is closed: New handles
// every value and rejects anything else.
type Type string

const (
	TypeOSC     Type = "osc"
	TypeSlimeVR Type = "slimevr"
)

// DefaultNamespace is the OSC address prefix used when none is configured.
const DefaultNamespace = "/body"

var (
	// ErrUnknownType is returned for a descriptor whose type is not supported.
	ErrUnknownType = errors.New("sink: unknown sink type")

	// ErrInvalidDescriptor wraps descriptor validation failures.
	ErrInvalidDescriptor = errors.New("sink: invalid descriptor")

	// ErrDuplicateID is returned when two descriptors share an id.
	ErrDuplicateID = errors.New("sink: duplicate sink id")
)

// Descriptor configures one output target. Namespace and Flat apply to OSC
// sinks, ProfileID to SlimeVR sinks.
type Descriptor struct {
	ID   string `json:"id" yaml:"id"`
	Type Type   `json:"type" yaml:"type"`
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`

	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	Flat      bool   `json:"flat,omitempty" yaml:"flat,omitempty"`

	ProfileID string `json:"profileId,omitempty" yaml:"profileId,omitempty"`
}

// WithDefaults fills optional type-specific fields.
func (d Descriptor) WithDefaults() Descriptor {
	if d.Type == TypeOSC && d.Namespace == "" {
		d.Namespace = DefaultNamespace
	}
	return d
}

// Validate checks the common and the type-specific fields.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidDescriptor)
	}
	if d.Host == "" {
		return fmt.Errorf("%w: sink %q: host is required", ErrInvalidDescriptor, d.ID)
	}
	if d.Port < 1 || d.Port > 65535 {
		return fmt.Errorf("%w: sink %q: port %d out of range", ErrInvalidDescriptor, d.ID, d.Port)
	}
	switch d.Type {
	case TypeOSC:
		if d.Namespace != "" && !strings.HasPrefix(d.Namespace, "/") {
			return fmt.Errorf("%w: sink %q: namespace must start with /", ErrInvalidDescriptor, d.ID)
		}
	case TypeSlimeVR:
		if d.ProfileID == "" {
			return fmt.Errorf("%w: sink %q: profileId is required", ErrInvalidDescriptor, d.ID)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, d.Type)
	}
	return nil
}

// ValidateAll validates every descriptor and checks id uniqueness.
func ValidateAll(ds []Descriptor) error {
	seen := make(map[string]struct{}, len(ds))
	for _, d := range ds {
		if err := d.Validate(); err != nil {
			return err
		}
		if _, dup := seen[d.ID]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateID, d.ID)
		}
		seen[d.ID] = struct{}{}
	}
	return nil
}
