package sink

import (
	"errors"
	"fmt"
	"io"

	"github.com/hypebeast/go-osc/osc"

	"github.com/teslashibe/go-posebridge/pkg/pose"
)

// OSC sends one message per joint field: {namespace}/{joint}/pos,
// /rotQuat and /conf, each carrying float32 arguments.
type OSC struct {
	desc Descriptor
	conn io.WriteCloser
}

// NewOSC creates the adapter for an OSC descriptor. The socket is opened
// on the first publish.
func NewOSC(d Descriptor) *OSC {
	return &OSC{desc: d.WithDefaults(), conn: newUDPConn(d)}
}

// Descriptor implements Adapter.
func (o *OSC) Descriptor() Descriptor { return o.desc }

// Publish implements Adapter. A failed field does not stop the remaining
// fields; all failures are joined into the returned error.
func (o *OSC) Publish(frame pose.Frame) error {
	var errs []error
	for _, name := range frame.Observed() {
		j := frame.Joints[name]
		prefix := o.desc.Namespace + "/" + string(name)
		if j.Pos != nil {
			errs = append(errs, o.send(prefix+"/pos", j.Pos[:]...))
		}
		if j.RotQuat != nil {
			errs = append(errs, o.send(prefix+"/rotQuat", j.RotQuat[:]...))
		}
		if j.Conf != nil {
			errs = append(errs, o.send(prefix+"/conf", *j.Conf))
		}
	}
	return errors.Join(errs...)
}

func (o *OSC) send(address string, values ...float64) error {
	msg := osc.NewMessage(address)
	for _, v := range values {
		msg.Append(float32(v))
	}
	data, err := msg.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode %s: %w", address, err)
	}
	if _, err := o.conn.Write(data); err != nil {
		return fmt.Errorf("send %s: %w", address, err)
	}
	return nil
}

// Close implements Adapter.
func (o *OSC) Close() error {
	return o.conn.Close()
}
