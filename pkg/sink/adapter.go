package sink

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/teslashibe/go-posebridge/pkg/pose"
)

// Adapter encodes frames for one destination. Publish returns transmission
// errors instead of logging them; the Broadcaster decides what to do.
type Adapter interface {
	Descriptor() Descriptor
	Publish(frame pose.Frame) error
	Close() error
}

// New builds the adapter for d. The switch is exhaustive over Type. Only
// an invalid descriptor fails; network problems surface from Publish.
func New(d Descriptor) (Adapter, error) {
	d = d.WithDefaults()
	if err := d.Validate(); err != nil {
		return nil, err
	}
	switch d.Type {
	case TypeOSC:
		return NewOSC(d), nil
	case TypeSlimeVR:
		return NewSlimeVR(d), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, d.Type)
}

// redialInterval is how long a failed resolve or dial is reported from
// cache before the next attempt.
const redialInterval = 5 * time.Second

// udpConn is a datagram socket to one sink target. It resolves and dials
// on the first write, so a host that does not resolve only fails the
// sends of its own sink. Writes on it never wait on the receiver.
type udpConn struct {
	id   string
	addr string
	now  func() time.Time

	mu      sync.Mutex
	conn    *net.UDPConn
	closed  bool
	dialErr error
	retryAt time.Time
}

func newUDPConn(d Descriptor) *udpConn {
	return &udpConn{
		id:   d.ID,
		addr: net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		now:  time.Now,
	}
}

func (u *udpConn) Write(p []byte) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.closed {
		return 0, net.ErrClosed
	}
	if u.conn == nil {
		if err := u.dial(); err != nil {
			return 0, err
		}
	}
	return u.conn.Write(p)
}

func (u *udpConn) dial() error {
	if u.dialErr != nil && u.now().Before(u.retryAt) {
		return u.dialErr
	}
	addr, err := net.ResolveUDPAddr("udp", u.addr)
	if err == nil {
		u.conn, err = net.DialUDP("udp", nil, addr)
	}
	if err != nil {
		u.dialErr = fmt.Errorf("sink %q: dial %s: %w", u.id, u.addr, err)
		u.retryAt = u.now().Add(redialInterval)
		return u.dialErr
	}
	u.dialErr = nil
	return nil
}

func (u *udpConn) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.closed = true
	if u.conn == nil {
		return nil
	}
	return u.conn.Close()
}
