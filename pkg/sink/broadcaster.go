package sink

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/teslashibe/go-posebridge/internal/log"
	"github.com/teslashibe/go-posebridge/pkg/metrics"
	"github.com/teslashibe/go-posebridge/pkg/pose"
)

// DefaultMailboxSize is how many frames may wait for a slow sink before
// new frames are dropped for it.
const DefaultMailboxSize = 8

// Factory turns a descriptor into an adapter.
type Factory func(Descriptor) (Adapter, error)

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithFactory overrides adapter construction.
func WithFactory(f Factory) Option {
	return func(b *Broadcaster) { b.factory = f }
}

// WithLogger sets the logger used for sink failures.
func WithLogger(l *slog.Logger) Option {
	return func(b *Broadcaster) { b.logger = l }
}

// WithMetrics sets the collectors updated per publish.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Broadcaster) { b.metrics = m }
}

// WithMailboxSize sets the per-sink queue depth.
func WithMailboxSize(n int) Option {
	return func(b *Broadcaster) {
		if n > 0 {
			b.mailboxSize = n
		}
	}
}

// Broadcaster owns the live adapter set. Every adapter runs behind its own
// mailbox and goroutine, so Publish never waits on the network and a
// failing or panicking adapter never affects the others.
type Broadcaster struct {
	factory     Factory
	logger      *slog.Logger
	metrics     *metrics.Metrics
	mailboxSize int

	updateMu sync.Mutex // serializes UpdateSinks

	mu      sync.RWMutex
	current []*mailbox
}

// NewBroadcaster creates a broadcaster with no sinks.
func NewBroadcaster(opts ...Option) *Broadcaster {
	b := &Broadcaster{
		factory:     New,
		mailboxSize: DefaultMailboxSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = log.Component("broadcaster")
	}
	if b.metrics == nil {
		b.metrics = metrics.New()
	}
	return b
}

// UpdateSinks replaces the whole adapter set with fresh adapters built from
// ds. Nothing is reused across updates. If any descriptor is invalid or any
// adapter fails to build, the previous set stays live and the error is
// returned.
func (b *Broadcaster) UpdateSinks(ds []Descriptor) error {
	normalized := make([]Descriptor, len(ds))
	for i, d := range ds {
		normalized[i] = d.WithDefaults()
	}
	if err := ValidateAll(normalized); err != nil {
		return err
	}

	b.updateMu.Lock()
	defer b.updateMu.Unlock()

	next := make([]*mailbox, 0, len(normalized))
	for _, d := range normalized {
		a, err := b.factory(d)
		if err != nil {
			for _, mb := range next {
				mb.stop()
			}
			return fmt.Errorf("build sink %q: %w", d.ID, err)
		}
		next = append(next, b.startMailbox(a))
	}

	b.mu.Lock()
	prev := b.current
	b.current = next
	b.mu.Unlock()

	for _, mb := range prev {
		mb.stop()
	}
	b.metrics.Sinks.Set(float64(len(next)))
	b.logger.Info("sink set rebuilt", "sinks", len(next), "replaced", len(prev))
	return nil
}

// Publish hands frame to every live adapter without blocking. The frame
// must not be mutated afterwards.
func (b *Broadcaster) Publish(frame pose.Frame) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, mb := range b.current {
		mb.offer(frame)
	}
}

// Descriptors returns the descriptors of the live set.
func (b *Broadcaster) Descriptors() []Descriptor {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Descriptor, len(b.current))
	for i, mb := range b.current {
		out[i] = mb.desc
	}
	return out
}

// Len returns the number of live adapters.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.current)
}

// Close stops and closes every adapter.
func (b *Broadcaster) Close() {
	b.updateMu.Lock()
	defer b.updateMu.Unlock()

	b.mu.Lock()
	prev := b.current
	b.current = nil
	b.mu.Unlock()

	for _, mb := range prev {
		mb.stop()
	}
	b.metrics.Sinks.Set(0)
}

// mailbox pairs an adapter with its delivery goroutine.
type mailbox struct {
	desc    Descriptor
	adapter Adapter
	frames  chan pose.Frame
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	b       *Broadcaster
}

func (b *Broadcaster) startMailbox(a Adapter) *mailbox {
	mb := &mailbox{
		desc:    a.Descriptor(),
		adapter: a,
		frames:  make(chan pose.Frame, b.mailboxSize),
		done:    make(chan struct{}),
		b:       b,
	}
	mb.wg.Add(1)
	go mb.run()
	return mb
}

func (mb *mailbox) offer(frame pose.Frame) {
	select {
	case <-mb.done:
		return
	default:
	}
	select {
	case mb.frames <- frame:
	default:
		mb.b.metrics.SinkDropped.WithLabelValues(mb.desc.ID, string(mb.desc.Type)).Inc()
	}
}

func (mb *mailbox) run() {
	defer mb.wg.Done()
	for {
		select {
		case <-mb.done:
			return
		case frame := <-mb.frames:
			mb.deliver(frame)
		}
	}
}

func (mb *mailbox) deliver(frame pose.Frame) {
	labels := []string{mb.desc.ID, string(mb.desc.Type)}
	defer func() {
		if r := recover(); r != nil {
			mb.b.metrics.SinkErrors.WithLabelValues(labels...).Inc()
			mb.b.logger.Error("sink adapter panicked", "sink_id", mb.desc.ID, "sink_type", mb.desc.Type, "panic", r)
		}
	}()

	mb.b.metrics.SinkPublished.WithLabelValues(labels...).Inc()
	if err := mb.adapter.Publish(frame); err != nil {
		mb.b.metrics.SinkErrors.WithLabelValues(labels...).Inc()
		mb.b.logger.Warn("sink publish failed", "sink_id", mb.desc.ID, "sink_type", mb.desc.Type, "error", err)
	}
}

func (mb *mailbox) stop() {
	mb.once.Do(func() {
		close(mb.done)
		mb.wg.Wait()
		if err := mb.adapter.Close(); err != nil {
			mb.b.logger.Warn("sink close failed", "sink_id", mb.desc.ID, "error", err)
		}
	})
}
