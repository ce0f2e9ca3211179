package hub

import (
	"log/slog"
	"sync"

	"github.com/teslashibe/go-posebridge/internal/log"
	"github.com/teslashibe/go-posebridge/pkg/metrics"
)

// DefaultQueueSize is the per-client send buffer.
const DefaultQueueSize = 256

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) { h.logger = l }
}

// WithMetrics sets the collectors for observer counts and evictions.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// WithQueueSize overrides DefaultQueueSize.
func WithQueueSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

// Hub maintains the set of active clients and broadcasts messages to them
type Hub struct {
	name      string
	logger    *slog.Logger
	metrics   *metrics.Metrics
	queueSize int

	// Guards clients. Broadcast holds it for the whole fan-out so every
	// client sees messages in the same order.
	mu      sync.Mutex
	clients map[*Client]struct{}
}

// New creates a new Hub
func New(name string, opts ...Option) *Hub {
	h := &Hub{
		name:      name,
		queueSize: DefaultQueueSize,
		clients:   make(map[*Client]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = log.Component("hub").With("hub", name)
	}
	if h.metrics == nil {
		h.metrics = metrics.New()
	}
	return h
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	h.metrics.Observers.Set(float64(count))
	h.logger.Info("client connected", "clients", count)
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	count := len(h.clients)
	h.mu.Unlock()
	if ok {
		h.metrics.Observers.Set(float64(count))
		h.logger.Info("client disconnected", "clients", count)
	}
}

// Broadcast queues msg for every open client and returns once every
// queue has accepted or refused it. Closed clients are skipped; a client
// whose queue is full is dropped.
func (h *Hub) Broadcast(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		if !c.Open() {
			continue
		}
		select {
		case c.send <- msg:
		default:
			// too slow
			delete(h.clients, c)
			close(c.send)
			h.metrics.ObserversEvicted.Inc()
			h.metrics.Observers.Set(float64(len(h.clients)))
			h.logger.Warn("dropped slow client", "remote", c.remote)
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client. Each client's Run returns once its
// close frame is written.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.metrics.Observers.Set(0)
}
