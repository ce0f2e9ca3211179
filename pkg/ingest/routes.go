package ingest

import (
	contribws "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-posebridge/pkg/hub"
)

// ModeMonitor is the mode query value that marks an observer connection.
const ModeMonitor = "monitor"

// maxFrameSize bounds a single producer message.
const maxFrameSize = 1 << 20

// RegisterRoutes mounts the websocket endpoints:
//
//	/ws                 producer, or observer with ?mode=monitor
//	/ws/monitor         observer
func (s *Server) RegisterRoutes(app fiber.Router) {
	app.Use("/ws", func(c *fiber.Ctx) error {
		if contribws.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws", contribws.New(s.handleConnection))
	app.Get("/ws/monitor", websocket.New(s.handleMonitor))
}

// handleConnection classifies the connection once; the role never changes.
func (s *Server) handleConnection(c *contribws.Conn) {
	if c.Query("mode") == ModeMonitor {
		s.serveObserver(c, c.RemoteAddr().String())
		return
	}
	s.serveProducer(c)
}

func (s *Server) handleMonitor(c *websocket.Conn) {
	s.serveObserver(c, c.RemoteAddr().String())
}

func (s *Server) serveObserver(conn hub.Conn, remote string) {
	hub.NewClient(s.observers, conn, remote).Run()
}

// serveProducer reads frames until the connection closes. Frames from one
// producer are processed strictly in arrival order.
func (s *Server) serveProducer(c *contribws.Conn) {
	remote := c.RemoteAddr().String()
	s.trackProducer(c)
	count := s.producers.Add(1)
	s.metrics.Producers.Set(float64(count))
	s.logger.Info("producer connected", "remote", remote, "producers", count)

	defer func() {
		s.untrackProducer(c)
		count := s.producers.Add(-1)
		s.metrics.Producers.Set(float64(count))
		s.logger.Info("producer disconnected", "remote", remote, "producers", count)
	}()

	c.SetReadLimit(maxFrameSize)
	for {
		mt, data, err := c.ReadMessage()
		if err != nil {
			if contribws.IsUnexpectedCloseError(err, contribws.CloseGoingAway, contribws.CloseNormalClosure) {
				s.logger.Debug("producer read error", "remote", remote, "error", err)
			}
			return
		}
		if mt != contribws.TextMessage && mt != contribws.BinaryMessage {
			continue
		}
		s.HandleMessage(data)
	}
}
