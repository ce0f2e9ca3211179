package api

import (
	"errors"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	requestlog "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/teslashibe/go-posebridge/internal/log"
)

// bodyLimit matches the largest config or sink payload we accept.
const bodyLimit = 2 * 1024 * 1024

// Routes is anything that mounts itself on the app.
type Routes interface {
	RegisterRoutes(fiber.Router)
}

// ServerOptions configures the HTTP server.
type ServerOptions struct {
	Addr      string
	StaticDir string // optional web bundle, served with SPA fallback
	TLSCert   string
	TLSKey    string
	Debug     bool // request logging

	// OnListen runs once the listener is up.
	OnListen func()
}

// Server is the fiber app serving the API, the websocket endpoints and
// the optional web bundle.
type Server struct {
	app    *fiber.App
	opts   ServerOptions
	logger *slog.Logger
}

// NewServer builds the app. Routes are mounted in order, before the
// static bundle.
func NewServer(opts ServerOptions, logger *slog.Logger, routes ...Routes) *Server {
	if logger == nil {
		logger = log.Component("http")
	}
	s := &Server{opts: opts, logger: logger}

	app := fiber.New(fiber.Config{
		AppName:               "posebridge",
		DisableStartupMessage: true,
		BodyLimit:             bodyLimit,
	})

	app.Use(recover.New())
	app.Use(cors.New())
	if opts.Debug {
		app.Use(requestlog.New())
	}

	for _, r := range routes {
		r.RegisterRoutes(app)
	}

	if opts.StaticDir != "" {
		if info, err := os.Stat(opts.StaticDir); err == nil && info.IsDir() {
			app.Static("/", opts.StaticDir)
			index := filepath.Join(opts.StaticDir, "index.html")
			app.Get("*", func(c *fiber.Ctx) error {
				return c.SendFile(index)
			})
		} else {
			s.logger.Warn("static dir not found, web bundle disabled", "dir", opts.StaticDir)
		}
	}

	if opts.OnListen != nil {
		app.Hooks().OnListen(func(fiber.ListenData) error {
			opts.OnListen()
			return nil
		})
	}

	s.app = app
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// TLS reports whether both certificate and key are configured.
func (s *Server) TLS() bool {
	return s.opts.TLSCert != "" && s.opts.TLSKey != ""
}

// Start listens on the configured address and blocks until shutdown.
func (s *Server) Start() error {
	if s.TLS() {
		s.logger.Info("listening", "addr", s.opts.Addr, "tls", true)
		return s.app.ListenTLS(s.opts.Addr, s.opts.TLSCert, s.opts.TLSKey)
	}
	s.logger.Info("listening", "addr", s.opts.Addr, "tls", false)
	return s.app.Listen(s.opts.Addr)
}

// Serve runs the app on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	return s.app.Listener(ln)
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(timeout time.Duration) error {
	err := s.app.ShutdownWithTimeout(timeout)
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
