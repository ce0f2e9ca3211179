package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-posebridge/internal/config"
	"github.com/teslashibe/go-posebridge/internal/log"
	"github.com/teslashibe/go-posebridge/pkg/api"
	"github.com/teslashibe/go-posebridge/pkg/configstore"
	"github.com/teslashibe/go-posebridge/pkg/ingest"
	"github.com/teslashibe/go-posebridge/pkg/metrics"
	"github.com/teslashibe/go-posebridge/pkg/recorder"
)

const shutdownTimeout = 5 * time.Second

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "posebridge",
		Short:         "Body pose ingestion and fan-out server",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd())
	return root
}

func newServeCmd() *cobra.Command {
	settings := config.FromEnv()
	var debug, watch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ingestion server",
		Long: `Run the ingestion server.

Settings come from the environment and an optional .env file (PORT, LOG_LEVEL, POSEBRIDGE_CONFIG,
POSEBRIDGE_SESSIONS_DIR, POSEBRIDGE_STATIC_DIR, POSEBRIDGE_TLS_CERT,
POSEBRIDGE_TLS_KEY); flags override them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				settings.LogLevel = "debug"
			}
			log.Init(settings.LogLevel)
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, settings, debug, watch)
		},
	}

	f := cmd.Flags()
	f.IntVar(&settings.Port, "port", settings.Port, "HTTP server port")
	f.StringVar(&settings.ConfigPath, "config", settings.ConfigPath, "configuration file (.json, .yaml)")
	f.StringVar(&settings.SessionsDir, "sessions", settings.SessionsDir, "directory for recorded sessions")
	f.StringVar(&settings.StaticDir, "static", settings.StaticDir, "web bundle directory")
	f.StringVar(&settings.LogLevel, "log-level", settings.LogLevel, "debug, info, warn or error")
	f.StringVar(&settings.TLSCert, "tls-cert", settings.TLSCert, "TLS certificate file")
	f.StringVar(&settings.TLSKey, "tls-key", settings.TLSKey, "TLS key file")
	f.BoolVar(&debug, "debug", false, "debug logging and request logs")
	f.BoolVar(&watch, "watch", true, "apply edits to the configuration file without a restart")
	return cmd
}

// serve loads the configuration, opens the sinks, listens, and applies the
// full configuration once the listener is up. It returns after ctx is done
// and everything has been shut down.
func serve(ctx context.Context, settings config.Settings, debug, watch bool) error {
	logger := log.Component("posebridge")
	logger.Info("starting", "version", version, "port", settings.Port, "tls", settings.TLS())

	m := metrics.New()

	store := configstore.NewStore(settings.ConfigPath, log.Component("configstore"))
	if err := store.Load(); err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	rec := recorder.New(settings.SessionsDir,
		recorder.WithLogger(log.Component("recorder")),
		recorder.WithMetrics(m),
	)

	pipeline, err := ingest.NewServer(store,
		ingest.WithLogger(log.Component("ingest")),
		ingest.WithMetrics(m),
		ingest.WithRecorder(rec),
	)
	if err != nil {
		return err
	}
	if err := pipeline.UpdateSinks(store.Sinks()); err != nil {
		logger.Error("initial sink set rejected, starting without sinks", "error", err)
	}

	handlers := api.New(store, pipeline, rec, m, log.Component("api"))
	srv := api.NewServer(api.ServerOptions{
		Addr:      fmt.Sprintf(":%d", settings.Port),
		StaticDir: settings.StaticDir,
		TLSCert:   settings.TLSCert,
		TLSKey:    settings.TLSKey,
		Debug:     debug,
		OnListen: func() {
			if err := pipeline.UpdateConfig(); err != nil {
				logger.Error("apply configuration", "error", err)
			}
		},
	}, log.Component("http"), handlers, pipeline)

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Start()
	}()

	if watch {
		go func() {
			err := store.Watch(ctx, func() {
				if err := pipeline.UpdateConfig(); err != nil {
					logger.Error("apply edited configuration", "error", err)
				}
			})
			if err != nil {
				logger.Warn("configuration file watch disabled", "error", err)
			}
		}()
	}

	select {
	case err := <-errc:
		rec.Stop()
		pipeline.Close()
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	if err := rec.Stop(); err != nil {
		logger.Error("stop recording", "error", err)
	}
	pipeline.Disconnect()
	if err := srv.Shutdown(shutdownTimeout); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	pipeline.Close()
	<-errc
	logger.Info("stopped")
	return nil
}
