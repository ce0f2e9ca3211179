// replay: stream a recorded session back into a posebridge server as if it
// came from a live producer.
//
// Usage:
//
//	replay session.ndjson [--url ws://localhost:8080/ws] [--speed 1] [--loop]
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-posebridge/internal/log"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		opts     options
		logLevel string
	)
	cmd := &cobra.Command{
		Use:          "replay <session.ndjson>",
		Short:        "Replay a recorded pose session to a posebridge server",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Init(logLevel)
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			opts.path = args[0]
			return run(ctx, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.url, "url", "ws://localhost:8080/ws", "producer WebSocket endpoint")
	f.Float64Var(&opts.speed, "speed", 1, "playback speed multiplier")
	f.BoolVar(&opts.loop, "loop", false, "restart from the beginning when the session ends")
	f.BoolVar(&opts.rebase, "rebase", true, "rewrite frame timestamps to the playback clock")
	f.BoolVar(&opts.insecure, "insecure", false, "skip TLS verification for wss:// endpoints")
	f.BoolVar(&opts.skipHealth, "skip-health", false, "do not probe /api/health before connecting")
	f.StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	return cmd
}

func run(ctx context.Context, opts options) error {
	if opts.speed <= 0 {
		return fmt.Errorf("speed must be positive, got %v", opts.speed)
	}
	return replay(ctx, opts, log.Component("replay"))
}
