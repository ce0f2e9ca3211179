// posebridge: real-time body pose ingestion server.
// Accepts pose frames from browser producers over WebSocket, smooths them,
// fans them out to OSC and SlimeVR sinks, records sessions and relays a
// monitoring stream to observers.
package main

import (
	"fmt"
	"os"

	"github.com/teslashibe/go-posebridge/internal/config"
)

var version = "0.1.0"

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, "Error: .env:", err)
		os.Exit(1)
	}
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
