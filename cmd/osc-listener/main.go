// osc-listener: prints OSC packets sent by a posebridge OSC sink.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/hypebeast/go-osc/osc"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		host   string
		rawHex bool
	)
	cmd := &cobra.Command{
		Use:           "osc-listener [port]",
		Short:         "Listen for OSC packets on UDP and print them",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			port := 9000
			if len(args) == 1 {
				p, err := strconv.Atoi(args[0])
				if err != nil || p < 1 || p > 65535 {
					return fmt.Errorf("invalid port %q", args[0])
				}
				port = p
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return listen(ctx, net.JoinHostPort(host, strconv.Itoa(port)), rawHex, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "address to bind")
	cmd.Flags().BoolVar(&rawHex, "hex", false, "also print the raw datagram as hex")
	return cmd
}

func listen(ctx context.Context, addr string, rawHex bool, out io.Writer) error {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	fmt.Fprintf(out, "Listening for OSC on %s\n", conn.LocalAddr())
	buf := make([]byte, 65535)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		printPacket(out, from, buf[:n], rawHex)
	}
}

func printPacket(out io.Writer, from net.Addr, data []byte, rawHex bool) {
	if rawHex {
		fmt.Fprintf(out, "[OSC] %s -> %s\n", from, hex.EncodeToString(data))
	}
	packet, err := osc.ParsePacket(string(data))
	if err != nil {
		fmt.Fprintf(out, "[OSC] %s -> undecodable packet (%d bytes): %v\n", from, len(data), err)
		return
	}
	switch p := packet.(type) {
	case *osc.Message:
		fmt.Fprintf(out, "[OSC] %s -> %s %v\n", from, p.Address, p.Arguments)
	case *osc.Bundle:
		for _, m := range p.Messages {
			fmt.Fprintf(out, "[OSC] %s -> %s %v\n", from, m.Address, m.Arguments)
		}
	}
}
