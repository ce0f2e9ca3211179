package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-posebridge/internal/httpc"
	"github.com/teslashibe/go-posebridge/pkg/protocol"
	"github.com/teslashibe/go-posebridge/pkg/recorder"
)

type options struct {
	path       string
	url        string
	speed      float64
	loop       bool
	rebase     bool
	insecure   bool
	skipHealth bool
}

// player paces records by their relative offsets and hands each encoded
// tracking envelope to send.
type player struct {
	speed  float64
	rebase bool
	send   func([]byte) error
	sleep  func(context.Context, time.Duration) error
	now    func() time.Time
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// play streams records once and returns the number of frames sent.
func (p *player) play(ctx context.Context, records []recorder.Record) (int, error) {
	sent := 0
	prev := 0.0
	for i, rec := range records {
		if i > 0 {
			gap := (rec.Relative - prev) / p.speed
			if err := p.sleep(ctx, time.Duration(gap*float64(time.Millisecond))); err != nil {
				return sent, err
			}
		} else if err := ctx.Err(); err != nil {
			return sent, err
		}
		prev = rec.Relative

		frame := rec.Frame
		if p.rebase {
			frame.Timestamp = float64(p.now().UnixMilli())
		}
		data, err := protocol.NewTracking(frame, nil).Bytes()
		if err != nil {
			return sent, err
		}
		if err := p.send(data); err != nil {
			return sent, fmt.Errorf("send frame %d: %w", i, err)
		}
		sent++
	}
	return sent, nil
}

func loadSession(r io.Reader) ([]recorder.Record, error) {
	var records []recorder.Record
	err := recorder.Read(r, func(rec recorder.Record) error {
		records = append(records, rec)
		return nil
	})
	return records, err
}

// healthURL maps the producer endpoint onto the server's health route.
func healthURL(wsURL string) (string, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = "/api/health"
	u.RawQuery = ""
	return u.String(), nil
}

func replay(ctx context.Context, opts options, logger *slog.Logger) error {
	f, err := os.Open(opts.path)
	if err != nil {
		return err
	}
	records, err := loadSession(f)
	f.Close()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("%s: no frames", opts.path)
	}
	logger.Info("loaded session", "path", opts.path, "frames", len(records))

	if !opts.skipHealth {
		health, err := healthURL(opts.url)
		if err != nil {
			return err
		}
		resp, err := httpc.Get(ctx, httpc.NewClient(5*time.Second, opts.insecure), health)
		if err != nil {
			return fmt.Errorf("server not reachable: %w", err)
		}
		resp.Body.Close()
	}

	conn, _, err := httpc.NewDialer(opts.insecure).DialContext(ctx, opts.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", opts.url, err)
	}
	defer conn.Close()
	logger.Info("connected", "url", opts.url)

	p := &player{
		speed:  opts.speed,
		rebase: opts.rebase,
		sleep:  sleepCtx,
		now:    time.Now,
		send: func(data []byte) error {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			return conn.WriteMessage(websocket.TextMessage, data)
		},
	}

	for pass := 1; ; pass++ {
		sent, err := p.play(ctx, records)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("interrupted", "sent", sent)
				break
			}
			return err
		}
		logger.Info("session finished", "pass", pass, "sent", sent)
		if !opts.loop {
			break
		}
	}

	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return nil
}
