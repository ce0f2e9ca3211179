// Package httpc provides shared HTTP and WebSocket clients with sensible
// defaults for the posebridge tools. Use these instead of
// http.DefaultClient or websocket.DefaultDialer so timeouts are set.
package httpc

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Default timeouts for network operations.
const (
	DefaultTimeout          = 30 * time.Second
	DefaultConnectTimeout   = 10 * time.Second
	DefaultKeepAlive        = 30 * time.Second
	DefaultIdleConnTimeout  = 90 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
)

func netDialer() *net.Dialer {
	return &net.Dialer{
		Timeout:   DefaultConnectTimeout,
		KeepAlive: DefaultKeepAlive,
	}
}

// Client is a shared HTTP client with production-ready defaults.
var Client = NewClient(DefaultTimeout, false)

// NewClient creates an HTTP client with the given timeout. insecure skips
// certificate verification, for servers running a self-signed dev cert.
func NewClient(timeout time.Duration, insecure bool) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext:           netDialer().DialContext,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       DefaultIdleConnTimeout,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			TLSClientConfig:       &tls.Config{InsecureSkipVerify: insecure},
		},
	}
}

// NewDialer creates a WebSocket dialer with the same connect timeouts.
func NewDialer(insecure bool) *websocket.Dialer {
	return &websocket.Dialer{
		NetDialContext:   netDialer().DialContext,
		HandshakeTimeout: DefaultHandshakeTimeout,
		TLSClientConfig:  &tls.Config{InsecureSkipVerify: insecure},
	}
}

// Get performs an HTTP GET with c and fails on non-2xx responses.
func Get(ctx context.Context, c *http.Client, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return do(c, req)
}

// Post performs an HTTP POST with c and fails on non-2xx responses.
func Post(ctx context.Context, c *http.Client, url, contentType string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	return do(c, req)
}

func do(c *http.Client, req *http.Request) (*http.Response, error) {
	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("%s %s: %s", req.Method, req.URL, resp.Status)
	}
	return resp, nil
}
