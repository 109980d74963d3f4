// Package transport delivers telemetry batches to a collector.
//
// Each batch is posted once and retried once. Large bodies are gzipped.
// Small deliveries made while few others are pending are detached from
// the caller's context so they survive instance shutdown.
package transport

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"golang.org/x/net/http2"

	"github.com/roach88/renderscan/internal/monitor"
)

const (
	// GzipMinLen is the body length above which bodies are compressed.
	GzipMinLen = 1000

	// KeepaliveMaxLen is the encoded size below which a delivery may be
	// detached.
	KeepaliveMaxLen = 60000

	// ContentType is the media type of every body.
	ContentType = "application/json"

	// HeaderAPIKey carries the monitor's API key.
	HeaderAPIKey = "x-api-key"

	// CompressedParam marks a compressed body in the query string.
	CompressedParam = "z"
)

// StatusError is returned for a non-2xx collector response.
type StatusError struct {
	Code int
	Body string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("collector responded %d: %s", e.Code, e.Body)
}

// Encoded is a body ready to post.
type Encoded struct {
	Body       []byte
	Compressed bool
}

// Encode gzips body when it exceeds GzipMinLen and compress is true.
func Encode(body []byte, compress bool) (Encoded, error) {
	if !compress || len(body) <= GzipMinLen {
		return Encoded{Body: body}, nil
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(body); err != nil {
		return Encoded{}, fmt.Errorf("gzip body: %w", err)
	}
	if err := zw.Close(); err != nil {
		return Encoded{}, fmt.Errorf("gzip body: %w", err)
	}
	return Encoded{Body: buf.Bytes(), Compressed: true}, nil
}

// Keepalive reports whether a delivery of size encoded bytes, made while
// pending deliveries are outstanding including itself, may be detached.
func Keepalive(size, pending int) bool {
	return size < KeepaliveMaxLen && pending < monitor.MaxPendingRequests
}

// BuildHTTP2Client creates a client that negotiates HTTP/2 over TLS and
// falls back to HTTP/1.1. A nil tlsConfig uses the system roots.
func BuildHTTP2Client(tlsConfig *tls.Config) (*http.Client, error) {
	t := &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		TLSClientConfig: tlsConfig,
	}
	if err := http2.ConfigureTransport(t); err != nil {
		return nil, fmt.Errorf("configure http2: %w", err)
	}
	return &http.Client{Transport: t}, nil
}

// Client posts batches.
//
// Thread-safety: Client is safe for concurrent use.
type Client struct {
	http     *http.Client
	compress bool
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.http = h
	}
}

// WithCompression turns gzip on or off. It is on by default.
func WithCompression(v bool) Option {
	return func(c *Client) {
		c.compress = v
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a client. Without WithHTTPClient it uses
// BuildHTTP2Client with the system roots.
func NewClient(opts ...Option) (*Client, error) {
	c := &Client{compress: true, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		h, err := BuildHTTP2Client(nil)
		if err != nil {
			return nil, err
		}
		c.http = h
	}
	return c, nil
}

// Send delivers b on its own goroutine and returns immediately. done is
// called exactly once when the delivery succeeds or is dropped.
//
// A keepalive delivery ignores the cancellation of ctx; any other delivery
// is abandoned when ctx is cancelled.
func (c *Client) Send(ctx context.Context, b *monitor.Batch, done func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if done != nil {
			defer done()
		}
		if err := c.Deliver(ctx, b); err != nil {
			c.logger.Debug("batch dropped", "batch", b.ID, "error", err)
		}
	}()
}

// Deliver posts b and retries once. It returns the error of the second
// attempt, or nil on success.
func (c *Client) Deliver(ctx context.Context, b *monitor.Batch) error {
	enc, err := Encode(b.Body, c.compress)
	if err != nil {
		return err
	}
	if Keepalive(len(enc.Body), b.Pending) {
		ctx = context.WithoutCancel(ctx)
	}

	err = c.post(ctx, b, enc)
	if err == nil {
		return nil
	}
	c.logger.Debug("delivery failed, retrying", "batch", b.ID, "error", err)
	return c.post(ctx, b, enc)
}

// Wait blocks until every delivery started by Send is terminal.
func (c *Client) Wait() {
	c.wg.Wait()
}

// compressedURL appends the compression marker to raw, leaving any
// existing query untouched.
func compressedURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse collector url: %w", err)
	}
	marker := CompressedParam + "=1"
	if u.RawQuery == "" {
		u.RawQuery = marker
	} else {
		u.RawQuery += "&" + marker
	}
	return u.String(), nil
}

func (c *Client) post(ctx context.Context, b *monitor.Batch, enc Encoded) error {
	target := b.URL
	if enc.Compressed {
		t, err := compressedURL(b.URL)
		if err != nil {
			return err
		}
		target = t
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(enc.Body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", ContentType)
	req.Header.Set(HeaderAPIKey, b.APIKey)
	if enc.Compressed {
		req.Header.Set("Content-Encoding", "gzip")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: string(body)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
