// Package collector is the reference ingest endpoint for telemetry
// batches. It accepts the transport's wire format over HTTP/1.1 or
// cleartext HTTP/2 and archives each batch in a store.
package collector

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/roach88/renderscan/internal/ir"
	"github.com/roach88/renderscan/internal/monitor"
	"github.com/roach88/renderscan/internal/transport"
)

// MaxBodyLen bounds a decoded batch body.
const MaxBodyLen = 8 << 20

// Archive persists batches. *store.Store satisfies it.
type Archive interface {
	WriteBatch(ctx context.Context, id, wireVersion string, body []byte, p monitor.Payload) (bool, error)
}

// Handler ingests batches.
type Handler struct {
	archive Archive
	keys    map[string]bool
	logger  *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithAPIKeys restricts ingest to the given keys. Without it any
// non-empty key is accepted.
func WithAPIKeys(keys ...string) Option {
	return func(h *Handler) {
		h.keys = make(map[string]bool, len(keys))
		for _, k := range keys {
			h.keys[k] = true
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = l
	}
}

// NewHandler creates a handler writing to archive.
func NewHandler(archive Archive, opts ...Option) *Handler {
	h := &Handler{archive: archive, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP implements http.Handler.
//
// Responses: 202 when the batch is archived or already was, 400 for an
// undecodable batch, 401 for a missing or unknown key, 405 for anything
// but POST.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	key := r.Header.Get(transport.HeaderAPIKey)
	if key == "" || (h.keys != nil && !h.keys[key]) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	body, err := readBody(r)
	if err != nil {
		h.logger.Debug("rejecting batch", "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	p, err := monitor.DecodePayload(bytes.NewReader(body))
	if err != nil {
		h.logger.Debug("rejecting batch", "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id := ir.BatchID(body)
	inserted, err := h.archive.WriteBatch(r.Context(), id, ir.WireVersion, body, p)
	if err != nil {
		h.logger.Error("archive batch", "batch", id, "error", err)
		http.Error(w, "archive failed", http.StatusInternalServerError)
		return
	}
	h.logger.Info("batch received",
		"batch", id,
		"session", p.Session.ID,
		"interactions", len(p.Interactions),
		"components", len(p.Components),
		"duplicate", !inserted,
	)
	w.WriteHeader(http.StatusAccepted)
}

// readBody returns the uncompressed request body. A body is gzipped when
// Content-Encoding says so or the compressed query flag is set.
func readBody(r *http.Request) ([]byte, error) {
	var src io.Reader = io.LimitReader(r.Body, MaxBodyLen)
	if r.Header.Get("Content-Encoding") == "gzip" || r.URL.Query().Get(transport.CompressedParam) == "1" {
		zr, err := gzip.NewReader(src)
		if err != nil {
			return nil, fmt.Errorf("gzip body: %w", err)
		}
		defer zr.Close()
		src = zr
	}
	body, err := io.ReadAll(io.LimitReader(src, MaxBodyLen+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) > MaxBodyLen {
		return nil, errors.New("body too large")
	}
	return body, nil
}

// Server serves a Handler over HTTP/1.1 and cleartext HTTP/2.
type Server struct {
	srv *http.Server
}

// NewServer wraps h in an h2c server.
func NewServer(h http.Handler) *Server {
	return &Server{srv: &http.Server{
		Handler:           h2c.NewHandler(h, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}}
}

// Serve accepts connections on l until Shutdown. It returns nil after a
// clean shutdown.
func (s *Server) Serve(l net.Listener) error {
	if err := s.srv.Serve(l); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for active requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
