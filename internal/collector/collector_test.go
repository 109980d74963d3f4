package collector

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"

	"github.com/roach88/renderscan/internal/ir"
	"github.com/roach88/renderscan/internal/monitor"
	"github.com/roach88/renderscan/internal/store"
	"github.com/roach88/renderscan/internal/transport"
)

const validBody = `{"components":[{"instances":1,"interactionId":"pointer::App::/","name":"App","renders":1,"totalTime":2}],` +
	`"interactions":[{"id":"pointer::App::/","name":"App","time":12,"timestamp":1704067200000,"type":"pointer"}],` +
	`"session":{"id":"s1","url":"/","route":"/"}}`

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "collect.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func post(t *testing.T, h http.Handler, body []byte, mutate func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/ingest", bytes.NewReader(body))
	req.Header.Set(transport.HeaderAPIKey, "key-1")
	req.Header.Set("Content-Type", transport.ContentType)
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func gzipped(t *testing.T, body []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(body)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestHandlerArchivesBatch(t *testing.T) {
	s := openStore(t)
	h := NewHandler(s)

	rec := post(t, h, []byte(validBody), nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	b, err := s.ReadBatch(context.Background(), ir.BatchID([]byte(validBody)))
	require.NoError(t, err)
	assert.Equal(t, "s1", b.SessionID)
	assert.Equal(t, ir.WireVersion, b.WireVersion)
	assert.Equal(t, 1, b.Components)
}

func TestHandlerDuplicateIsAccepted(t *testing.T) {
	s := openStore(t)
	h := NewHandler(s)

	require.Equal(t, http.StatusAccepted, post(t, h, []byte(validBody), nil).Code)
	require.Equal(t, http.StatusAccepted, post(t, h, []byte(validBody), nil).Code)

	batches, err := s.ListBatches(context.Background())
	require.NoError(t, err)
	assert.Len(t, batches, 1)
}

func TestHandlerGzip(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*http.Request)
	}{
		{"content encoding", func(r *http.Request) { r.Header.Set("Content-Encoding", "gzip") }},
		{"query flag", func(r *http.Request) { r.URL.RawQuery = transport.CompressedParam + "=1" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := openStore(t)
			rec := post(t, NewHandler(s), gzipped(t, []byte(validBody)), tt.mutate)
			require.Equal(t, http.StatusAccepted, rec.Code)

			_, err := s.ReadBatch(context.Background(), ir.BatchID([]byte(validBody)))
			assert.NoError(t, err, "batch id is taken over the uncompressed body")
		})
	}
}

func TestHandlerRejects(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		opts   []Option
		mutate func(*http.Request)
		want   int
	}{
		{"wrong method", validBody, nil, func(r *http.Request) { r.Method = http.MethodGet }, http.StatusMethodNotAllowed},
		{"missing key", validBody, nil, func(r *http.Request) { r.Header.Del(transport.HeaderAPIKey) }, http.StatusUnauthorized},
		{"unknown key", validBody, []Option{WithAPIKeys("other")}, nil, http.StatusUnauthorized},
		{"malformed json", `{"session":`, nil, nil, http.StatusBadRequest},
		{"missing session", `{"interactions":[],"components":[]}`, nil, nil, http.StatusBadRequest},
		{"bad gzip", validBody, nil, func(r *http.Request) { r.Header.Set("Content-Encoding", "gzip") }, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := openStore(t)
			rec := post(t, NewHandler(s, tt.opts...), []byte(tt.body), tt.mutate)
			assert.Equal(t, tt.want, rec.Code)

			batches, err := s.ListBatches(context.Background())
			require.NoError(t, err)
			assert.Empty(t, batches)
		})
	}
}

func TestHandlerAcceptsListedKey(t *testing.T) {
	s := openStore(t)
	rec := post(t, NewHandler(s, WithAPIKeys("key-0", "key-1")), []byte(validBody), nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestServerSpeaksH2C(t *testing.T) {
	s := openStore(t)
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := NewServer(NewHandler(s))
	go srv.Serve(l)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })

	h2 := &http.Client{Transport: &http2.Transport{
		AllowHTTP: true,
		DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, addr)
		},
	}}
	req, err := http.NewRequest(http.MethodPost, "http://"+l.Addr().String()+"/ingest", strings.NewReader(validBody))
	require.NoError(t, err)
	req.Header.Set(transport.HeaderAPIKey, "key-1")

	resp, err := h2.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, 2, resp.ProtoMajor)
}

func TestTransportToCollector(t *testing.T) {
	s := openStore(t)
	srv := httptest.NewServer(NewHandler(s))
	t.Cleanup(srv.Close)

	comps := make([]string, 0, 40)
	for i := 0; i < 40; i++ {
		comps = append(comps, `{"instances":1,"interactionId":"pointer::App::/","name":"Row","renders":1,"totalTime":0.5}`)
	}
	body := []byte(`{"components":[` + strings.Join(comps, ",") + `],` +
		`"interactions":[{"id":"pointer::App::/","name":"App","time":12,"timestamp":1,"type":"pointer"}],` +
		`"session":{"id":"s1"}}`)
	require.Greater(t, len(body), transport.GzipMinLen)

	c, err := transport.NewClient(transport.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	b := &monitor.Batch{ID: ir.BatchID(body), URL: srv.URL + "/ingest", APIKey: "key-1", Body: body, Pending: 1}
	require.NoError(t, c.Deliver(context.Background(), b))

	got, err := s.ComponentSummaries(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Row", got[0].Name)
	assert.Equal(t, 40, got[0].Renders)
	assert.InDelta(t, 20, got[0].TotalTime, 1e-9)
}
