package transport

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/renderscan/internal/monitor"
)

type captured struct {
	query    string
	encoding string
	apiKey   string
	ctype    string
	body     []byte
}

type collector struct {
	mu       sync.Mutex
	requests []captured
	failures atomic.Int32
	srv      *httptest.Server
}

// newCollector starts a server that fails the first failN requests.
func newCollector(t *testing.T, failN int32) *collector {
	t.Helper()
	c := &collector{}
	c.failures.Store(failN)
	c.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		body := raw
		if r.Header.Get("Content-Encoding") == "gzip" {
			zr, err := gzip.NewReader(bytes.NewReader(raw))
			if err == nil {
				body, _ = io.ReadAll(zr)
			}
		}
		c.mu.Lock()
		c.requests = append(c.requests, captured{
			query:    r.URL.RawQuery,
			encoding: r.Header.Get("Content-Encoding"),
			apiKey:   r.Header.Get(HeaderAPIKey),
			ctype:    r.Header.Get("Content-Type"),
			body:     body,
		})
		c.mu.Unlock()
		if c.failures.Add(-1) >= 0 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(c.srv.Close)
	return c
}

func (c *collector) received() []captured {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]captured(nil), c.requests...)
}

func batch(url string, body []byte) *monitor.Batch {
	return &monitor.Batch{ID: "b1", URL: url, APIKey: "key-1", Body: body, Pending: 1}
}

func newTestClient(t *testing.T, srv *httptest.Server, opts ...Option) *Client {
	t.Helper()
	c, err := NewClient(append([]Option{WithHTTPClient(srv.Client())}, opts...)...)
	require.NoError(t, err)
	return c
}

func TestDeliverSmallBodyUncompressed(t *testing.T) {
	col := newCollector(t, 0)
	c := newTestClient(t, col.srv)
	body := []byte(`{"session":{"id":"s"}}`)

	require.NoError(t, c.Deliver(context.Background(), batch(col.srv.URL, body)))

	reqs := col.received()
	require.Len(t, reqs, 1)
	assert.Empty(t, reqs[0].query)
	assert.Empty(t, reqs[0].encoding)
	assert.Equal(t, "key-1", reqs[0].apiKey)
	assert.Equal(t, ContentType, reqs[0].ctype)
	assert.Equal(t, body, reqs[0].body)
}

func TestDeliverLargeBodyCompressed(t *testing.T) {
	col := newCollector(t, 0)
	c := newTestClient(t, col.srv)
	body := []byte(`{"pad":"` + strings.Repeat("x", GzipMinLen) + `"}`)

	require.NoError(t, c.Deliver(context.Background(), batch(col.srv.URL+"/ingest", body)))

	reqs := col.received()
	require.Len(t, reqs, 1)
	assert.Equal(t, "z=1", reqs[0].query)
	assert.Equal(t, "gzip", reqs[0].encoding)
	assert.Equal(t, body, reqs[0].body, "collector sees the original body")
}

func TestDeliverCompressedKeepsQuery(t *testing.T) {
	col := newCollector(t, 0)
	c := newTestClient(t, col.srv)
	body := []byte(`{"pad":"` + strings.Repeat("x", GzipMinLen) + `"}`)

	require.NoError(t, c.Deliver(context.Background(), batch(col.srv.URL+"/ingest?tenant=b%2Fc&app=shop", body)))

	reqs := col.received()
	require.Len(t, reqs, 1)
	assert.Equal(t, "tenant=b%2Fc&app=shop&z=1", reqs[0].query, "existing query is preserved byte for byte")
}

func TestCompressedURL(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"http://c.example/ingest", "http://c.example/ingest?z=1"},
		{"http://c.example/ingest?b=2&a=1", "http://c.example/ingest?b=2&a=1&z=1"},
		{"http://c.example/ingest?q=a+b", "http://c.example/ingest?q=a+b&z=1"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := compressedURL(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := compressedURL("http://c.example/%zz")
	assert.Error(t, err)
}

func TestDeliverCompressionDisabled(t *testing.T) {
	col := newCollector(t, 0)
	c := newTestClient(t, col.srv, WithCompression(false))
	body := []byte(strings.Repeat("y", 2*GzipMinLen))

	require.NoError(t, c.Deliver(context.Background(), batch(col.srv.URL, body)))
	assert.Empty(t, col.received()[0].encoding)
}

func TestDeliverRetriesOnce(t *testing.T) {
	t.Run("second attempt succeeds", func(t *testing.T) {
		col := newCollector(t, 1)
		c := newTestClient(t, col.srv)

		require.NoError(t, c.Deliver(context.Background(), batch(col.srv.URL, []byte(`{}`))))
		assert.Len(t, col.received(), 2)
	})

	t.Run("second failure is final", func(t *testing.T) {
		col := newCollector(t, 5)
		c := newTestClient(t, col.srv)

		err := c.Deliver(context.Background(), batch(col.srv.URL, []byte(`{}`)))
		var se *StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusServiceUnavailable, se.Code)
		assert.Len(t, col.received(), 2, "exactly one retry")
	})
}

func TestSendCallsDoneOnEveryOutcome(t *testing.T) {
	for _, failN := range []int32{0, 1, 5} {
		col := newCollector(t, failN)
		c := newTestClient(t, col.srv)
		var pending monitor.Inflight
		b := batch(col.srv.URL, []byte(`{}`))
		b.Pending = pending.Begin()

		c.Send(context.Background(), b, pending.End)
		c.Wait()

		assert.Equal(t, 0, pending.Current(), "failures=%d", failN)
	}
}

func TestKeepaliveSurvivesCancellation(t *testing.T) {
	col := newCollector(t, 0)
	c := newTestClient(t, col.srv)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, c.Deliver(ctx, batch(col.srv.URL, []byte(`{}`))))
	assert.Len(t, col.received(), 1)
}

func TestNonKeepaliveBoundToContext(t *testing.T) {
	col := newCollector(t, 0)
	c := newTestClient(t, col.srv)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := batch(col.srv.URL, []byte(`{}`))
	b.Pending = monitor.MaxPendingRequests

	err := c.Deliver(ctx, b)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, col.received())
}

func TestKeepalive(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		pending int
		want    bool
	}{
		{"small and idle", 100, 1, true},
		{"at size cap", KeepaliveMaxLen, 1, false},
		{"just under size cap", KeepaliveMaxLen - 1, 1, true},
		{"too many pending", 100, monitor.MaxPendingRequests, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Keepalive(tt.size, tt.pending))
		})
	}
}

func TestEncodeThreshold(t *testing.T) {
	at, err := Encode(bytes.Repeat([]byte("a"), GzipMinLen), true)
	require.NoError(t, err)
	assert.False(t, at.Compressed, "compression starts above the threshold")

	over, err := Encode(bytes.Repeat([]byte("a"), GzipMinLen+1), true)
	require.NoError(t, err)
	assert.True(t, over.Compressed)
	assert.Less(t, len(over.Body), GzipMinLen)
}

func TestBuildHTTP2Client(t *testing.T) {
	h, err := BuildHTTP2Client(nil)
	require.NoError(t, err)
	tr, ok := h.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Contains(t, tr.TLSNextProto, "h2")
}
