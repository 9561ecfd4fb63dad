package endpoint

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/NodePath81/fbspeed/internal/engine"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	path   string
	query  map[string][]string
	header http.Header
	body   int
}

type testServer struct {
	mu       sync.Mutex
	requests []recordedRequest
	status   int
}

func (s *testServer) handler() http.Handler {
	mux := http.NewServeMux()
	record := func(r *http.Request, body int) {
		s.mu.Lock()
		s.requests = append(s.requests, recordedRequest{
			path:   r.URL.Path,
			query:  r.URL.Query(),
			header: r.Header.Clone(),
			body:   body,
		})
		s.mu.Unlock()
	}
	mux.HandleFunc("/cdn-cgi/trace", func(w http.ResponseWriter, r *http.Request) {
		record(r, 0)
		if s.status != 0 {
			w.WriteHeader(s.status)
			return
		}
		_, _ = io.WriteString(w, "fl=1\nh=test\n")
	})
	mux.HandleFunc("/__down", func(w http.ResponseWriter, r *http.Request) {
		record(r, 0)
		n, _ := strconv.Atoi(r.URL.Query().Get("bytes"))
		_, _ = w.Write(make([]byte, n))
	})
	mux.HandleFunc("/__up", func(w http.ResponseWriter, r *http.Request) {
		n, _ := io.Copy(io.Discard, r.Body)
		record(r, int(n))
		_, _ = io.WriteString(w, "{}")
	})
	return mux
}

func (s *testServer) last() recordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[len(s.requests)-1]
}

func newTestClient(t *testing.T, srv *testServer) *Client {
	t.Helper()
	ts := httptest.NewServer(srv.handler())
	t.Cleanup(ts.Close)
	client, err := New(Options{
		PingURL:     ts.URL + "/cdn-cgi/trace",
		DownloadURL: ts.URL + "/__down",
		UploadURL:   ts.URL + "/__up",
		RecvBuffer:  1 << 20,
		UserAgent:   "fbspeed-test",
	})
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func TestProbeSendsUncachedRequest(t *testing.T) {
	srv := &testServer{}
	client := newTestClient(t, srv)

	require.NoError(t, client.Probe(context.Background()))
	first := srv.last()
	require.Equal(t, "/cdn-cgi/trace", first.path)
	require.Equal(t, "no-store", first.header.Get("Cache-Control"))
	require.Equal(t, "no-cache", first.header.Get("Pragma"))
	require.Equal(t, "fbspeed-test", first.header.Get("User-Agent"))
	require.NotEmpty(t, first.query["t"])

	require.NoError(t, client.Probe(context.Background()))
	require.NotEqual(t, first.query["t"], srv.last().query["t"])
}

func TestProbeStatusError(t *testing.T) {
	srv := &testServer{status: http.StatusServiceUnavailable}
	client := newTestClient(t, srv)

	err := client.Probe(context.Background())
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusServiceUnavailable, statusErr.Code)
	require.False(t, errors.Is(err, engine.ErrFatalTransfer))
}

func TestDownloadReportsEveryByte(t *testing.T) {
	srv := &testServer{}
	client := newTestClient(t, srv)

	var total int
	err := client.Download(context.Background(), 250_000, func(n int) { total += n })
	require.NoError(t, err)
	require.Equal(t, 250_000, total)
	require.Equal(t, []string{"250000"}, srv.last().query["bytes"])
}

func TestUploadSendsPayload(t *testing.T) {
	srv := &testServer{}
	client := newTestClient(t, srv)

	require.NoError(t, client.Upload(context.Background(), make([]byte, 4096)))
	got := srv.last()
	require.Equal(t, "/__up", got.path)
	require.Equal(t, 4096, got.body)
	require.Equal(t, "application/octet-stream", got.header.Get("Content-Type"))
}

func TestDownloadCancelled(t *testing.T) {
	client := newTestClient(t, &testServer{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := client.Download(ctx, 1000, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewRejectsBadEndpoints(t *testing.T) {
	_, err := New(Options{PingURL: "ftp://x/y", DownloadURL: "http://x/d", UploadURL: "http://x/u"})
	require.ErrorIs(t, err, engine.ErrFatalTransfer)

	_, err = New(Options{PingURL: "http://x/p", DownloadURL: "http://x/d"})
	require.ErrorIs(t, err, engine.ErrFatalTransfer)
}

func TestHostAndPort(t *testing.T) {
	client, err := New(Options{
		PingURL:     "https://speed.example/cdn-cgi/trace",
		DownloadURL: "https://speed.example/__down",
		UploadURL:   "https://speed.example/__up",
		HTTP2:       true,
	})
	require.NoError(t, err)
	require.Equal(t, "speed.example", client.Host())
	require.Equal(t, 443, client.Port())
}
