package speedserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/NodePath81/fbspeed/internal/config"
	"github.com/NodePath81/fbspeed/internal/endpoint"
	"github.com/stretchr/testify/require"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Hostname = "speed.test"
	cfg.Server.MaxDownloadBytes = 1_000_000
	cfg.Server.MaxUploadBytes = 100_000
	return cfg
}

func clientFor(t *testing.T, base string) *endpoint.Client {
	t.Helper()
	client, err := endpoint.New(endpoint.Options{
		PingURL:     base + "/cdn-cgi/trace",
		DownloadURL: base + "/__down",
		UploadURL:   base + "/__up",
	})
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func TestTraceIsUncached(t *testing.T) {
	ts := httptest.NewServer(NewServer(testConfig(), nil).Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/cdn-cgi/trace?t=1")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Cache-Control"), "no-store")
	require.Contains(t, string(body), "h=speed.test\n")
	require.Contains(t, string(body), "ip=127.0.0.1\n")
}

func TestDownloadSizeAndCap(t *testing.T) {
	ts := httptest.NewServer(NewServer(testConfig(), nil).Handler())
	defer ts.Close()
	client := clientFor(t, ts.URL)

	var got int
	require.NoError(t, client.Download(context.Background(), 200_000, func(n int) { got += n }))
	require.Equal(t, 200_000, got)

	got = 0
	require.NoError(t, client.Download(context.Background(), 5_000_000, func(n int) { got += n }))
	require.Equal(t, 1_000_000, got)

	resp, err := http.Get(ts.URL + "/__down?bytes=-4")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUploadCountsAndLimits(t *testing.T) {
	ts := httptest.NewServer(NewServer(testConfig(), nil).Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/__up", "application/octet-stream", bytes.NewReader(make([]byte, 4096)))
	require.NoError(t, err)
	var up upResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&up))
	resp.Body.Close()
	require.Equal(t, int64(4096), up.Received)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/__up", bytes.NewReader(make([]byte, 200_000)))
	NewServer(testConfig(), nil).Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	resp, err = http.Get(ts.URL + "/__up")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestEndpointClientRoundTrip(t *testing.T) {
	ts := httptest.NewServer(NewServer(testConfig(), nil).Handler())
	defer ts.Close()
	client := clientFor(t, ts.URL)

	require.NoError(t, client.Probe(context.Background()))
	require.NoError(t, client.Upload(context.Background(), make([]byte, 50_000)))
}

func TestShapedListenerServes(t *testing.T) {
	cfg := testConfig()
	cfg.Server.BindAddr = "127.0.0.1"
	cfg.Server.BindPort = 0
	cfg.Server.ShapeDownloadBytes = 10_000_000
	cfg.Server.ShapeUploadBytes = 10_000_000

	srv := NewServer(cfg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, srv.Start(ctx))
	require.True(t, strings.HasPrefix(srv.Addr(), "127.0.0.1:"))

	client := clientFor(t, "http://"+srv.Addr())
	var got int
	require.NoError(t, client.Download(context.Background(), 100_000, func(n int) { got += n }))
	require.Equal(t, 100_000, got)

	shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()
	require.NoError(t, srv.Shutdown(shutdownCtx))
}
