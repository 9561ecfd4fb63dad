// Package endpoint implements the HTTP transport against a speed-test
// endpoint pair: an uncached latency resource, a sized download resource and
// an upload sink.
package endpoint

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/NodePath81/fbspeed/internal/engine"
	"github.com/google/uuid"
	"golang.org/x/net/http2"
)

const (
	readChunk           = 32 * 1024
	defaultDialTimeout  = 10 * time.Second
	defaultUserAgent    = "fbspeed"
	maxIdleConnsPerHost = 16
)

// Options configures a Client. Empty URLs are rejected.
type Options struct {
	PingURL     string
	DownloadURL string
	UploadURL   string

	DialTimeout time.Duration
	// RecvBuffer and SendBuffer set SO_RCVBUF/SO_SNDBUF where supported.
	RecvBuffer int
	SendBuffer int
	HTTP2      bool
	UserAgent  string
}

// Client implements engine.Transport over net/http.
type Client struct {
	http      *http.Client
	ping      *url.URL
	download  *url.URL
	upload    *url.URL
	userAgent string
}

var _ engine.Transport = (*Client)(nil)

func New(opts Options) (*Client, error) {
	ping, err := parseEndpoint("ping", opts.PingURL)
	if err != nil {
		return nil, err
	}
	download, err := parseEndpoint("download", opts.DownloadURL)
	if err != nil {
		return nil, err
	}
	upload, err := parseEndpoint("upload", opts.UploadURL)
	if err != nil {
		return nil, err
	}
	transport, err := newTransport(opts)
	if err != nil {
		return nil, err
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	return &Client{
		http:      &http.Client{Transport: transport},
		ping:      ping,
		download:  download,
		upload:    upload,
		userAgent: ua,
	}, nil
}

func parseEndpoint(name, raw string) (*url.URL, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: %s url is empty", engine.ErrFatalTransfer, name)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s url: %v", engine.ErrFatalTransfer, name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: %s url scheme %q", engine.ErrFatalTransfer, name, u.Scheme)
	}
	return u, nil
}

func newTransport(opts Options) (*http.Transport, error) {
	timeout := opts.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	dialer := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
		Control:   bufferControl(opts.RecvBuffer, opts.SendBuffer),
	}
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   maxIdleConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   timeout,
		ExpectContinueTimeout: time.Second,
		// Compressed bodies would under-count transferred bytes.
		DisableCompression: true,
	}
	if !opts.HTTP2 {
		tr.TLSNextProto = map[string]func(string, *tls.Conn) http.RoundTripper{}
		return tr, nil
	}
	if err := http2.ConfigureTransport(tr); err != nil {
		return nil, fmt.Errorf("configure http2: %w", err)
	}
	return tr, nil
}

// Host returns the host name of the download endpoint.
func (c *Client) Host() string {
	return c.download.Hostname()
}

// Port returns the download endpoint port, defaulting by scheme.
func (c *Client) Port() int {
	if p := c.download.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err == nil {
			return n
		}
	}
	if c.download.Scheme == "http" {
		return 80
	}
	return 443
}

// Close releases idle connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

func (c *Client) Probe(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, c.ping, nil, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	_, err = io.Copy(io.Discard, resp.Body)
	return err
}

func (c *Client) Download(ctx context.Context, size int64, onBytes func(n int)) error {
	query := url.Values{"bytes": {strconv.FormatInt(size, 10)}}
	req, err := c.newRequest(ctx, http.MethodGet, c.download, query, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}

	buf := make([]byte, readChunk)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 && onBytes != nil {
			onBytes(n)
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (c *Client) Upload(ctx context.Context, payload []byte) error {
	req, err := c.newRequest(ctx, http.MethodPost, c.upload, nil, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.ContentLength = int64(len(payload))
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	_, err = io.Copy(io.Discard, resp.Body)
	return err
}

// newRequest builds a request with a unique cache-busting parameter so no
// cache between client and endpoint can serve it.
func (c *Client) newRequest(ctx context.Context, method string, base *url.URL, extra url.Values, body io.Reader) (*http.Request, error) {
	u := *base
	q := u.Query()
	for k, vs := range extra {
		q[k] = vs
	}
	q.Set("t", uuid.NewString())
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", engine.ErrFatalTransfer, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Cache-Control", "no-store")
	req.Header.Set("Pragma", "no-cache")
	return req, nil
}

// StatusError reports a non-2xx response.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %s", e.Status)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return &StatusError{Code: resp.StatusCode, Status: resp.Status}
}
