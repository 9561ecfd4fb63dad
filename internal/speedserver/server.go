// Package speedserver is a self-hosted endpoint pair compatible with the
// engine's HTTP transport: /cdn-cgi/trace, /__down and /__up.
package speedserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/NodePath81/fbspeed/internal/config"
	"github.com/NodePath81/fbspeed/internal/util"
	"github.com/conduitio/bwlimit"
)

const writeChunk = 64 * 1024

// chunk is the repeating download body. Compressible content is fine since
// the client disables transport compression.
var chunk = make([]byte, writeChunk)

type Server struct {
	cfg       config.ServerConfig
	hostname  string
	logger    util.Logger
	server    *http.Server
	listener  net.Listener
	serveDone chan struct{}
}

func NewServer(cfg config.Config, logger util.Logger) *Server {
	if logger == nil {
		logger = util.NopLogger()
	}
	return &Server{cfg: cfg.Server, hostname: cfg.Hostname, logger: logger}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/cdn-cgi/trace", s.handleTrace)
	mux.HandleFunc("/__down", s.handleDown)
	mux.HandleFunc("/__up", s.handleUp)
	return mux
}

// Start listens on the configured address. Non-zero shaping rates wrap the
// listener so every accepted connection is limited independently.
func (s *Server) Start(ctx context.Context) error {
	addr := util.NetJoin(s.cfg.BindAddr, s.cfg.BindPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	if s.cfg.ShapeDownloadBytes > 0 || s.cfg.ShapeUploadBytes > 0 {
		// The server writes downloads and reads uploads.
		ln = bwlimit.NewListener(ln, bwlimit.Byte(s.cfg.ShapeDownloadBytes), bwlimit.Byte(s.cfg.ShapeUploadBytes))
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.serveDone = make(chan struct{})

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	go func() {
		defer close(s.serveDone)
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("speed server error", "error", err)
		}
	}()
	s.logger.Info("speed server started",
		"addr", ln.Addr().String(),
		"shape_download", util.FormatBytes(float64(s.cfg.ShapeDownloadBytes))+"/s",
		"shape_upload", util.FormatBytes(float64(s.cfg.ShapeUploadBytes))+"/s")
	return nil
}

func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	<-s.serveDone
	return err
}

func noStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
}

func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	noStore(w)
	w.Header().Set("Content-Type", "text/plain")
	host := s.hostname
	if host == "" {
		host = r.Host
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "fl=fbspeed\n")
	fmt.Fprintf(&b, "h=%s\n", host)
	fmt.Fprintf(&b, "ip=%s\n", remoteIP(r))
	fmt.Fprintf(&b, "ts=%.3f\n", float64(time.Now().UnixMilli())/1000)
	fmt.Fprintf(&b, "visit_scheme=%s\n", scheme)
	fmt.Fprintf(&b, "uag=%s\n", r.UserAgent())
	fmt.Fprintf(&b, "http=%s\n", strings.ToLower(r.Proto))
	_, _ = io.WriteString(w, b.String())
}

func (s *Server) handleDown(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	raw := r.URL.Query().Get("bytes")
	size, err := strconv.ParseInt(raw, 10, 64)
	if raw == "" {
		size, err = 0, nil
	}
	if err != nil || size < 0 {
		http.Error(w, "bytes must be a non-negative integer", http.StatusBadRequest)
		return
	}
	if limit := s.cfg.MaxDownloadBytes; limit > 0 && size > limit {
		size = limit
	}

	noStore(w)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.WriteHeader(http.StatusOK)
	for remaining := size; remaining > 0; {
		n := int64(len(chunk))
		if remaining < n {
			n = remaining
		}
		if _, err := w.Write(chunk[:n]); err != nil {
			return
		}
		remaining -= n
	}
}

type upResponse struct {
	Received int64 `json:"received"`
}

func (s *Server) handleUp(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body := io.Reader(r.Body)
	if limit := s.cfg.MaxUploadBytes; limit > 0 {
		body = http.MaxBytesReader(w, r.Body, limit)
	}
	n, err := io.Copy(io.Discard, body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			return
		}
		s.logger.Debug("upload read failed", "remote", remoteIP(r), "received", n, "error", err)
		return
	}
	noStore(w)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(upResponse{Received: n})
}

func remoteIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
