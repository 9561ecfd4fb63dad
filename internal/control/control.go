// Package control serves the engine state over HTTP: a JSON-RPC endpoint, a
// websocket status stream, Prometheus metrics and an identity document.
package control

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/NodePath81/fbspeed/internal/config"
	"github.com/NodePath81/fbspeed/internal/engine"
	"github.com/NodePath81/fbspeed/internal/util"
	"github.com/NodePath81/fbspeed/internal/version"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	maxRPCBodyBytes   = 1 << 20
	rpcRatePerSecond  = 5
	rpcRateBurst      = 10
	limiterTTL        = 5 * time.Minute
	wsTokenPrefix     = "fbspeed-token."
	wsPrimaryProtocol = "fbspeed"
)

// Engine is the part of engine.Orchestrator the control server drives.
type Engine interface {
	Start() bool
	Reset()
	Snapshot() engine.Snapshot
	Subscribe() (<-chan engine.Snapshot, func())
}

type ControlServer struct {
	cfg       config.ControlConfig
	fullCfg   config.Config
	hostname  string
	engine    Engine
	metrics   http.Handler
	logger    util.Logger
	limiter   *rateLimiter
	server    *http.Server
	listener  net.Listener
	serveDone chan struct{}
}

// NewControlServer builds a server. metrics may be nil, which disables
// /metrics regardless of config.
func NewControlServer(cfg config.Config, eng Engine, metrics http.Handler, logger util.Logger) *ControlServer {
	if logger == nil {
		logger = util.NopLogger()
	}
	return &ControlServer{
		cfg:      cfg.Control,
		fullCfg:  cfg,
		hostname: cfg.Hostname,
		engine:   eng,
		metrics:  metrics,
		logger:   logger,
		limiter:  newRateLimiter(rpcRatePerSecond, rpcRateBurst, limiterTTL),
	}
}

// Handler returns the routed mux. Start serves it on the configured address.
func (c *ControlServer) Handler() http.Handler {
	mux := http.NewServeMux()
	if c.metrics != nil && c.cfg.Metrics.IsEnabled() {
		mux.HandleFunc("/metrics", c.handleMetrics)
	}
	mux.HandleFunc("/rpc", c.handleRPC)
	mux.HandleFunc("/status", c.handleStatus)
	mux.HandleFunc("/identity", c.handleIdentity)
	return mux
}

func (c *ControlServer) Start(ctx context.Context) error {
	addr := util.NetJoin(c.cfg.BindAddr, c.cfg.BindPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	c.listener = ln
	c.server = &http.Server{
		Handler:           c.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	c.serveDone = make(chan struct{})

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = c.server.Shutdown(shutdownCtx)
	}()

	go func() {
		defer close(c.serveDone)
		if err := c.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("control server error", "error", err)
		}
	}()
	c.logger.Info("control server started", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address once started.
func (c *ControlServer) Addr() string {
	if c.listener == nil {
		return ""
	}
	return c.listener.Addr().String()
}

func (c *ControlServer) Shutdown(ctx context.Context) error {
	if c.server == nil {
		return nil
	}
	err := c.server.Shutdown(ctx)
	<-c.serveDone
	return err
}

type rpcRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type rpcResponse struct {
	Ok     bool        `json:"ok"`
	Error  string      `json:"error,omitempty"`
	Result interface{} `json:"result,omitempty"`
}

type startResult struct {
	Started bool `json:"started"`
}

type identityResponse struct {
	Hostname string   `json:"hostname"`
	IPs      []string `json:"ips"`
	Version  string   `json:"version"`
}

func (c *ControlServer) handleRPC(w http.ResponseWriter, r *http.Request) {
	if !c.limiter.Allow(clientIP(r)) {
		writeJSON(w, http.StatusTooManyRequests, rpcResponse{Ok: false, Error: "rate limit exceeded"})
		return
	}
	if !c.checkAuth(r) {
		writeJSON(w, http.StatusUnauthorized, rpcResponse{Ok: false, Error: "unauthorized"})
		return
	}
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, rpcResponse{Ok: false, Error: "method not allowed"})
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRPCBodyBytes)
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, rpcResponse{Ok: false, Error: "invalid json"})
		return
	}
	switch req.Method {
	case "Start":
		started := c.engine.Start()
		c.logger.Info("start requested", "source", "rpc", "started", started)
		writeJSON(w, http.StatusOK, rpcResponse{Ok: true, Result: startResult{Started: started}})
	case "Reset":
		c.engine.Reset()
		c.logger.Info("reset requested", "source", "rpc")
		writeJSON(w, http.StatusOK, rpcResponse{Ok: true})
	case "GetState":
		writeJSON(w, http.StatusOK, rpcResponse{Ok: true, Result: c.engine.Snapshot()})
	case "GetConfig":
		writeJSON(w, http.StatusOK, rpcResponse{Ok: true, Result: c.getRuntimeConfig()})
	default:
		writeJSON(w, http.StatusBadRequest, rpcResponse{Ok: false, Error: "unknown method"})
	}
}

func (c *ControlServer) getRuntimeConfig() map[string]interface{} {
	cfg := c.fullCfg
	return map[string]interface{}{
		"hostname": cfg.Hostname,
		"endpoints": map[string]interface{}{
			"ping":     cfg.Endpoints.Ping,
			"download": cfg.Endpoints.Download,
			"upload":   cfg.Endpoints.Upload,
		},
		"probe": map[string]interface{}{
			"count": cfg.Probe.Count,
		},
		"download": map[string]interface{}{
			"workers":       cfg.Download.Workers,
			"sizes":         cfg.Download.SizeBytes,
			"retry_backoff": cfg.Download.RetryBackoff.Duration().String(),
		},
		"upload": map[string]interface{}{
			"workers":        cfg.Upload.Workers,
			"payload_bytes":  cfg.Upload.PayloadBytes,
			"retry_backoff":  cfg.Upload.RetryBackoff.Duration().String(),
			"sanity_timeout": cfg.Upload.SanityTimeout.Duration().String(),
		},
		"sampling": map[string]interface{}{
			"interval":        cfg.Sampling.Interval.Duration().String(),
			"window":          cfg.Sampling.Window,
			"tolerance_mbps":  cfg.Sampling.Tolerance,
			"stable_ticks":    cfg.Sampling.StableTicks,
			"min_duration":    cfg.Sampling.MinDuration.Duration().String(),
			"max_duration":    cfg.Sampling.MaxDuration.Duration().String(),
			"min_samples":     cfg.Sampling.MinSamples,
			"warmup_fraction": cfg.Sampling.Warmup(),
		},
		"run": map[string]interface{}{
			"settle_delay": cfg.Run.SettleDelay.Duration().String(),
		},
		"transport": map[string]interface{}{
			"dial_timeout": cfg.Transport.DialTimeout.Duration().String(),
			"recv_buffer":  cfg.Transport.RecvBufferBytes,
			"send_buffer":  cfg.Transport.SendBufferBytes,
			"http2":        cfg.Transport.HTTP2Enabled(),
		},
		"control": map[string]interface{}{
			"bind_addr": cfg.Control.BindAddr,
			"bind_port": cfg.Control.BindPort,
			"metrics": map[string]interface{}{
				"enabled": cfg.Control.Metrics.IsEnabled(),
			},
		},
	}
}

func (c *ControlServer) handleIdentity(w http.ResponseWriter, r *http.Request) {
	if !c.checkAuth(r) {
		writeJSON(w, http.StatusUnauthorized, rpcResponse{Ok: false, Error: "unauthorized"})
		return
	}
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, rpcResponse{Ok: false, Error: "method not allowed"})
		return
	}
	name := strings.TrimSpace(c.hostname)
	if name == "" {
		name, _ = os.Hostname()
	}
	resp := identityResponse{
		Hostname: name,
		IPs:      listActiveIPs(),
		Version:  version.Version,
	}
	writeJSON(w, http.StatusOK, rpcResponse{Ok: true, Result: resp})
}

func listActiveIPs() []string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	addrs := collectIPs(ifaces, func(iface net.Interface) bool {
		return iface.Flags&net.FlagUp != 0 && iface.Flags&net.FlagLoopback == 0
	})
	if len(addrs) > 0 {
		return addrs
	}
	return collectIPs(ifaces, func(iface net.Interface) bool {
		return iface.Flags&net.FlagLoopback == 0
	})
}

func collectIPs(ifaces []net.Interface, filter func(net.Interface) bool) []string {
	ips := make([]string, 0)
	for _, iface := range ifaces {
		if !filter(iface) {
			continue
		}
		addrList, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrList {
			if ip := addrToIP(addr); ip != "" {
				ips = append(ips, ip)
			}
		}
	}
	return ips
}

func addrToIP(addr net.Addr) string {
	switch v := addr.(type) {
	case *net.IPNet:
		if v.IP == nil {
			return ""
		}
		return v.IP.String()
	case *net.IPAddr:
		if v.IP == nil {
			return ""
		}
		return v.IP.String()
	default:
		return ""
	}
}

func (c *ControlServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !c.checkAuth(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	c.metrics.ServeHTTP(w, r)
}

// checkAuth accepts any request when no token is configured.
func (c *ControlServer) checkAuth(r *http.Request) bool {
	if c.cfg.AuthToken == "" {
		return true
	}
	token, ok := bearerToken(r)
	if !ok {
		return false
	}
	return secureTokenEqual(token, c.cfg.AuthToken)
}

func (c *ControlServer) checkStatusAuth(r *http.Request) bool {
	if c.cfg.AuthToken == "" {
		return true
	}
	if token, ok := bearerToken(r); ok {
		return secureTokenEqual(token, c.cfg.AuthToken)
	}
	if token, ok := tokenFromWebSocketProtocols(r); ok {
		return secureTokenEqual(token, c.cfg.AuthToken)
	}
	return false
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(auth, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}

func tokenFromWebSocketProtocols(r *http.Request) (string, bool) {
	for _, proto := range websocket.Subprotocols(r) {
		if !strings.HasPrefix(proto, wsTokenPrefix) {
			continue
		}
		encoded := strings.TrimPrefix(proto, wsTokenPrefix)
		if encoded == "" {
			continue
		}
		decoded, err := base64.RawURLEncoding.DecodeString(encoded)
		if err != nil || len(decoded) == 0 {
			continue
		}
		return string(decoded), true
	}
	return "", false
}

func secureTokenEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	return strings.EqualFold(parsed.Host, r.Host)
}

func writeJSON(w http.ResponseWriter, status int, resp rpcResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// rateLimiter keeps one token bucket per client key. Idle buckets expire
// after ttl.
type rateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	rate    rate.Limit
	burst   int
	ttl     time.Duration
}

type clientLimiter struct {
	limiter *rate.Limiter
	last    time.Time
}

func newRateLimiter(perSecond float64, burst int, ttl time.Duration) *rateLimiter {
	return &rateLimiter{
		clients: make(map[string]*clientLimiter),
		rate:    rate.Limit(perSecond),
		burst:   burst,
		ttl:     ttl,
	}
}

func (r *rateLimiter) Allow(key string) bool {
	if key == "" {
		return false
	}
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, cl := range r.clients {
		if now.Sub(cl.last) > r.ttl {
			delete(r.clients, k)
		}
	}
	cl := r.clients[key]
	if cl == nil {
		cl = &clientLimiter{limiter: rate.NewLimiter(r.rate, r.burst)}
		r.clients[key] = cl
	}
	cl.last = now
	return cl.limiter.AllowN(now, 1)
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
