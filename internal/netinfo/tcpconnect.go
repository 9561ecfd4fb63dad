package netinfo

import (
	"context"
	"net"
	"strconv"
	"time"
)

// TCPConnect measures the time to complete a TCP handshake with host:port.
func TCPConnect(ctx context.Context, host string, port int, timeout time.Duration) (time.Duration, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	dialer := &net.Dialer{Timeout: timeout}
	start := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return 0, err
	}
	rtt := time.Since(start)
	_ = conn.Close()
	return rtt, nil
}
