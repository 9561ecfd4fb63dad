package netinfo

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

const (
	protoICMP   = 1
	protoICMPv6 = 58
)

var errNoReply = errors.New("no echo reply")

type echoSocket struct {
	conn      *icmp.PacketConn
	proto     int
	echoType  icmp.Type
	replyType icmp.Type
	// Datagram sockets have their echo ID rewritten by the kernel.
	datagram bool
}

// openEcho tries an unprivileged datagram socket first, then a raw one.
func openEcho(ip net.IP) (*echoSocket, error) {
	sock := &echoSocket{
		proto:     protoICMP,
		echoType:  ipv4.ICMPTypeEcho,
		replyType: ipv4.ICMPTypeEchoReply,
	}
	dgram, raw := "udp4", "ip4:icmp"
	if ip.To4() == nil {
		sock.proto = protoICMPv6
		sock.echoType = ipv6.ICMPTypeEchoRequest
		sock.replyType = ipv6.ICMPTypeEchoReply
		dgram, raw = "udp6", "ip6:ipv6-icmp"
	}
	conn, err := icmp.ListenPacket(dgram, "")
	if err == nil {
		sock.conn = conn
		sock.datagram = true
		return sock, nil
	}
	conn, rawErr := icmp.ListenPacket(raw, "")
	if rawErr != nil {
		return nil, fmt.Errorf("icmp socket: %v; raw: %w", err, rawErr)
	}
	sock.conn = conn
	return sock, nil
}

func (s *echoSocket) close() {
	_ = s.conn.Close()
}

func (s *echoSocket) dst(ip net.IP) net.Addr {
	if s.datagram {
		return &net.UDPAddr{IP: ip}
	}
	return &net.IPAddr{IP: ip}
}

// Ping sends count ICMP echo requests to ip and returns the RTT of each
// answered request. Unanswered requests are omitted.
func Ping(ctx context.Context, ip net.IP, count int, timeout time.Duration) ([]time.Duration, error) {
	sock, err := openEcho(ip)
	if err != nil {
		return nil, err
	}
	defer sock.close()

	id := rand.Intn(0xffff)
	rtts := make([]time.Duration, 0, count)
	for seq := 1; seq <= count; seq++ {
		if err := ctx.Err(); err != nil {
			return rtts, err
		}
		rtt, err := sock.echo(ip, id, seq, timeout)
		if err == nil {
			rtts = append(rtts, rtt)
		}
	}
	if len(rtts) == 0 {
		return nil, errNoReply
	}
	return rtts, nil
}

func (s *echoSocket) echo(ip net.IP, id, seq int, timeout time.Duration) (time.Duration, error) {
	msg := icmp.Message{
		Type: s.echoType,
		Code: 0,
		Body: &icmp.Echo{
			ID:   id,
			Seq:  seq,
			Data: []byte("fbspeed"),
		},
	}
	payload, err := msg.Marshal(nil)
	if err != nil {
		return 0, err
	}
	start := time.Now()
	if _, err := s.conn.WriteTo(payload, s.dst(ip)); err != nil {
		return 0, err
	}
	if err := s.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, err
	}
	buf := make([]byte, 1500)
	for {
		n, peer, err := s.conn.ReadFrom(buf)
		if err != nil {
			return 0, err
		}
		if !peerMatches(peer, ip) {
			continue
		}
		matchID := id
		if s.datagram {
			matchID = -1
		}
		if isEchoReply(s.proto, buf[:n], s.replyType, matchID, seq) {
			return time.Since(start), nil
		}
	}
}

func peerMatches(peer net.Addr, ip net.IP) bool {
	switch addr := peer.(type) {
	case *net.IPAddr:
		return addr.IP == nil || addr.IP.Equal(ip)
	case *net.UDPAddr:
		return addr.IP == nil || addr.IP.Equal(ip)
	default:
		return true
	}
}

// isEchoReply reports whether buf is the reply to seq. A negative id
// matches any echo ID.
func isEchoReply(proto int, buf []byte, replyType icmp.Type, id, seq int) bool {
	parsed, err := icmp.ParseMessage(proto, buf)
	if err != nil || parsed.Type != replyType {
		return false
	}
	echo, ok := parsed.Body.(*icmp.Echo)
	if !ok {
		return false
	}
	return (id < 0 || echo.ID == id) && echo.Seq == seq
}
