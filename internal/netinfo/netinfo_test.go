package netinfo

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

func TestInspectIPLiteral(t *testing.T) {
	insp := NewInspector(InspectorOptions{Host: "127.0.0.1"})
	info, err := insp.Inspect(context.Background())
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1", info.Host)
	require.Equal(t, "127.0.0.1", info.IP)
	require.Empty(t, info.Country)
}

func TestInspectLocalhostResolves(t *testing.T) {
	insp := NewInspector(InspectorOptions{Host: "localhost"})
	info, err := insp.Inspect(context.Background())
	require.NoError(t, err)
	require.NotNil(t, net.ParseIP(info.IP))
	require.True(t, net.ParseIP(info.IP).IsLoopback())
}

func TestInspectEmptyHost(t *testing.T) {
	_, err := NewInspector(InspectorOptions{}).Inspect(context.Background())
	require.Error(t, err)
}

func TestOpenGeoIPMissing(t *testing.T) {
	_, err := OpenGeoIP("")
	require.Error(t, err)
	_, err = OpenGeoIP(t.TempDir() + "/missing.mmdb")
	require.Error(t, err)

	var g *GeoIP
	require.NoError(t, g.Close())
}

func TestTCPConnect(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	rtt, err := TCPConnect(context.Background(), "127.0.0.1", port, time.Second)
	require.NoError(t, err)
	require.Positive(t, rtt)
}

func TestTCPConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	_, err = TCPConnect(context.Background(), "127.0.0.1", port, time.Second)
	require.Error(t, err)
}

func TestIsEchoReply(t *testing.T) {
	reply := icmp.Message{
		Type: ipv4.ICMPTypeEchoReply,
		Body: &icmp.Echo{ID: 42, Seq: 7, Data: []byte("fbspeed")},
	}
	buf, err := reply.Marshal(nil)
	require.NoError(t, err)

	require.True(t, isEchoReply(protoICMP, buf, ipv4.ICMPTypeEchoReply, 42, 7))
	require.True(t, isEchoReply(protoICMP, buf, ipv4.ICMPTypeEchoReply, -1, 7))
	require.False(t, isEchoReply(protoICMP, buf, ipv4.ICMPTypeEchoReply, 43, 7))
	require.False(t, isEchoReply(protoICMP, buf, ipv4.ICMPTypeEchoReply, 42, 8))
	require.False(t, isEchoReply(protoICMP, buf, ipv4.ICMPTypeEcho, 42, 7))
	require.False(t, isEchoReply(protoICMP, []byte{1, 2}, ipv4.ICMPTypeEchoReply, 42, 7))
}

func TestPeerMatches(t *testing.T) {
	ip := net.ParseIP("192.0.2.10")
	require.True(t, peerMatches(&net.IPAddr{IP: ip}, ip))
	require.True(t, peerMatches(&net.UDPAddr{IP: ip}, ip))
	require.False(t, peerMatches(&net.IPAddr{IP: net.ParseIP("192.0.2.11")}, ip))
}
