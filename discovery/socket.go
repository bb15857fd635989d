package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"syscall"

	"github.com/edup2p/nearby/types"
	"golang.org/x/net/ipv4"
)

var (
	MDNSPort             uint16 = 5353
	ip4MDNSBroadcastBare        = netip.MustParseAddr("224.0.0.251")

	ip4MDNSUnspecifiedAP = netip.AddrPortFrom(netip.IPv4Unspecified(), MDNSPort)
	ip4MDNSBroadcastAP   = netip.AddrPortFrom(ip4MDNSBroadcastBare, MDNSPort)
)

// Opener creates the socket used to send and receive mDNS packets.
// Every call must return a fresh socket; advertiser and browser each own one.
type Opener func() (types.UDPConn, error)

// ListenMulticast is the default Opener; an IPv4 socket bound to the mDNS port,
// joined to the mDNS group on every multicast-capable interface.
//
// Multicast loopback is enabled, so instances on the same host see each other.
func ListenMulticast() (types.UDPConn, error) {
	lc := net.ListenConfig{Control: reuseControl}

	pc, err := lc.ListenPacket(context.Background(), "udp4", ip4MDNSUnspecifiedAP.String())
	if err != nil {
		return nil, fmt.Errorf("ListenPacket error: %w", err)
	}

	conn := pc.(*net.UDPConn)
	p4 := ipv4.NewPacketConn(conn)

	ift, err := net.Interfaces()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("cannot get interfaces: %w", err)
	}

	joined := 0
	for _, ifi := range ift {
		if ifi.Flags&net.FlagUp == 0 || ifi.Flags&net.FlagMulticast == 0 || ifi.Flags&net.FlagPointToPoint != 0 {
			continue
		}

		if err := p4.JoinGroup(&ifi, &net.UDPAddr{IP: ip4MDNSBroadcastBare.AsSlice()}); err != nil {
			if !errors.Is(err, syscall.EAFNOSUPPORT) {
				slog.Warn("p4 multicast JoinGroup failed", "err", err, "iface", ifi.Name)
			}
			continue
		}

		joined++
	}

	if joined == 0 {
		conn.Close()
		return nil, errors.New("could not join the mdns group on any interface")
	}

	if err := p4.SetMulticastLoopback(true); err != nil {
		conn.Close()
		return nil, fmt.Errorf("cannot set multicast loopback: %w", err)
	}

	if err := p4.SetMulticastTTL(255); err != nil {
		conn.Close()
		return nil, fmt.Errorf("cannot set Multicast TTL: %w", err)
	}

	return conn, nil
}
