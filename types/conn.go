package types

import (
	"net/netip"
	"time"
)

// UDPConn is the packet socket the discovery components read from and write to.
//
// *net.UDPConn satisfies it; tests substitute an in-memory bus.
type UDPConn interface {
	SetReadDeadline(t time.Time) error

	ReadFromUDPAddrPort(b []byte) (n int, addr netip.AddrPort, err error)

	WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error)

	Close() error
}

type UDPConnCloseCatcher struct {
	UDPConn

	Closed bool
}

func (c *UDPConnCloseCatcher) Close() error {
	c.Closed = true

	return c.UDPConn.Close()
}
