package discovery

import (
	"net"
	"net/netip"
	"os"
	"sync"
	"time"

	"github.com/edup2p/nearby/types"
)

const memBusQueueLen = 64

// MemoryBus is an in-process stand-in for a multicast segment, for tests and
// single-process simulations. Every packet written by one socket is delivered to
// every open socket on the bus, including the writer, like multicast loopback.
type MemoryBus struct {
	mu    sync.Mutex
	conns map[*memConn]struct{}
	next  uint16
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{conns: make(map[*memConn]struct{})}
}

// Opener returns an Opener creating sockets on this bus.
//
// All sockets appear to be on 127.0.0.1, so announced ports are reachable on loopback.
func (b *MemoryBus) Opener() Opener {
	return func() (types.UDPConn, error) {
		b.mu.Lock()
		defer b.mu.Unlock()

		b.next++
		c := &memConn{
			bus:    b,
			addr:   netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), 40000+b.next),
			in:     make(chan recvFrame, memBusQueueLen),
			closed: make(chan struct{}),
		}
		b.conns[c] = struct{}{}

		return c, nil
	}
}

// Open counts the sockets currently open on the bus.
func (b *MemoryBus) Open() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.conns)
}

func (b *MemoryBus) deliver(from netip.AddrPort, pkt []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for c := range b.conns {
		select {
		case c.in <- recvFrame{pkt: append([]byte(nil), pkt...), src: from}:
		default:
			// full; multicast is lossy anyway
		}
	}
}

type memConn struct {
	bus  *MemoryBus
	addr netip.AddrPort

	in chan recvFrame

	closeOnce sync.Once
	closed    chan struct{}

	mu       sync.Mutex
	deadline time.Time
}

func (c *memConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.deadline = t
	return nil
}

func (c *memConn) ReadFromUDPAddrPort(b []byte) (int, netip.AddrPort, error) {
	c.mu.Lock()
	deadline := c.deadline
	c.mu.Unlock()

	var timeout <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case f := <-c.in:
		return copy(b, f.pkt), f.src, nil
	case <-c.closed:
		return 0, netip.AddrPort{}, net.ErrClosed
	case <-timeout:
		return 0, netip.AddrPort{}, os.ErrDeadlineExceeded
	}
}

func (c *memConn) WriteToUDPAddrPort(b []byte, _ netip.AddrPort) (int, error) {
	select {
	case <-c.closed:
		return 0, net.ErrClosed
	default:
	}

	c.bus.deliver(c.addr, b)
	return len(b), nil
}

func (c *memConn) Close() error {
	c.closeOnce.Do(func() {
		c.bus.mu.Lock()
		delete(c.bus.conns, c)
		c.bus.mu.Unlock()

		close(c.closed)
	})
	return nil
}
