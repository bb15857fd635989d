package discovery

import (
	"fmt"
	"net"
	"net/netip"

	"go4.org/netipx"
)

// LocalScope builds the set of addresses considered to be on this host's local segments:
// every prefix assigned to an interface that is up, plus loopback.
func LocalScope() (*netipx.IPSet, error) {
	var b netipx.IPSetBuilder

	b.AddPrefix(netip.MustParsePrefix("127.0.0.0/8"))
	b.AddPrefix(netip.MustParsePrefix("::1/128"))

	ift, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("cannot get interfaces: %w", err)
	}

	for _, ifi := range ift {
		if ifi.Flags&net.FlagUp == 0 {
			continue
		}

		addrs, err := ifi.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}

			prefix, ok := netipx.FromStdIPNet(ipNet)
			if !ok {
				continue
			}

			b.AddPrefix(prefix.Masked())
		}
	}

	return b.IPSet()
}

func inScopeFunc(set *netipx.IPSet) func(netip.Addr) bool {
	return func(addr netip.Addr) bool {
		return set.Contains(addr.Unmap())
	}
}
