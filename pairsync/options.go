package pairsync

import (
	"net/netip"
	"time"

	"github.com/edup2p/nearby/discovery"
	"github.com/edup2p/nearby/pairsync/actors"
	"github.com/edup2p/nearby/types/ifaces"
)

const DefaultServiceTag = "pairsync"

type Options struct {
	// Our identity, generated when empty.
	ID string

	// Only instances using the same tag see each other.
	ServiceTag string

	// Invite every peer found and accept every invitation. Otherwise, Decider is asked.
	Automatic bool

	InviteTimeout  time.Duration
	ReconnectGrace time.Duration

	// A previously paired peer to prefer, e.g. persisted by the host from RememberedPeer.
	Remembered string

	Decider  ifaces.Decider
	Observer ifaces.Observer

	// Network

	// Creates mDNS sockets, defaults to discovery.ListenMulticast.
	MDNS discovery.Opener

	// Address for the invitation listener, defaults to all interfaces with a random port.
	ListenAddr string

	AnnounceInterval time.Duration
	QueryInterval    time.Duration
	PeerLiveness     time.Duration

	// Reports whether an announcement source is acceptable, defaults to the local segments.
	InScope func(netip.Addr) bool

	KeepaliveInterval time.Duration
	IdleTimeout       time.Duration
}

func (o *Options) SetDefaults() {
	if o.ServiceTag == "" {
		o.ServiceTag = DefaultServiceTag
	}
	if o.InviteTimeout == 0 {
		o.InviteTimeout = actors.DefaultInviteTimeout
	}
	if o.ReconnectGrace == 0 {
		o.ReconnectGrace = actors.DefaultReconnectGrace
	}
	if o.Automatic || o.Decider == nil {
		o.Decider = actors.AutoDecider{}
	}
	if o.Observer == nil {
		o.Observer = actors.NopObserver{}
	}
	if o.AnnounceInterval == 0 {
		o.AnnounceInterval = discovery.DefaultAnnounceInterval
	}
	if o.PeerLiveness == 0 {
		o.PeerLiveness = 3 * o.AnnounceInterval
	}
}
