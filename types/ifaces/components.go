package ifaces

import (
	"net"
	"time"

	"github.com/edup2p/nearby/types/peer"
)

// Advertiser announces the local identity under a service tag, and takes in invitations.
//
// Inbound invitations are posted to the engine as msgactor.InvitationReceived.
type Advertiser interface {
	// StartAdvertising is idempotent while advertising.
	// Returns ErrTransportUnavailable if the network stack cannot bind.
	StartAdvertising(id peer.ID, serviceTag string) error

	// StopAdvertising is safe to call when not advertising.
	StopAdvertising()
}

// Browser scans for peers advertising the same service tag.
//
// Results are posted to the engine as msgactor.PeerFound and msgactor.PeerLost.
type Browser interface {
	StartBrowsing(serviceTag string) error

	StopBrowsing()

	Lookup(id peer.ID) (peer.Record, bool)

	Peers() []peer.Record
}

// Transport negotiates sessions and moves payloads once connected.
//
// Outcomes and state changes are posted to the engine as msgactor.InviteResolved,
// msgactor.StateChanged and msgactor.DataReceived.
type Transport interface {
	// Invite starts a handshake with target and returns immediately.
	// Returns ErrInviteAlreadyPending if an invite to target is still outstanding.
	Invite(target peer.ID, timeout time.Duration) error

	// CancelInvite abandons an outstanding invite, no outcome is reported for it.
	CancelInvite(target peer.ID)

	AcceptInvitation(h peer.Handle) error
	RejectInvitation(h peer.Handle) error

	// Send delivers payload at most once. Returns ErrNotConnected without a session.
	Send(to peer.ID, payload []byte) error

	// Disconnect is idempotent.
	Disconnect(p peer.ID)
}

// InboundHandler takes over connections accepted by the advertiser's listener.
type InboundHandler interface {
	ServeInbound(conn net.Conn)
}

// Resolver maps an identity to what discovery knows about it.
type Resolver interface {
	Lookup(id peer.ID) (peer.Record, bool)
}
