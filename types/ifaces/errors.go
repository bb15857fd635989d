package ifaces

import "errors"

var (
	// ErrTransportUnavailable means the local network stack could not bind; discovery cannot start.
	ErrTransportUnavailable = errors.New("transport unavailable")

	ErrInviteAlreadyPending = errors.New("invite already pending")

	ErrHandleAlreadyResolved = errors.New("invitation handle already resolved")

	ErrNotConnected = errors.New("not connected")

	// ErrUnknownPeer means discovery has no endpoint for the peer.
	ErrUnknownPeer = errors.New("unknown peer")

	ErrUnknownHandle = errors.New("unknown invitation handle")

	ErrClosed = errors.New("closed")
)
