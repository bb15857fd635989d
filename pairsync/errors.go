package pairsync

import "github.com/edup2p/nearby/types/ifaces"

var (
	ErrTransportUnavailable  = ifaces.ErrTransportUnavailable
	ErrInviteAlreadyPending  = ifaces.ErrInviteAlreadyPending
	ErrHandleAlreadyResolved = ifaces.ErrHandleAlreadyResolved
	ErrNotConnected          = ifaces.ErrNotConnected
	ErrUnknownPeer           = ifaces.ErrUnknownPeer
	ErrClosed                = ifaces.ErrClosed
)
