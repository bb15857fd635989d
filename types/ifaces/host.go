package ifaces

import "github.com/edup2p/nearby/types/peer"

// Decider makes the pairing decisions that are not automatic.
//
// Calls happen off the engine goroutine and may block until the host decides.
type Decider interface {
	// CandidateFound asks whether to invite a discovered peer.
	CandidateFound(id peer.ID) bool

	// InvitationReceived asks whether to accept an invitation from a peer.
	InvitationReceived(id peer.ID) bool
}

// Observer functions as a state observer for the engine, allowing the host to follow
// connection state and receive payloads.
//
// Calls are made in order from a single goroutine.
type Observer interface {
	ConnectionStateChanged(p peer.ID, state peer.ConnState)

	DataReceived(p peer.ID, payload []byte)
}
