// Package msgactor contains every message the pairing engine's inbox accepts.
//
// Events come from the discovery and transport components, commands come from the facade,
// and decisions/timers are posted back by the engine itself.
package msgactor

import (
	"github.com/edup2p/nearby/types/peer"
)

type ActorMessage interface{}

// ======================================================================================================
// Browser events

type PeerFound struct {
	Peer peer.Record
}

type PeerLost struct {
	Peer peer.ID
}

// ======================================================================================================
// Advertiser events

// InvitationReceived must eventually be resolved through the transport, with the handle.
type InvitationReceived struct {
	From peer.ID

	Handle peer.Handle
}

// ======================================================================================================
// Transport events

type StateChanged struct {
	Peer peer.ID

	State peer.ConnState
}

type DataReceived struct {
	Peer peer.ID

	Payload []byte
}

// InviteResolved reports the outcome of an earlier Transport.Invite.
type InviteResolved struct {
	Peer peer.ID

	Outcome peer.Outcome

	// Optional detail on why an invite did not get accepted, for logging.
	Err error
}

// ======================================================================================================
// Host decisions and timers, posted by the engine to itself

type CandidateDecision struct {
	Peer peer.ID

	Accept bool
}

type InvitationDecision struct {
	Peer peer.ID

	Handle peer.Handle

	Accept bool
}

type InvitationExpired struct {
	Handle peer.Handle
}

type GraceExpired struct {
	Seq uint64
}

// ======================================================================================================
// Facade commands

type StartSearch struct {
	Reply chan<- error
}

type UnPair struct {
	Reply chan<- struct{}
}

type Send struct {
	Payload []byte

	Reply chan<- error
}
