package actors

import (
	"fmt"

	"github.com/edup2p/nearby/types/peer"
)

type Kind byte

const (
	Idle Kind = iota
	Discovering
	Inviting
	AwaitingLocalConfirmation
	Accepting
	Connected
	Disconnecting
)

func (k Kind) String() string {
	switch k {
	case Idle:
		return "Idle"
	case Discovering:
		return "Discovering"
	case Inviting:
		return "Inviting"
	case AwaitingLocalConfirmation:
		return "AwaitingLocalConfirmation"
	case Accepting:
		return "Accepting"
	case Connected:
		return "Connected"
	case Disconnecting:
		return "Disconnecting"
	default:
		return fmt.Sprintf("Kind(%d)", byte(k))
	}
}

// State is the pairing state. Peer is set for every kind but Idle and Discovering.
type State struct {
	Kind Kind

	Peer peer.ID

	// Set when AwaitingLocalConfirmation is about an invitation we received,
	// as opposed to a candidate we found.
	Inbound bool

	// The held invitation, when Inbound.
	Handle peer.Handle
}

func (s State) String() string {
	switch s.Kind {
	case Idle, Discovering:
		return s.Kind.String()
	case AwaitingLocalConfirmation:
		if s.Inbound {
			return fmt.Sprintf("%s(%s, invitation %d)", s.Kind, s.Peer, s.Handle)
		}
		fallthrough
	default:
		return fmt.Sprintf("%s(%s)", s.Kind, s.Peer)
	}
}

func (s State) is(k Kind, p peer.ID) bool {
	return s.Kind == k && s.Peer == p
}
