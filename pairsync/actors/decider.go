package actors

import (
	"github.com/edup2p/nearby/types/ifaces"
	"github.com/edup2p/nearby/types/peer"
)

// AutoDecider says yes to everything.
type AutoDecider struct{}

var _ ifaces.Decider = AutoDecider{}

func (AutoDecider) CandidateFound(peer.ID) bool { return true }

func (AutoDecider) InvitationReceived(peer.ID) bool { return true }

// NopObserver drops every notification.
type NopObserver struct{}

var _ ifaces.Observer = NopObserver{}

func (NopObserver) ConnectionStateChanged(peer.ID, peer.ConnState) {}

func (NopObserver) DataReceived(peer.ID, []byte) {}
