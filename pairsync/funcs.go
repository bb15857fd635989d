package pairsync

import (
	"github.com/edup2p/nearby/types/ifaces"
	"github.com/edup2p/nearby/types/peer"
)

// FuncDecider adapts two closures to ifaces.Decider. A nil closure answers yes.
type FuncDecider struct {
	Candidate  func(id string) bool
	Invitation func(id string) bool
}

var _ ifaces.Decider = FuncDecider{}

func (f FuncDecider) CandidateFound(id peer.ID) bool {
	if f.Candidate == nil {
		return true
	}
	return f.Candidate(string(id))
}

func (f FuncDecider) InvitationReceived(id peer.ID) bool {
	if f.Invitation == nil {
		return true
	}
	return f.Invitation(string(id))
}

// FuncObserver adapts two closures to ifaces.Observer. Nil closures are skipped.
type FuncObserver struct {
	StateChanged func(id string, state peer.ConnState)
	Data         func(id string, payload []byte)
}

var _ ifaces.Observer = FuncObserver{}

func (f FuncObserver) ConnectionStateChanged(id peer.ID, state peer.ConnState) {
	if f.StateChanged != nil {
		f.StateChanged(string(id), state)
	}
}

func (f FuncObserver) DataReceived(id peer.ID, payload []byte) {
	if f.Data != nil {
		f.Data(string(id), payload)
	}
}
