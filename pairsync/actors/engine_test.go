package actors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/LukaGiorgadze/gonull"
	"github.com/edup2p/nearby/types/ifaces"
	"github.com/edup2p/nearby/types/msgactor"
	"github.com/edup2p/nearby/types/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartSearch(t *testing.T) {
	h := newHarness(t, nil)

	assert.Equal(t, State{Kind: Idle}, h.e.state)

	require.NoError(t, h.startSearch())
	assert.Equal(t, State{Kind: Discovering}, h.e.state)
	assert.True(t, h.adv.isRunning())
	assert.True(t, h.br.isRunning())

	// idempotent
	require.NoError(t, h.startSearch())
	assert.Equal(t, 1, h.adv.starts)
	assert.Equal(t, 1, h.br.starts)
}

func TestStartSearchUnavailable(t *testing.T) {
	h := newHarness(t, nil)
	h.br.err = fmt.Errorf("%w: no multicast", ifaces.ErrTransportUnavailable)

	err := h.startSearch()
	assert.ErrorIs(t, err, ifaces.ErrTransportUnavailable)
	assert.Equal(t, State{Kind: Idle}, h.e.state)

	// what did start is stopped again
	assert.False(t, h.adv.isRunning())

	h.br.err = nil
	assert.NoError(t, h.startSearch())
	assert.Equal(t, State{Kind: Discovering}, h.e.state)
}

func TestAutomaticInvitesOneAtATime(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.startSearch())

	h.found("bbb", "ccc", "ddd")
	assert.Equal(t, State{Kind: Inviting, Peer: "bbb"}, h.e.state)
	assert.Equal(t, []peer.ID{"bbb"}, h.tr.invited())
	assert.Equal(t, []peer.ID{"ccc", "ddd"}, h.e.queue.list())

	// repeated sightings keep their place
	h.found("ddd", "ccc", "bbb")
	assert.Equal(t, []peer.ID{"ccc", "ddd"}, h.e.queue.list())
	assert.Equal(t, []peer.ID{"bbb"}, h.tr.invited())

	h.resolve("bbb", peer.Rejected)
	assert.Equal(t, State{Kind: Inviting, Peer: "ccc"}, h.e.state)

	h.resolve("ccc", peer.TimedOut)
	assert.Equal(t, State{Kind: Inviting, Peer: "ddd"}, h.e.state)

	h.resolve("ddd", peer.Accepted)
	assert.Equal(t, State{Kind: Connected, Peer: "ddd"}, h.e.state)
	assert.Equal(t, []peer.ID{"bbb", "ccc", "ddd"}, h.tr.invited())

	assert.True(t, h.e.remembered.Valid)
	assert.Equal(t, peer.ID("ddd"), h.e.remembered.Val)

	// discovery is paused while paired
	assert.False(t, h.adv.isRunning())
	assert.False(t, h.br.isRunning())
}

func TestInviteFailureMovesOn(t *testing.T) {
	h := newHarness(t, nil)
	h.tr.inviteErr["bbb"] = ifaces.ErrUnknownPeer
	require.NoError(t, h.startSearch())

	h.found("bbb", "ccc")
	assert.Equal(t, State{Kind: Inviting, Peer: "ccc"}, h.e.state)
}

func TestScenarioConnect(t *testing.T) {
	h := newHarness(t, nil)
	h.connect("bbb")

	h.e.publish()
	snap := h.e.Snapshot()
	assert.Equal(t, State{Kind: Connected, Peer: "bbb"}, snap.State)
	assert.Equal(t, gonull.NewNullable[peer.ID]("bbb"), snap.Remembered)

	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]stateEvent{{"bbb", peer.Connected}}, h.obs.seenStates())
	}, assertEventuallyTimeout, assertEventuallyTick)
}

func TestSendRequiresConnection(t *testing.T) {
	h := newHarness(t, nil)

	assert.ErrorIs(t, h.send([]byte("x")), ifaces.ErrNotConnected)

	require.NoError(t, h.startSearch())
	assert.ErrorIs(t, h.send([]byte("x")), ifaces.ErrNotConnected)

	h.found("bbb")
	assert.ErrorIs(t, h.send([]byte("x")), ifaces.ErrNotConnected)

	h.resolve("bbb", peer.Accepted)
	assert.NoError(t, h.send([]byte("x")))
	assert.Equal(t, [][]byte{[]byte("x")}, h.tr.sent)

	h.tr.sendErr = errors.New("broken pipe")
	assert.EqualError(t, h.send([]byte("y")), "broken pipe")
}

func TestReconnectPrefersRemembered(t *testing.T) {
	h := newHarness(t, nil)
	h.connect("aaa")

	h.handle(msgactor.StateChanged{Peer: "aaa", State: peer.Disconnected})
	assert.Equal(t, State{Kind: Discovering}, h.e.state)
	assert.Equal(t, peer.ID("aaa"), h.e.remembered.Val)
	assert.True(t, h.adv.isRunning())
	assert.True(t, h.br.isRunning())

	// bbb shows up first, but is held back
	h.found("bbb")
	assert.Equal(t, State{Kind: Discovering}, h.e.state)

	h.found("aaa")
	assert.Equal(t, State{Kind: Inviting, Peer: "aaa"}, h.e.state)
	assert.Equal(t, []peer.ID{"aaa", "aaa"}, h.tr.invited())

	h.resolve("aaa", peer.Accepted)
	assert.Equal(t, State{Kind: Connected, Peer: "aaa"}, h.e.state)

	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]stateEvent{
			{"aaa", peer.Connected},
			{"aaa", peer.Disconnected},
		}, h.obs.seenStates())
	}, assertEventuallyTimeout, assertEventuallyTick)
}

func TestReconnectGraceExpires(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.ReconnectGrace = 10 * time.Millisecond
	})
	h.connect("aaa")

	h.handle(msgactor.StateChanged{Peer: "aaa", State: peer.Disconnected})
	h.found("bbb")
	assert.Equal(t, State{Kind: Discovering}, h.e.state)

	assert.IsType(t, msgactor.GraceExpired{}, h.step())
	assert.Equal(t, State{Kind: Inviting, Peer: "bbb"}, h.e.state)
}

func TestStaleGraceIgnored(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Remembered = gonull.NewNullable[peer.ID]("aaa")
	})
	require.NoError(t, h.startSearch())
	h.found("bbb")

	h.handle(msgactor.GraceExpired{Seq: h.e.graceSeq + 1})
	assert.Equal(t, State{Kind: Discovering}, h.e.state)

	h.handle(msgactor.GraceExpired{Seq: h.e.graceSeq})
	assert.Equal(t, State{Kind: Inviting, Peer: "bbb"}, h.e.state)
}

func TestSeededRememberedWins(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Remembered = gonull.NewNullable[peer.ID]("aaa")
	})
	require.NoError(t, h.startSearch())

	h.found("bbb", "ccc", "aaa")
	assert.Equal(t, State{Kind: Inviting, Peer: "aaa"}, h.e.state)

	// once the remembered peer did not work out, the rest go in order
	h.resolve("aaa", peer.Rejected)
	assert.Equal(t, State{Kind: Discovering}, h.e.state, "others are still held during the grace")
	h.handle(msgactor.GraceExpired{Seq: h.e.graceSeq})
	assert.Equal(t, State{Kind: Inviting, Peer: "bbb"}, h.e.state)
}

func TestInboundAutomatic(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.startSearch())

	h.handle(msgactor.InvitationReceived{From: "xxx", Handle: 1})
	assert.Equal(t, State{Kind: Accepting, Peer: "xxx"}, h.e.state)
	assert.Equal(t, []peer.Handle{1}, h.tr.accepted)

	h.handle(msgactor.StateChanged{Peer: "xxx", State: peer.Connected})
	assert.Equal(t, State{Kind: Connected, Peer: "xxx"}, h.e.state)
	assert.Equal(t, peer.ID("xxx"), h.e.remembered.Val)
	assert.False(t, h.br.isRunning())
}

func TestAcceptedSessionFailsToComeUp(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.startSearch())

	h.handle(msgactor.InvitationReceived{From: "xxx", Handle: 1})
	h.handle(msgactor.StateChanged{Peer: "xxx", State: peer.Disconnected})
	assert.Equal(t, State{Kind: Discovering}, h.e.state)
	assert.False(t, h.e.remembered.Valid)
}

func TestInvitationWhileBusyRejected(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.startSearch())
	h.found("bbb")

	h.handle(msgactor.InvitationReceived{From: "ccc", Handle: 2})
	assert.Equal(t, State{Kind: Inviting, Peer: "bbb"}, h.e.state)
	assert.Equal(t, []peer.Handle{2}, h.tr.rejected)

	h.resolve("bbb", peer.Accepted)
	h.handle(msgactor.InvitationReceived{From: "ccc", Handle: 3})
	assert.Equal(t, []peer.Handle{2, 3}, h.tr.rejected)

	// idle takes nothing either
	h.unPair()
	h.handle(msgactor.InvitationReceived{From: "ccc", Handle: 4})
	assert.Equal(t, []peer.Handle{2, 3, 4}, h.tr.rejected)
}

func TestMutualInvite(t *testing.T) {
	t.Run("greater accepts", func(t *testing.T) {
		h := newHarness(t, nil)
		require.NoError(t, h.startSearch())
		h.found("aaa")

		h.handle(msgactor.InvitationReceived{From: "aaa", Handle: 1})
		assert.Equal(t, []peer.ID{"aaa"}, h.tr.cancelled)
		assert.Equal(t, []peer.Handle{1}, h.tr.accepted)
		assert.Equal(t, State{Kind: Accepting, Peer: "aaa"}, h.e.state)

		// our cancelled invite can no longer move us
		h.resolve("aaa", peer.Rejected)
		assert.Equal(t, State{Kind: Accepting, Peer: "aaa"}, h.e.state)
	})

	t.Run("lesser keeps its invite", func(t *testing.T) {
		h := newHarness(t, nil)
		require.NoError(t, h.startSearch())
		h.found("zzz")

		h.handle(msgactor.InvitationReceived{From: "zzz", Handle: 1})
		assert.Empty(t, h.tr.cancelled)
		assert.Equal(t, []peer.Handle{1}, h.tr.rejected)
		assert.Equal(t, State{Kind: Inviting, Peer: "zzz"}, h.e.state)
	})
}

func TestManualCandidate(t *testing.T) {
	d := &fixedDecider{candidate: true}
	h := newHarness(t, func(c *Config) {
		c.Automatic = false
		c.Decider = d
	})
	require.NoError(t, h.startSearch())

	h.found("bbb", "ccc")
	assert.Equal(t, State{Kind: AwaitingLocalConfirmation, Peer: "bbb"}, h.e.state)
	assert.Empty(t, h.tr.invited())

	assert.Equal(t, msgactor.CandidateDecision{Peer: "bbb", Accept: true}, h.step())
	assert.Equal(t, State{Kind: Inviting, Peer: "bbb"}, h.e.state)
	assert.Equal(t, []peer.ID{"bbb"}, h.tr.invited())

	// declining moves on to the next candidate
	d.candidate = false
	h.resolve("bbb", peer.Rejected)
	assert.Equal(t, State{Kind: AwaitingLocalConfirmation, Peer: "ccc"}, h.e.state)
	assert.Equal(t, msgactor.CandidateDecision{Peer: "ccc", Accept: false}, h.step())
	assert.Equal(t, State{Kind: Discovering}, h.e.state)
	assert.Equal(t, []peer.ID{"bbb"}, h.tr.invited())

	// stale
	h.handle(msgactor.CandidateDecision{Peer: "ccc", Accept: true})
	assert.Equal(t, State{Kind: Discovering}, h.e.state)
}

func TestManualCandidateLost(t *testing.T) {
	gate := make(chan bool)
	h := newHarness(t, func(c *Config) {
		c.Automatic = false
		c.Decider = &fixedDecider{candGate: gate}
	})
	t.Cleanup(func() { close(gate) })
	require.NoError(t, h.startSearch())

	h.found("bbb", "ccc", "ddd")
	h.handle(msgactor.PeerLost{Peer: "ccc"})
	assert.Equal(t, []peer.ID{"ddd"}, h.e.queue.list())

	h.handle(msgactor.PeerLost{Peer: "bbb"})
	assert.Equal(t, State{Kind: AwaitingLocalConfirmation, Peer: "ddd"}, h.e.state)
}

func TestManualIgnoresRemembered(t *testing.T) {
	gate := make(chan bool, 1)
	h := newHarness(t, func(c *Config) {
		c.Automatic = false
		c.Decider = &fixedDecider{candGate: gate}
		c.Remembered = gonull.NewNullable[peer.ID]("aaa")
	})
	t.Cleanup(func() { close(gate) })
	require.NoError(t, h.startSearch())
	assert.False(t, h.e.holding, "no grace in manual mode")

	h.found("bbb", "ccc", "aaa")
	assert.Equal(t, State{Kind: AwaitingLocalConfirmation, Peer: "bbb"}, h.e.state)
	assert.Equal(t, []peer.ID{"ccc", "aaa"}, h.e.queue.list())

	// the host sees candidates in the order they were found
	gate <- false
	assert.Equal(t, msgactor.CandidateDecision{Peer: "bbb", Accept: false}, h.step())
	assert.Equal(t, State{Kind: AwaitingLocalConfirmation, Peer: "ccc"}, h.e.state)
}

func TestManualInvitation(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Automatic = false
		c.Decider = &fixedDecider{invitation: true}
	})
	require.NoError(t, h.startSearch())

	h.handle(msgactor.InvitationReceived{From: "xxx", Handle: 7})
	assert.Equal(t, State{Kind: AwaitingLocalConfirmation, Peer: "xxx", Inbound: true, Handle: 7}, h.e.state)
	assert.Empty(t, h.tr.accepted)

	assert.Equal(t, msgactor.InvitationDecision{Peer: "xxx", Handle: 7, Accept: true}, h.step())
	assert.Equal(t, []peer.Handle{7}, h.tr.accepted)
	assert.Equal(t, State{Kind: Accepting, Peer: "xxx"}, h.e.state)
}

func TestManualInvitationDeclined(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Automatic = false
		c.Decider = &fixedDecider{invitation: false}
	})
	require.NoError(t, h.startSearch())

	h.handle(msgactor.InvitationReceived{From: "xxx", Handle: 7})
	h.step()
	assert.Equal(t, []peer.Handle{7}, h.tr.rejected)
	assert.Equal(t, State{Kind: Discovering}, h.e.state)
}

func TestManualInvitationExpires(t *testing.T) {
	gate := make(chan bool, 1)
	h := newHarness(t, func(c *Config) {
		c.Automatic = false
		c.Decider = &fixedDecider{invGate: gate}
		c.InviteTimeout = 10 * time.Millisecond
	})
	require.NoError(t, h.startSearch())

	h.handle(msgactor.InvitationReceived{From: "xxx", Handle: 7})

	assert.Equal(t, msgactor.InvitationExpired{Handle: 7}, h.step())
	assert.Equal(t, []peer.Handle{7}, h.tr.rejected)
	assert.Equal(t, State{Kind: Discovering}, h.e.state)

	// the host answering late changes nothing
	gate <- true
	assert.Equal(t, msgactor.InvitationDecision{Peer: "xxx", Handle: 7, Accept: true}, h.step())
	assert.Empty(t, h.tr.accepted)
	assert.Equal(t, State{Kind: Discovering}, h.e.state)
}

func TestManualCrossedWithInvitation(t *testing.T) {
	candGate := make(chan bool, 1)
	h := newHarness(t, func(c *Config) {
		c.Automatic = false
		c.Decider = &fixedDecider{candGate: candGate, invitation: true}
	})
	require.NoError(t, h.startSearch())

	h.found("bbb")
	assert.Equal(t, State{Kind: AwaitingLocalConfirmation, Peer: "bbb"}, h.e.state)

	// bbb invites us while the host is asked about bbb, the host is asked about the invitation instead
	h.handle(msgactor.InvitationReceived{From: "bbb", Handle: 3})
	assert.Equal(t, State{Kind: AwaitingLocalConfirmation, Peer: "bbb", Inbound: true, Handle: 3}, h.e.state)

	assert.Equal(t, msgactor.InvitationDecision{Peer: "bbb", Handle: 3, Accept: true}, h.step())
	assert.Equal(t, []peer.Handle{3}, h.tr.accepted)
	assert.Equal(t, State{Kind: Accepting, Peer: "bbb"}, h.e.state)

	// the answer about inviting bbb comes too late to matter
	candGate <- false
	assert.Equal(t, msgactor.CandidateDecision{Peer: "bbb", Accept: false}, h.step())
	assert.Equal(t, State{Kind: Accepting, Peer: "bbb"}, h.e.state)
	assert.Empty(t, h.tr.invited())
}

func TestUnPair(t *testing.T) {
	h := newHarness(t, nil)
	h.connect("bbb")

	h.unPair()
	assert.Equal(t, State{Kind: Idle}, h.e.state)
	assert.Equal(t, []peer.ID{"bbb"}, h.tr.disconnected)
	assert.False(t, h.e.remembered.Valid)
	assert.False(t, h.adv.isRunning())
	assert.False(t, h.br.isRunning())

	// the session going down afterwards is no news
	h.handle(msgactor.StateChanged{Peer: "bbb", State: peer.Disconnected})
	assert.Equal(t, State{Kind: Idle}, h.e.state)

	// idempotent
	h.unPair()
	assert.Equal(t, State{Kind: Idle}, h.e.state)
	assert.Equal(t, []peer.ID{"bbb"}, h.tr.disconnected)

	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]stateEvent{
			{"bbb", peer.Connected},
			{"bbb", peer.Disconnected},
		}, h.obs.seenStates())
	}, assertEventuallyTimeout, assertEventuallyTick)

	assert.ErrorIs(t, h.send(nil), ifaces.ErrNotConnected)
}

func TestUnPairWhileInviting(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.startSearch())
	h.found("bbb")

	h.unPair()
	assert.Equal(t, []peer.ID{"bbb"}, h.tr.cancelled)
	assert.Equal(t, State{Kind: Idle}, h.e.state)

	h.resolve("bbb", peer.Accepted)
	assert.Equal(t, State{Kind: Idle}, h.e.state)

	// a session that still comes up is dropped
	h.handle(msgactor.StateChanged{Peer: "bbb", State: peer.Connected})
	assert.Equal(t, []peer.ID{"bbb"}, h.tr.disconnected)
}

func TestAtMostOneSession(t *testing.T) {
	h := newHarness(t, nil)
	h.connect("aaa")

	h.handle(msgactor.StateChanged{Peer: "bbb", State: peer.Connected})
	assert.Equal(t, State{Kind: Connected, Peer: "aaa"}, h.e.state)
	assert.Equal(t, []peer.ID{"bbb"}, h.tr.disconnected)

	// found peers are not queued while paired
	h.found("ccc")
	assert.Empty(t, h.e.queue.list())
}

func TestDataOnlyWhileConnected(t *testing.T) {
	h := newHarness(t, nil)

	h.handle(msgactor.DataReceived{Peer: "aaa", Payload: []byte("early")})
	h.connect("aaa")
	h.handle(msgactor.DataReceived{Peer: "aaa", Payload: []byte("one")})
	h.handle(msgactor.DataReceived{Peer: "bbb", Payload: []byte("stranger")})
	h.handle(msgactor.DataReceived{Peer: "aaa", Payload: []byte("two")})

	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([][]byte{[]byte("one"), []byte("two")}, h.obs.seenData())
	}, assertEventuallyTimeout, assertEventuallyTick)
}

func TestRestartFailureGoesIdle(t *testing.T) {
	h := newHarness(t, nil)
	h.connect("aaa")

	h.adv.err = ifaces.ErrTransportUnavailable
	h.handle(msgactor.StateChanged{Peer: "aaa", State: peer.Disconnected})
	assert.Equal(t, State{Kind: Idle}, h.e.state)
	assert.True(t, h.e.remembered.Valid, "a failed restart keeps the remembered peer")
}

func TestRunLoop(t *testing.T) {
	adv, br := &fakeAdvertiser{}, &fakeBrowser{}
	tr := &fakeTransport{inviteErr: make(map[peer.ID]error)}

	e := NewEngine(context.Background(), Config{
		Self:       self,
		ServiceTag: "pairtest",
		Automatic:  true,
		Advertiser: adv,
		Browser:    br,
		Transport:  tr,
	})
	go e.Run()
	defer e.Cancel()

	reply := make(chan error, 1)
	e.Inbox() <- msgactor.StartSearch{Reply: reply}
	require.NoError(t, <-reply)

	e.Inbox() <- msgactor.PeerFound{Peer: peer.Record{ID: "bbb"}}
	e.Inbox() <- msgactor.InviteResolved{Peer: "bbb", Outcome: peer.Accepted}

	assert.Eventually(t, func() bool {
		return e.Snapshot().State == State{Kind: Connected, Peer: "bbb"}
	}, assertEventuallyTimeout, assertEventuallyTick)

	// running twice is refused
	e.Run()
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "Idle", State{Kind: Idle}.String())
	assert.Equal(t, "Inviting(bbb)", State{Kind: Inviting, Peer: "bbb"}.String())
	assert.Equal(t, "AwaitingLocalConfirmation(bbb)", State{Kind: AwaitingLocalConfirmation, Peer: "bbb"}.String())
	assert.Equal(t, "AwaitingLocalConfirmation(bbb, invitation 4)", State{Kind: AwaitingLocalConfirmation, Peer: "bbb", Inbound: true, Handle: 4}.String())
}
