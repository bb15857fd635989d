package actors

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/edup2p/nearby/types/ifaces"
	"github.com/edup2p/nearby/types/msgactor"
	"github.com/edup2p/nearby/types/peer"
	"github.com/stretchr/testify/require"
)

// Test constants
const assertEventuallyTick time.Duration = 1 * time.Millisecond
const assertEventuallyTimeout time.Duration = 1000 * assertEventuallyTick

const self peer.ID = "mmm"

type fakeAdvertiser struct {
	mu      sync.Mutex
	running bool
	starts  int
	err     error
}

func (f *fakeAdvertiser) StartAdvertising(peer.ID, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return f.err
	}
	if !f.running {
		f.starts++
	}
	f.running = true
	return nil
}

func (f *fakeAdvertiser) StopAdvertising() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.running = false
}

func (f *fakeAdvertiser) isRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.running
}

type fakeBrowser struct {
	mu      sync.Mutex
	running bool
	starts  int
	err     error
}

func (f *fakeBrowser) StartBrowsing(string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return f.err
	}
	if !f.running {
		f.starts++
	}
	f.running = true
	return nil
}

func (f *fakeBrowser) StopBrowsing() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.running = false
}

func (f *fakeBrowser) Lookup(peer.ID) (peer.Record, bool) { return peer.Record{}, false }

func (f *fakeBrowser) Peers() []peer.Record { return nil }

func (f *fakeBrowser) isRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.running
}

type fakeTransport struct {
	mu sync.Mutex

	inviteErr map[peer.ID]error

	invites      []peer.ID
	cancelled    []peer.ID
	accepted     []peer.Handle
	rejected     []peer.Handle
	sent         [][]byte
	disconnected []peer.ID

	sendErr error
}

func (f *fakeTransport) Invite(target peer.ID, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.inviteErr[target]; err != nil {
		return err
	}
	f.invites = append(f.invites, target)
	return nil
}

func (f *fakeTransport) CancelInvite(target peer.ID) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.cancelled = append(f.cancelled, target)
}

func (f *fakeTransport) AcceptInvitation(h peer.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.accepted = append(f.accepted, h)
	return nil
}

func (f *fakeTransport) RejectInvitation(h peer.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.rejected = append(f.rejected, h)
	return nil
}

func (f *fakeTransport) Send(_ peer.ID, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, payload)
	return nil
}

func (f *fakeTransport) Disconnect(p peer.ID) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.disconnected = append(f.disconnected, p)
}

func (f *fakeTransport) invited() []peer.ID {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]peer.ID(nil), f.invites...)
}

type stateEvent struct {
	Peer  peer.ID
	State peer.ConnState
}

type recordingObserver struct {
	mu     sync.Mutex
	states []stateEvent
	data   [][]byte
}

func (r *recordingObserver) ConnectionStateChanged(p peer.ID, s peer.ConnState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.states = append(r.states, stateEvent{p, s})
}

func (r *recordingObserver) DataReceived(_ peer.ID, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.data = append(r.data, payload)
}

func (r *recordingObserver) seenStates() []stateEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]stateEvent(nil), r.states...)
}

func (r *recordingObserver) seenData() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([][]byte(nil), r.data...)
}

// fixedDecider answers every question of a kind the same, unless a gate is set for it,
// in which case it waits for an answer on the gate.
type fixedDecider struct {
	candidate  bool
	invitation bool

	candGate chan bool
	invGate  chan bool
}

func (d *fixedDecider) CandidateFound(peer.ID) bool {
	if d.candGate != nil {
		return <-d.candGate
	}
	return d.candidate
}

func (d *fixedDecider) InvitationReceived(peer.ID) bool {
	if d.invGate != nil {
		return <-d.invGate
	}
	return d.invitation
}

var _ ifaces.Decider = (*fixedDecider)(nil)

// harness drives an engine by calling Handle directly, and reads what it posts to itself
// off its inbox, so every step is deterministic.
type harness struct {
	t *testing.T

	e   *Engine
	adv *fakeAdvertiser
	br  *fakeBrowser
	tr  *fakeTransport
	obs *recordingObserver
}

func newHarness(t *testing.T, tweak func(*Config)) *harness {
	h := &harness{
		t:   t,
		adv: &fakeAdvertiser{},
		br:  &fakeBrowser{},
		tr:  &fakeTransport{inviteErr: make(map[peer.ID]error)},
		obs: &recordingObserver{},
	}

	cfg := Config{
		Self:           self,
		ServiceTag:     "pairtest",
		Automatic:      true,
		InviteTimeout:  time.Hour,
		ReconnectGrace: time.Hour,
		Observer:       h.obs,
		Advertiser:     h.adv,
		Browser:        h.br,
		Transport:      h.tr,
	}
	if tweak != nil {
		tweak(&cfg)
	}

	h.e = NewEngine(context.Background(), cfg)
	go h.e.notify.run()

	t.Cleanup(func() {
		h.e.Cancel()
		h.e.Close()
	})

	return h
}

func (h *harness) handle(msgs ...msgactor.ActorMessage) {
	for _, m := range msgs {
		h.e.Handle(m)
	}
}

func (h *harness) startSearch() error {
	reply := make(chan error, 1)
	h.handle(msgactor.StartSearch{Reply: reply})
	return <-reply
}

func (h *harness) unPair() {
	reply := make(chan struct{})
	h.handle(msgactor.UnPair{Reply: reply})
	<-reply
}

func (h *harness) send(payload []byte) error {
	reply := make(chan error, 1)
	h.handle(msgactor.Send{Payload: payload, Reply: reply})
	return <-reply
}

func (h *harness) found(ids ...peer.ID) {
	for _, id := range ids {
		h.handle(msgactor.PeerFound{Peer: peer.Record{ID: id}})
	}
}

func (h *harness) resolve(p peer.ID, o peer.Outcome) {
	h.handle(msgactor.InviteResolved{Peer: p, Outcome: o})
}

// connect brings the engine from Idle to Connected(p), through an outbound invite.
func (h *harness) connect(p peer.ID) {
	require.NoError(h.t, h.startSearch())
	h.found(p)
	require.Equal(h.t, State{Kind: Inviting, Peer: p}, h.e.state)
	h.resolve(p, peer.Accepted)
	h.handle(msgactor.StateChanged{Peer: p, State: peer.Connected})
	require.Equal(h.t, State{Kind: Connected, Peer: p}, h.e.state)
}

// posted returns the next message the engine posted to itself.
func (h *harness) posted() msgactor.ActorMessage {
	h.t.Helper()

	select {
	case m := <-h.e.inbox:
		return m
	case <-time.After(assertEventuallyTimeout):
		h.t.Fatal("engine did not post a message")
		return nil
	}
}

// step handles the next message the engine posted to itself.
func (h *harness) step() msgactor.ActorMessage {
	m := h.posted()
	h.handle(m)
	return m
}
