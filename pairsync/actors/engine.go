// Package actors contains the pairing engine: a single actor that owns the pairing state,
// and applies discovery, transport and host events to it one at a time.
package actors

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/LukaGiorgadze/gonull"
	"github.com/edup2p/nearby/types"
	"github.com/edup2p/nearby/types/ifaces"
	"github.com/edup2p/nearby/types/msgactor"
	"github.com/edup2p/nearby/types/peer"
)

type Config struct {
	Self peer.ID

	ServiceTag string

	// Invite every candidate and accept every invitation, without asking the Decider.
	Automatic bool

	InviteTimeout time.Duration

	// How long other candidates are held back after discovery (re)starts,
	// so a remembered peer gets a chance to show up first.
	ReconnectGrace time.Duration

	// Seeds the remembered peer.
	Remembered gonull.Nullable[peer.ID]

	Decider  ifaces.Decider
	Observer ifaces.Observer

	Advertiser ifaces.Advertiser
	Browser    ifaces.Browser
	Transport  ifaces.Transport
}

func (c *Config) SetDefaults() {
	if c.InviteTimeout == 0 {
		c.InviteTimeout = DefaultInviteTimeout
	}
	if c.ReconnectGrace == 0 {
		c.ReconnectGrace = DefaultReconnectGrace
	}
	if c.Decider == nil {
		c.Decider = AutoDecider{}
	}
	if c.Observer == nil {
		c.Observer = NopObserver{}
	}
}

// Snapshot is what the engine publishes after every message it handled.
type Snapshot struct {
	State State

	Remembered gonull.Nullable[peer.ID]

	// Candidates that are queued to be tried, in order.
	Pending []peer.ID
}

// Engine is the pairing state machine.
//
// Every event, command and timer reaches it through its inbox, and is handled to completion
// before the next one; nothing else touches the state.
type Engine struct {
	*ActorCommon

	cfg Config

	state      State
	remembered gonull.Nullable[peer.ID]
	queue      candidates

	// advertiser and browser are running
	searching bool

	// other candidates are held back until the grace with this sequence expires
	holding  bool
	graceSeq uint64

	timerMu sync.Mutex
	timers  map[*time.Timer]struct{}

	notify *notifier

	snapMu sync.RWMutex
	snap   Snapshot

	stopped chan struct{}
}

func NewEngine(ctx context.Context, cfg Config) *Engine {
	cfg.SetDefaults()

	e := &Engine{
		ActorCommon: MakeCommon(ctx, EngineInboxChLen),
		cfg:         cfg,
		remembered:  cfg.Remembered,
		timers:      make(map[*time.Timer]struct{}),
		stopped:     make(chan struct{}),
	}

	e.notify = newNotifier(e.ctx, cfg.Observer)
	e.publish()

	return e
}

// Attach sets the components the engine drives. They post into Inbox, so they are
// usually built after the engine; Attach must be called before Run.
func (e *Engine) Attach(adv ifaces.Advertiser, br ifaces.Browser, tr ifaces.Transport) {
	e.cfg.Advertiser = adv
	e.cfg.Browser = br
	e.cfg.Transport = tr
}

func (e *Engine) Run() {
	defer func() {
		if v := recover(); v != nil {
			L(e).Error("panicked", "panic", v)
			e.Cancel()
			e.Close()
		}
	}()

	if !e.running.CheckOrMark() {
		L(e).Warn("tried to run agent, while already running")
		return
	}

	defer close(e.stopped)

	go e.notify.run()

	for {
		select {
		case <-e.ctx.Done():
			e.Close()
			return
		case m := <-e.inbox:
			e.Handle(m)
			e.publish()
		}
	}
}

func (e *Engine) Close() {
	e.timerMu.Lock()
	for t := range e.timers {
		t.Stop()
	}
	clear(e.timers)
	e.timerMu.Unlock()
}

// Stopped is closed once Run has returned, after which the engine no longer calls its components.
func (e *Engine) Stopped() <-chan struct{} {
	return e.stopped
}

// Snapshot returns the state as of the last handled message.
func (e *Engine) Snapshot() Snapshot {
	e.snapMu.RLock()
	defer e.snapMu.RUnlock()

	return e.snap
}

func (e *Engine) publish() {
	snap := Snapshot{
		State:      e.state,
		Remembered: e.remembered,
		Pending:    e.queue.list(),
	}

	e.snapMu.Lock()
	e.snap = snap
	e.snapMu.Unlock()
}

// post delivers msg to our own inbox from another goroutine.
func (e *Engine) post(msg msgactor.ActorMessage) {
	types.SendOrDone(e.ctx, e.inbox, msg)
}

// after posts msg to our own inbox once d has passed.
func (e *Engine) after(d time.Duration, msg msgactor.ActorMessage) {
	e.timerMu.Lock()
	defer e.timerMu.Unlock()

	var t *time.Timer
	t = time.AfterFunc(d, func() {
		e.timerMu.Lock()
		delete(e.timers, t)
		e.timerMu.Unlock()

		e.post(msg)
	})
	e.timers[t] = struct{}{}
}

func (e *Engine) Handle(msg msgactor.ActorMessage) {
	switch m := msg.(type) {
	// commands publish before replying, so callers see their effect
	case msgactor.StartSearch:
		err := e.onStartSearch()
		e.publish()
		m.Reply <- err
	case msgactor.UnPair:
		e.onUnPair()
		e.publish()
		close(m.Reply)
	case msgactor.Send:
		m.Reply <- e.onSend(m.Payload)

	case msgactor.PeerFound:
		e.onPeerFound(m.Peer)
	case msgactor.PeerLost:
		e.onPeerLost(m.Peer)

	case msgactor.InvitationReceived:
		e.onInvitationReceived(m.From, m.Handle)

	case msgactor.InviteResolved:
		e.onInviteResolved(m)
	case msgactor.StateChanged:
		e.onStateChanged(m.Peer, m.State)
	case msgactor.DataReceived:
		e.onDataReceived(m.Peer, m.Payload)

	case msgactor.CandidateDecision:
		e.onCandidateDecision(m.Peer, m.Accept)
	case msgactor.InvitationDecision:
		e.onInvitationDecision(m.Peer, m.Handle, m.Accept)
	case msgactor.InvitationExpired:
		e.onInvitationExpired(m.Handle)
	case msgactor.GraceExpired:
		e.onGraceExpired(m.Seq)

	default:
		e.logUnknownMessage(msg)
	}
}

func (e *Engine) logUnknownMessage(msg msgactor.ActorMessage) {
	L(e).Warn("got unknown message", "msg", fmt.Sprintf("%T", msg))
}

func (e *Engine) stale(msg string, args ...any) {
	L(e).Log(e.ctx, types.LevelTrace, "ignoring stale "+msg, append(args, "state", e.state.String())...)
}

func (e *Engine) setState(s State) {
	if s == e.state {
		return
	}
	L(e).Debug("state change", "from", e.state.String(), "to", s.String())
	e.state = s
}

// ======================================================================================================
// Discovery lifecycle

func (e *Engine) startDiscovery() error {
	if e.searching {
		return nil
	}

	if err := e.cfg.Advertiser.StartAdvertising(e.cfg.Self, e.cfg.ServiceTag); err != nil {
		return fmt.Errorf("could not start advertising: %w", err)
	}

	if err := e.cfg.Browser.StartBrowsing(e.cfg.ServiceTag); err != nil {
		e.cfg.Advertiser.StopAdvertising()
		return fmt.Errorf("could not start browsing: %w", err)
	}

	e.searching = true
	return nil
}

func (e *Engine) stopDiscovery() {
	if !e.searching {
		return
	}

	e.cfg.Advertiser.StopAdvertising()
	e.cfg.Browser.StopBrowsing()
	e.searching = false
}

// enterDiscovering is used when discovery (re)starts; in automatic mode it holds back other
// candidates for the reconnect grace when there is a remembered peer.
func (e *Engine) enterDiscovering() {
	e.setState(State{Kind: Discovering})

	e.holding = false
	if e.cfg.Automatic && e.remembered.Valid && e.cfg.ReconnectGrace > 0 {
		e.holding = true
		e.graceSeq++
		e.after(e.cfg.ReconnectGrace, msgactor.GraceExpired{Seq: e.graceSeq})
	}

	e.advance()
}

// backToDiscovering is used when a candidate or invitation did not work out.
func (e *Engine) backToDiscovering() {
	e.setState(State{Kind: Discovering})
	e.advance()
}

func (e *Engine) enterIdle() {
	e.stopDiscovery()
	e.queue.clear()
	e.holding = false
	e.setState(State{Kind: Idle})
}

func (e *Engine) enterConnected(p peer.ID) {
	e.setState(State{Kind: Connected, Peer: p})
	e.remembered = gonull.NewNullable(p)
	e.queue.clear()
	e.holding = false

	// paused until the session ends
	e.stopDiscovery()

	L(e).Info("paired", "peer", p)
}

// advance moves on to the next candidate, if discovering and one is available.
func (e *Engine) advance() {
	for e.state.Kind == Discovering {
		// the host picks in manual mode, so candidates surface in the order they were found
		var preferred peer.ID
		if e.cfg.Automatic && e.remembered.Valid {
			preferred = e.remembered.Val
		}

		c, ok := e.queue.pop(preferred, e.holding)
		if !ok {
			return
		}

		if !e.cfg.Automatic {
			e.setState(State{Kind: AwaitingLocalConfirmation, Peer: c})
			go func() {
				accept := e.cfg.Decider.CandidateFound(c)
				e.post(msgactor.CandidateDecision{Peer: c, Accept: accept})
			}()
			return
		}

		e.invite(c)
	}
}

// invite goes to Inviting(c), or stays Discovering if the invite could not go out.
func (e *Engine) invite(c peer.ID) {
	err := e.cfg.Transport.Invite(c, e.cfg.InviteTimeout)

	switch {
	case err == nil, errors.Is(err, ifaces.ErrInviteAlreadyPending):
		// an invite still pending will resolve as if it was this one
		L(e).Info("inviting", "peer", c)
		e.setState(State{Kind: Inviting, Peer: c})
	default:
		L(e).Warn("could not invite candidate", "peer", c, "err", err)
		e.setState(State{Kind: Discovering})
	}
}

// ======================================================================================================
// Commands

func (e *Engine) onStartSearch() error {
	if e.state.Kind != Idle {
		return nil
	}

	if err := e.startDiscovery(); err != nil {
		L(e).Error("could not start search", "err", err)
		return err
	}

	L(e).Info("searching", "tag", e.cfg.ServiceTag)
	e.enterDiscovering()

	return nil
}

func (e *Engine) onUnPair() {
	switch e.state.Kind {
	case Connected, Accepting:
		p := e.state.Peer
		wasConnected := e.state.Kind == Connected

		e.setState(State{Kind: Disconnecting, Peer: p})
		e.cfg.Transport.Disconnect(p)

		if wasConnected {
			e.notify.stateChanged(p, peer.Disconnected)
		}
	case Inviting:
		e.cfg.Transport.CancelInvite(e.state.Peer)
	case AwaitingLocalConfirmation:
		if e.state.Inbound {
			e.reject(e.state.Peer, e.state.Handle)
		}
	}

	e.remembered = gonull.Nullable[peer.ID]{}
	e.enterIdle()

	L(e).Info("unpaired")
}

func (e *Engine) onSend(payload []byte) error {
	if e.state.Kind != Connected {
		return ifaces.ErrNotConnected
	}

	return e.cfg.Transport.Send(e.state.Peer, payload)
}

// ======================================================================================================
// Discovery events

func (e *Engine) onPeerFound(rec peer.Record) {
	if rec.ID == e.cfg.Self {
		return
	}

	switch e.state.Kind {
	case Idle, Connected, Disconnecting:
		e.stale("peer found", "peer", rec.ID)
		return
	}

	// already being handled
	if e.state.Peer == rec.ID {
		return
	}

	if !e.queue.contains(rec.ID) {
		L(e).Debug("candidate found", "peer", rec.ID, "addr", rec.Addr)
	}
	e.queue.push(rec.ID)

	e.advance()
}

func (e *Engine) onPeerLost(p peer.ID) {
	e.queue.remove(p)

	if e.state.is(AwaitingLocalConfirmation, p) && !e.state.Inbound {
		L(e).Info("candidate lost while awaiting confirmation", "peer", p)
		e.backToDiscovering()
	}
}

func (e *Engine) onGraceExpired(seq uint64) {
	if seq != e.graceSeq || !e.holding {
		return
	}

	L(e).Debug("reconnect grace expired")
	e.holding = false
	e.advance()
}

// ======================================================================================================
// Invitations

func (e *Engine) accept(from peer.ID, h peer.Handle) {
	if err := e.cfg.Transport.AcceptInvitation(h); err != nil {
		L(e).Warn("could not accept invitation", "peer", from, "handle", h, "err", err)
		e.backToDiscovering()
		return
	}

	L(e).Info("accepted invitation", "peer", from)
	e.setState(State{Kind: Accepting, Peer: from})
}

func (e *Engine) reject(from peer.ID, h peer.Handle) {
	if err := e.cfg.Transport.RejectInvitation(h); err != nil {
		L(e).Debug("could not reject invitation", "peer", from, "handle", h, "err", err)
	}
}

// ask holds the invitation while the host decides on it, for at most the invite timeout.
func (e *Engine) ask(from peer.ID, h peer.Handle) {
	e.setState(State{Kind: AwaitingLocalConfirmation, Peer: from, Inbound: true, Handle: h})
	e.after(e.cfg.InviteTimeout, msgactor.InvitationExpired{Handle: h})

	go func() {
		accept := e.cfg.Decider.InvitationReceived(from)
		e.post(msgactor.InvitationDecision{Peer: from, Handle: h, Accept: accept})
	}()
}

func (e *Engine) onInvitationReceived(from peer.ID, h peer.Handle) {
	s := e.state

	switch {
	case s.Kind == Discovering:
		e.queue.remove(from)

		if e.cfg.Automatic {
			e.accept(from, h)
			return
		}

		e.ask(from, h)

	case s.is(Inviting, from):
		// both sides invited each other, the greater ID answers
		if e.cfg.Self.Less(from) {
			L(e).Debug("mutual invite, keeping ours", "peer", from)
			e.reject(from, h)
			return
		}

		L(e).Debug("mutual invite, taking theirs", "peer", from)
		e.cfg.Transport.CancelInvite(from)
		e.accept(from, h)

	case s.is(AwaitingLocalConfirmation, from) && !s.Inbound:
		// the pending answer about inviting this peer no longer applies
		e.ask(from, h)

	default:
		L(e).Info("rejecting invitation while busy", "peer", from, "state", s.String())
		e.reject(from, h)
	}
}

func (e *Engine) onCandidateDecision(p peer.ID, accept bool) {
	s := e.state

	if !s.is(AwaitingLocalConfirmation, p) || s.Inbound {
		e.stale("candidate decision", "peer", p)
		return
	}

	if !accept {
		L(e).Info("host declined candidate", "peer", p)
		e.backToDiscovering()
		return
	}

	e.invite(p)
	e.advance()
}

func (e *Engine) onInvitationDecision(p peer.ID, h peer.Handle, accept bool) {
	s := e.state

	if !s.is(AwaitingLocalConfirmation, p) || !s.Inbound || s.Handle != h {
		e.stale("invitation decision", "peer", p, "handle", h)
		return
	}

	if !accept {
		L(e).Info("host declined invitation", "peer", p)
		e.reject(p, h)
		e.backToDiscovering()
		return
	}

	e.accept(p, h)
}

func (e *Engine) onInvitationExpired(h peer.Handle) {
	s := e.state

	if s.Kind != AwaitingLocalConfirmation || !s.Inbound || s.Handle != h {
		return
	}

	L(e).Info("invitation expired before the host decided", "peer", s.Peer)
	e.reject(s.Peer, h)
	e.backToDiscovering()
}

// ======================================================================================================
// Transport events

func (e *Engine) onInviteResolved(m msgactor.InviteResolved) {
	if !e.state.is(Inviting, m.Peer) {
		e.stale("invite outcome", "peer", m.Peer, "outcome", m.Outcome)
		return
	}

	if m.Outcome == peer.Accepted {
		e.enterConnected(m.Peer)
		return
	}

	L(e).Info("invite did not succeed", "peer", m.Peer, "outcome", m.Outcome, "err", m.Err)
	e.backToDiscovering()
}

func (e *Engine) onStateChanged(p peer.ID, cs peer.ConnState) {
	s := e.state

	switch cs {
	case peer.Connecting:
		if s.is(Inviting, p) || s.is(Accepting, p) {
			e.notify.stateChanged(p, cs)
		}

	case peer.Connected:
		switch {
		case s.is(Accepting, p):
			e.enterConnected(p)
			e.notify.stateChanged(p, cs)
		case s.is(Connected, p):
			e.notify.stateChanged(p, cs)
		default:
			// a session nobody asked for, e.g. one that raced a cancelled invite
			L(e).Info("dropping unexpected session", "peer", p, "state", s.String())
			e.cfg.Transport.Disconnect(p)
		}

	case peer.Disconnected:
		switch {
		case s.is(Connected, p):
			L(e).Info("session lost, searching again", "peer", p)
			e.notify.stateChanged(p, cs)
			e.remembered = gonull.NewNullable(p)
			e.restartDiscovery()
		case s.is(Accepting, p):
			L(e).Info("accepted session did not come up", "peer", p)
			e.backToDiscovering()
		default:
			e.stale("disconnect", "peer", p)
		}
	}
}

func (e *Engine) restartDiscovery() {
	if err := e.startDiscovery(); err != nil {
		L(e).Error("could not restart search after disconnect", "err", err)
		e.enterIdle()
		return
	}

	e.enterDiscovering()
}

func (e *Engine) onDataReceived(p peer.ID, payload []byte) {
	if !e.state.is(Connected, p) {
		e.stale("data", "peer", p, "len", len(payload))
		return
	}

	e.notify.dataReceived(p, payload)
}
