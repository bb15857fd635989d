// Package transport negotiates pairing sessions over TCP and carries payloads once paired.
//
// Every connection opens with a Hello exchange, after which each frame is sealed with the
// session keys of both ends. The side that dials sends an Invite; the other side holds the
// connection under a handle until the engine accepts or rejects it.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edup2p/nearby/types"
	"github.com/edup2p/nearby/types/ifaces"
	"github.com/edup2p/nearby/types/key"
	"github.com/edup2p/nearby/types/msgactor"
	"github.com/edup2p/nearby/types/msgpair"
	"github.com/edup2p/nearby/types/peer"
)

const (
	DefaultHandshakeTimeout  = 5 * time.Second
	DefaultKeepaliveInterval = 5 * time.Second
	DefaultIdleTimeout       = 3 * DefaultKeepaliveInterval
	DefaultWriteTimeout      = 5 * time.Second
)

type Config struct {
	Self peer.ID

	Session key.SessionPrivate

	// Resolves invite targets to endpoints, and pins their session keys.
	Resolver ifaces.Resolver

	// Receives InviteResolved, InvitationReceived, StateChanged and DataReceived.
	Sink ifaces.Sink

	// Defaults to a net.Dialer over tcp.
	Dial func(ctx context.Context, addr netip.AddrPort) (net.Conn, error)

	// Bounds the Hello and Invite exchange of inbound connections.
	HandshakeTimeout time.Duration

	KeepaliveInterval time.Duration

	// A session with no inbound frame for this long is torn down.
	IdleTimeout time.Duration

	WriteTimeout time.Duration
}

func (c *Config) SetDefaults() {
	if c.Dial == nil {
		c.Dial = func(ctx context.Context, addr netip.AddrPort) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", addr.String())
		}
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.KeepaliveInterval == 0 {
		c.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
}

var (
	_ ifaces.Transport      = (*Transport)(nil)
	_ ifaces.InboundHandler = (*Transport)(nil)
)

type outbound struct {
	target peer.ID
	cancel context.CancelFunc
}

// invitation is an inbound Invite held until the engine answers it.
//
// Nothing is expected from the inviter meanwhile, so a watcher reads the connection to notice
// it giving up; release stops the watcher before an answer is written.
type invitation struct {
	from peer.ID
	link *link

	releasing atomic.Bool
	watched   chan struct{}
	watchErr  error
}

// watch blocks until the inviter hangs up, sends something, or release interrupts it.
func (t *Transport) watch(h peer.Handle, inv *invitation) {
	defer t.wg.Done()
	defer close(inv.watched)

	_, err := msgpair.ReadFrame(inv.link.conn)
	inv.watchErr = err

	if inv.releasing.Load() && errors.Is(err, os.ErrDeadlineExceeded) {
		return
	}

	t.mu.Lock()
	if t.inbound[h] == inv {
		delete(t.inbound, h)
	}
	t.mu.Unlock()

	inv.link.conn.Close()

	if err == nil {
		slog.Warn("transport: inviter sent a frame before being answered", "peer", inv.from.Short(), "handle", h)
	} else {
		slog.Info("transport: inviter went away before being answered", "peer", inv.from.Short(), "handle", h, "err", err)
	}
}

// release stops the watcher, and fails if the inviter is gone.
func (inv *invitation) release() error {
	inv.releasing.Store(true)
	_ = inv.link.conn.SetReadDeadline(time.Now())

	<-inv.watched

	if !errors.Is(inv.watchErr, os.ErrDeadlineExceeded) {
		return errInviterGone
	}

	return inv.link.conn.SetReadDeadline(time.Time{})
}

// Transport implements ifaces.Transport and ifaces.InboundHandler.
//
// Its methods never block on the sink; every event is posted from a goroutine owned by
// the transport, so the engine may call it from its own loop.
type Transport struct {
	cfg Config

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	pending    map[peer.ID]*outbound
	inbound    map[peer.Handle]*invitation
	nextHandle peer.Handle
	sessions   map[peer.ID]*session
	closed     bool

	wg sync.WaitGroup
}

func New(ctx context.Context, cfg Config) *Transport {
	cfg.SetDefaults()

	tctx, cancel := context.WithCancel(ctx)

	return &Transport{
		cfg:        cfg,
		ctx:        tctx,
		cancel:     cancel,
		pending:    make(map[peer.ID]*outbound),
		inbound:    make(map[peer.Handle]*invitation),
		nextHandle: 1,
		sessions:   make(map[peer.ID]*session),
	}
}

func (t *Transport) post(msg msgactor.ActorMessage) {
	if !types.SendOrDone(t.ctx, t.cfg.Sink, msg) {
		slog.Debug("transport: dropped event after close", "msg", fmt.Sprintf("%T", msg))
	}
}

func (t *Transport) Invite(target peer.ID, timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ifaces.ErrClosed
	}

	if _, ok := t.pending[target]; ok {
		return ifaces.ErrInviteAlreadyPending
	}

	rec, ok := t.cfg.Resolver.Lookup(target)
	if !ok {
		return fmt.Errorf("%w: %s", ifaces.ErrUnknownPeer, target)
	}

	ctx, cancel := context.WithTimeout(t.ctx, timeout)
	o := &outbound{target: target, cancel: cancel}
	t.pending[target] = o

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer cancel()
		t.runInvite(ctx, o, rec)
	}()

	return nil
}

func (t *Transport) CancelInvite(target peer.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if o, ok := t.pending[target]; ok {
		delete(t.pending, target)
		o.cancel()
		slog.Debug("transport: invite cancelled", "peer", target.Short())
	}
}

// claim removes o from the pending set, returning false if it was cancelled in the meantime.
func (t *Transport) claim(o *outbound) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pending[o.target] != o {
		return false
	}
	delete(t.pending, o.target)
	return true
}

func (t *Transport) runInvite(ctx context.Context, o *outbound, rec peer.Record) {
	t.post(msgactor.StateChanged{Peer: rec.ID, State: peer.Connecting})

	l, reply, err := t.invite(ctx, rec)

	if !t.claim(o) {
		if l != nil {
			l.conn.Close()
		}
		return
	}

	var outcome peer.Outcome

	switch {
	case err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded):
		outcome = peer.TimedOut
	case err != nil:
		outcome = peer.Rejected
	case reply == msgpair.AcceptMessage:
		outcome = peer.Accepted
	default:
		outcome = peer.Rejected
	}

	slog.Info("transport: invite resolved", "peer", rec.ID.Short(), "outcome", outcome, "err", err)

	if outcome != peer.Accepted {
		if l != nil {
			l.conn.Close()
		}
		t.post(msgactor.InviteResolved{Peer: rec.ID, Outcome: outcome, Err: err})
		return
	}

	// registered first, so Send works as soon as the engine learns of the outcome
	s := t.registerSession(l)
	if s == nil {
		return
	}

	t.post(msgactor.InviteResolved{Peer: rec.ID, Outcome: peer.Accepted})
	s.start()
}

// invite dials rec, introduces itself, and waits for the answer to its Invite.
// On error, the returned link (if any) is closed already.
func (t *Transport) invite(ctx context.Context, rec peer.Record) (*link, msgpair.MessageType, error) {
	conn, err := t.cfg.Dial(ctx, rec.Addr)
	if err != nil {
		return nil, 0, fmt.Errorf("dial %s: %w", rec.Addr, err)
	}

	// cancellation and timeout abort whatever is blocking on conn, so ctx.Err() is set
	// whenever they are the cause of a failure
	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()

	l, err := handshake(conn, t.cfg.Self, t.cfg.Session, t.cfg.Resolver, rec.ID)
	if err != nil {
		conn.Close()
		return nil, 0, fmt.Errorf("handshake with %s: %w", rec.ID, err)
	}

	if err := l.write(&msgpair.Invite{}, 0); err != nil {
		conn.Close()
		return nil, 0, fmt.Errorf("send invite: %w", err)
	}

	msg, err := l.read(0)
	if err != nil {
		conn.Close()
		return nil, 0, fmt.Errorf("await answer: %w", err)
	}

	if !stop() {
		// lost the race against the timeout, conn is already closed
		return nil, 0, ctx.Err()
	}

	switch msg.(type) {
	case *msgpair.Accept:
		return l, msgpair.AcceptMessage, nil
	case *msgpair.Reject:
		return l, msgpair.RejectMessage, nil
	default:
		conn.Close()
		return nil, 0, fmt.Errorf("unexpected answer to invite: %s", msg.Debug())
	}
}

// ServeInbound takes over a connection accepted by the advertiser.
func (t *Transport) ServeInbound(conn net.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		conn.Close()
		return
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.serveInbound(conn)
	}()
}

func (t *Transport) serveInbound(conn net.Conn) {
	_ = conn.SetDeadline(time.Now().Add(t.cfg.HandshakeTimeout))

	l, err := handshake(conn, t.cfg.Self, t.cfg.Session, t.cfg.Resolver, "")
	if err != nil {
		slog.Warn("transport: inbound handshake failed", "from", conn.RemoteAddr(), "err", err)
		conn.Close()
		return
	}

	msg, err := l.read(t.cfg.HandshakeTimeout)
	if err != nil {
		slog.Warn("transport: inbound connection did not invite", "peer", l.remote.Short(), "err", err)
		conn.Close()
		return
	}

	if _, ok := msg.(*msgpair.Invite); !ok {
		slog.Warn("transport: expected invite", "peer", l.remote.Short(), "got", msg.Debug())
		conn.Close()
		return
	}

	_ = conn.SetDeadline(time.Time{})

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		conn.Close()
		return
	}
	h := t.nextHandle
	t.nextHandle++
	inv := &invitation{from: l.remote, link: l, watched: make(chan struct{})}
	t.inbound[h] = inv
	t.wg.Add(1)
	t.mu.Unlock()

	go t.watch(h, inv)

	slog.Info("transport: invitation received", "peer", l.remote.Short(), "handle", h)

	t.post(msgactor.InvitationReceived{From: l.remote, Handle: h})
}

// take removes the invitation behind h, so it can only be resolved once.
func (t *Transport) take(h peer.Handle) (*invitation, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	inv, ok := t.inbound[h]
	if ok {
		delete(t.inbound, h)
		return inv, nil
	}

	// handles are handed out in order, so a lower one has been seen before
	if h != 0 && h < t.nextHandle {
		return nil, ifaces.ErrHandleAlreadyResolved
	}
	return nil, ifaces.ErrUnknownHandle
}

func (t *Transport) AcceptInvitation(h peer.Handle) error {
	inv, err := t.take(h)
	if err != nil {
		return err
	}

	if err := inv.release(); err != nil {
		inv.link.conn.Close()
		return fmt.Errorf("could not accept invitation from %s: %w", inv.from, err)
	}

	if err := inv.link.write(&msgpair.Accept{}, t.cfg.WriteTimeout); err != nil {
		inv.link.conn.Close()
		return fmt.Errorf("could not accept invitation from %s: %w", inv.from, err)
	}

	slog.Info("transport: invitation accepted", "peer", inv.from.Short(), "handle", h)

	t.startSession(inv.link)

	return nil
}

func (t *Transport) RejectInvitation(h peer.Handle) error {
	inv, err := t.take(h)
	if err != nil {
		return err
	}

	defer inv.link.conn.Close()

	if err := inv.release(); err != nil {
		slog.Debug("transport: inviter already gone", "peer", inv.from.Short(), "err", err)
		return nil
	}

	slog.Info("transport: invitation rejected", "peer", inv.from.Short(), "handle", h)

	if err := inv.link.write(&msgpair.Reject{}, t.cfg.WriteTimeout); err != nil {
		slog.Debug("transport: could not deliver reject", "peer", inv.from.Short(), "err", err)
	}

	return nil
}

func (t *Transport) Send(to peer.ID, payload []byte) error {
	if len(payload) > msgpair.MaxPayload {
		return fmt.Errorf("payload of %d bytes exceeds %d: %w", len(payload), msgpair.MaxPayload, msgpair.ErrFrameTooLarge)
	}

	t.mu.Lock()
	s, ok := t.sessions[to]
	t.mu.Unlock()

	if !ok {
		return ifaces.ErrNotConnected
	}

	if err := s.link.write(&msgpair.Data{Payload: payload}, t.cfg.WriteTimeout); err != nil {
		s.close()
		return fmt.Errorf("send to %s: %w", to, err)
	}

	return nil
}

func (t *Transport) Disconnect(p peer.ID) {
	t.mu.Lock()
	s, ok := t.sessions[p]
	t.mu.Unlock()

	if !ok {
		return
	}

	if err := s.link.write(&msgpair.Bye{}, t.cfg.WriteTimeout); err != nil {
		slog.Debug("transport: could not say bye", "peer", p.Short(), "err", err)
	}

	s.close()
}

// Connected reports whether a session with p is live.
func (t *Transport) Connected(p peer.ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.sessions[p]
	return ok
}

// Close tears down every session, invite and held invitation. No events are posted after it returns.
func (t *Transport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.cancel()

	for _, inv := range t.inbound {
		inv.link.conn.Close()
	}
	clear(t.inbound)

	sessions := make([]*session, 0, len(t.sessions))
	for _, s := range t.sessions {
		sessions = append(sessions, s)
	}
	t.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}

	t.wg.Wait()
}
