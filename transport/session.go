package transport

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edup2p/nearby/types/msgactor"
	"github.com/edup2p/nearby/types/msgpair"
	"github.com/edup2p/nearby/types/peer"
)

// session is a paired link, alive until either side says bye, the link fails,
// or nothing is heard for the idle timeout.
type session struct {
	t    *Transport
	link *link

	done      chan struct{}
	closeOnce sync.Once

	// set when replaced by a newer session with the same peer, which takes over reporting
	quiet atomic.Bool
}

func (t *Transport) startSession(l *link) {
	if s := t.registerSession(l); s != nil {
		s.start()
	}
}

// registerSession makes l the session with its remote, replacing any older one.
// Returns nil when the transport is closed.
func (t *Transport) registerSession(l *link) *session {
	s := &session{
		t:    t,
		link: l,
		done: make(chan struct{}),
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		l.conn.Close()
		return nil
	}
	old := t.sessions[l.remote]
	t.sessions[l.remote] = s
	t.wg.Add(2)
	t.mu.Unlock()

	if old != nil {
		slog.Debug("transport: replacing session", "peer", l.remote.Short())
		old.quiet.Store(true)
		old.close()
	}

	return s
}

func (s *session) start() {
	go s.readLoop()
	go s.keepalive()
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.link.conn.Close()
	})
}

func (s *session) closing() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *session) end() {
	s.close()

	t := s.t

	t.mu.Lock()
	if t.sessions[s.link.remote] == s {
		delete(t.sessions, s.link.remote)
	}
	t.mu.Unlock()

	if s.quiet.Load() {
		return
	}

	slog.Info("transport: session ended", "peer", s.link.remote.Short())
	t.post(msgactor.StateChanged{Peer: s.link.remote, State: peer.Disconnected})
}

func (s *session) readLoop() {
	t := s.t

	defer t.wg.Done()
	defer s.end()

	slog.Info("transport: session established", "peer", s.link.remote.Short(), "addr", s.link.conn.RemoteAddr())
	t.post(msgactor.StateChanged{Peer: s.link.remote, State: peer.Connected})

	for {
		msg, err := s.link.read(t.cfg.IdleTimeout)
		if err != nil {
			var netErr net.Error
			switch {
			case s.closing(), errors.Is(err, net.ErrClosed):
			case errors.Is(err, io.EOF):
				slog.Debug("transport: remote closed session", "peer", s.link.remote.Short())
			case errors.As(err, &netErr) && netErr.Timeout():
				slog.Warn("transport: session idle for too long", "peer", s.link.remote.Short())
			default:
				slog.Warn("transport: session read failed", "peer", s.link.remote.Short(), "err", err)
			}
			return
		}

		switch m := msg.(type) {
		case *msgpair.Data:
			t.post(msgactor.DataReceived{Peer: s.link.remote, Payload: m.Payload})
		case *msgpair.Ping:
			if err := s.link.write(&msgpair.Pong{TxID: m.TxID}, t.cfg.WriteTimeout); err != nil {
				slog.Debug("transport: could not pong", "peer", s.link.remote.Short(), "err", err)
				return
			}
		case *msgpair.Pong:
		case *msgpair.Bye:
			slog.Debug("transport: remote said bye", "peer", s.link.remote.Short())
			return
		default:
			slog.Debug("transport: ignoring unexpected message in session", "peer", s.link.remote.Short(), "msg", msg.Debug())
		}
	}
}

func (s *session) keepalive() {
	t := s.t

	defer t.wg.Done()

	ticker := time.NewTicker(t.cfg.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.link.write(&msgpair.Ping{TxID: msgpair.NewTxID()}, t.cfg.WriteTimeout); err != nil {
				if !s.closing() {
					slog.Debug("transport: keepalive failed", "peer", s.link.remote.Short(), "err", err)
				}
				s.close()
				return
			}
		}
	}
}
