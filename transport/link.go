package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/edup2p/nearby/types"
	"github.com/edup2p/nearby/types/ifaces"
	"github.com/edup2p/nearby/types/key"
	"github.com/edup2p/nearby/types/msgpair"
	"github.com/edup2p/nearby/types/peer"
)

var (
	errKeyMismatch  = errors.New("session key does not match the announced one")
	errWrongPeer    = errors.New("remote introduced itself as another peer")
	errSelfConnect  = errors.New("remote introduced itself as us")
	errCannotDecode = errors.New("could not open sealed frame")
	errInviterGone  = errors.New("inviter is no longer waiting for an answer")
)

// link is an authenticated connection to a single remote, past the Hello exchange.
type link struct {
	conn   net.Conn
	remote peer.ID
	shared key.SessionShared

	wmu sync.Mutex
}

// handshake exchanges Hellos over conn. When expect is set, the remote must introduce itself as it.
//
// If the resolver knows the remote's announced session key, the Hello must carry that key.
func handshake(conn net.Conn, self peer.ID, priv key.SessionPrivate, resolver ifaces.Resolver, expect peer.ID) (*link, error) {
	ours := &msgpair.Hello{ID: self, Session: priv.Public()}

	// written concurrently, synchronous pipes would otherwise deadlock
	werr := make(chan error, 1)
	go func() {
		werr <- msgpair.WriteFrame(conn, ours.Marshal())
	}()

	body, err := msgpair.ReadFrame(conn)
	if err != nil {
		return nil, fmt.Errorf("could not read hello: %w", err)
	}

	if err := <-werr; err != nil {
		return nil, fmt.Errorf("could not write hello: %w", err)
	}

	theirs, err := msgpair.ParseHello(body)
	if err != nil {
		return nil, err
	}

	slog.Log(context.Background(), types.LevelTrace, "transport: got hello", "hello", theirs.Debug(), "from", conn.RemoteAddr())

	if theirs.ID == self {
		return nil, errSelfConnect
	}

	if !expect.IsZero() && theirs.ID != expect {
		return nil, fmt.Errorf("%w: expected %s, got %s", errWrongPeer, expect, theirs.ID)
	}

	if resolver != nil {
		if rec, ok := resolver.Lookup(theirs.ID); ok && !rec.Session.IsZero() && rec.Session != theirs.Session {
			return nil, fmt.Errorf("%w: peer %s", errKeyMismatch, theirs.ID)
		}
	}

	return &link{
		conn:   conn,
		remote: theirs.ID,
		shared: priv.Shared(theirs.Session),
	}, nil
}

func (l *link) write(msg msgpair.PairMessage, timeout time.Duration) error {
	sealed := l.shared.Seal(msg.MarshalPairMessage())

	l.wmu.Lock()
	defer l.wmu.Unlock()

	if timeout > 0 {
		if err := l.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
	}

	slog.Log(context.Background(), types.LevelTrace, "transport: send", "peer", l.remote.Short(), "msg", msg.Debug())

	return msgpair.WriteFrame(l.conn, sealed)
}

// read returns the next message. A zero timeout reads without a deadline.
func (l *link) read(timeout time.Duration) (msgpair.PairMessage, error) {
	if timeout > 0 {
		if err := l.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, err
		}
	} else {
		if err := l.conn.SetReadDeadline(time.Time{}); err != nil {
			return nil, err
		}
	}

	body, err := msgpair.ReadFrame(l.conn)
	if err != nil {
		return nil, err
	}

	cleartext, ok := l.shared.Open(body)
	if !ok {
		return nil, errCannotDecode
	}

	msg, err := msgpair.ParsePairMessage(cleartext)
	if err != nil {
		return nil, err
	}

	slog.Log(context.Background(), types.LevelTrace, "transport: recv", "peer", l.remote.Short(), "msg", msg.Debug())

	return msg, nil
}
