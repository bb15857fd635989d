// Package pairsync pairs this process with exactly one other instance of the same service
// on the local network, and carries opaque payloads between the two.
//
// A Sync advertises itself over mDNS, browses for others using the same service tag, and
// negotiates a session with one of them; automatically, or by asking the host through a
// Decider. When a session is lost, the peer is remembered and preferred when searching again.
package pairsync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/LukaGiorgadze/gonull"
	"github.com/edup2p/nearby/discovery"
	"github.com/edup2p/nearby/pairsync/actors"
	"github.com/edup2p/nearby/transport"
	"github.com/edup2p/nearby/types/key"
	"github.com/edup2p/nearby/types/msgactor"
	"github.com/edup2p/nearby/types/peer"
)

type Sync struct {
	id peer.ID

	engine *actors.Engine
	adv    *discovery.Advertiser
	br     *discovery.Browser
	tr     *transport.Transport

	closeOnce sync.Once
}

// New wires up and starts a Sync. In automatic mode it starts searching right away,
// and returns the error if that fails.
func New(ctx context.Context, opts Options) (*Sync, error) {
	opts.SetDefaults()

	if err := discovery.ValidServiceTag(opts.ServiceTag); err != nil {
		return nil, fmt.Errorf("invalid service tag: %w", err)
	}

	id := peer.NewID()
	if opts.ID != "" {
		var err error
		if id, err = peer.ParseID(opts.ID); err != nil {
			return nil, fmt.Errorf("invalid id: %w", err)
		}
	}

	var remembered gonull.Nullable[peer.ID]
	if opts.Remembered != "" {
		r, err := peer.ParseID(opts.Remembered)
		if err != nil {
			return nil, fmt.Errorf("invalid remembered peer: %w", err)
		}
		remembered = gonull.NewNullable(r)
	}

	sess := key.NewSession()

	e := actors.NewEngine(ctx, actors.Config{
		Self:           id,
		ServiceTag:     opts.ServiceTag,
		Automatic:      opts.Automatic,
		InviteTimeout:  opts.InviteTimeout,
		ReconnectGrace: opts.ReconnectGrace,
		Remembered:     remembered,
		Decider:        opts.Decider,
		Observer:       opts.Observer,
	})

	br := discovery.NewBrowser(discovery.BrowserConfig{
		Open:          opts.MDNS,
		Self:          id,
		Sink:          e.Inbox(),
		QueryInterval: opts.QueryInterval,
		Liveness:      opts.PeerLiveness,
		InScope:       opts.InScope,
	})

	tr := transport.New(ctx, transport.Config{
		Self:              id,
		Session:           sess,
		Resolver:          br,
		Sink:              e.Inbox(),
		KeepaliveInterval: opts.KeepaliveInterval,
		IdleTimeout:       opts.IdleTimeout,
	})

	adv := discovery.NewAdvertiser(discovery.AdvertiserConfig{
		Open:             opts.MDNS,
		ListenAddr:       opts.ListenAddr,
		Session:          sess.Public(),
		Inbound:          tr,
		AnnounceInterval: opts.AnnounceInterval,
	})

	e.Attach(adv, br, tr)

	s := &Sync{
		id:     id,
		engine: e,
		adv:    adv,
		br:     br,
		tr:     tr,
	}

	go e.Run()

	slog.Info("pairsync: started", "id", id, "tag", opts.ServiceTag, "automatic", opts.Automatic)

	if opts.Automatic {
		if err := s.StartSearch(ctx); err != nil {
			s.Close()
			return nil, err
		}
	}

	return s, nil
}

// command hands msg to the engine.
func (s *Sync) command(ctx context.Context, msg msgactor.ActorMessage) error {
	select {
	case s.engine.Inbox() <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.engine.Ctx().Done():
		return ErrClosed
	}
}

func await[T any](ctx context.Context, s *Sync, reply <-chan T) (T, error) {
	var zero T

	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-s.engine.Stopped():
		return zero, ErrClosed
	}
}

// Identity returns the identity this process announces.
func (s *Sync) Identity() string {
	return string(s.id)
}

// StartSearch starts advertising and browsing, if not already doing so.
// Returns ErrTransportUnavailable when the network cannot be used.
func (s *Sync) StartSearch(ctx context.Context) error {
	reply := make(chan error, 1)

	if err := s.command(ctx, msgactor.StartSearch{Reply: reply}); err != nil {
		return err
	}

	err, cerr := await(ctx, s, reply)
	if cerr != nil {
		return cerr
	}
	return err
}

// ConnectedPeer returns the peer currently paired with, if any.
func (s *Sync) ConnectedPeer() (string, bool) {
	st := s.engine.Snapshot().State
	if st.Kind != actors.Connected {
		return "", false
	}
	return string(st.Peer), true
}

// RememberedPeer returns the last peer paired with, which survives disconnects until UnPair.
func (s *Sync) RememberedPeer() (string, bool) {
	r := s.engine.Snapshot().Remembered
	if !r.Valid {
		return "", false
	}
	return string(r.Val), true
}

func (s *Sync) State() actors.State {
	return s.engine.Snapshot().State
}

// Peers lists the peers currently visible on the network.
func (s *Sync) Peers() []peer.Record {
	return s.br.Peers()
}

// Send delivers payload to the paired peer, at most once.
// Returns ErrNotConnected when not paired.
func (s *Sync) Send(payload []byte) error {
	ctx := context.Background()
	reply := make(chan error, 1)

	if err := s.command(ctx, msgactor.Send{Payload: payload, Reply: reply}); err != nil {
		return err
	}

	err, cerr := await(ctx, s, reply)
	if cerr != nil {
		return cerr
	}
	return err
}

// UnPair ends any session, forgets the remembered peer, and stops searching.
func (s *Sync) UnPair() {
	ctx := context.Background()
	reply := make(chan struct{})

	if err := s.command(ctx, msgactor.UnPair{Reply: reply}); err != nil {
		return
	}

	_, _ = await(ctx, s, reply)
}

// Close stops everything. The Sync cannot be used afterwards.
func (s *Sync) Close() {
	s.closeOnce.Do(func() {
		s.engine.Cancel()
		<-s.engine.Stopped()

		s.tr.Close()
		s.adv.StopAdvertising()
		s.br.StopBrowsing()

		slog.Info("pairsync: closed", "id", s.id)
	})
}
