package discovery

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
	"github.com/edup2p/nearby/types/peer"
	"github.com/sethvargo/go-limiter"
	"github.com/sethvargo/go-limiter/memorystore"
)

const (
	DefaultAnnounceInterval = 5 * time.Second

	// minimum spacing between answers to queries
	queryAnswerInterval = time.Second
)

type AdvertiserConfig struct {
	// Defaults to ListenMulticast.
	Open Opener

	// Address of the invitation listener, defaults to ":0".
	ListenAddr string

	// Defaults to net.Listen("tcp", ...).
	Listen func(addr string) (net.Listener, error)

	// Announced so browsers can pin it.
	Session key.SessionPublic

	// Takes over every accepted invitation connection.
	Inbound ifaces.InboundHandler

	AnnounceInterval time.Duration
}

func (c *AdvertiserConfig) SetDefaults() {
	if c.Open == nil {
		c.Open = ListenMulticast
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":0"
	}
	if c.Listen == nil {
		c.Listen = func(addr string) (net.Listener, error) {
			return net.Listen("tcp", addr)
		}
	}
	if c.AnnounceInterval == 0 {
		c.AnnounceInterval = DefaultAnnounceInterval
	}
}

// Advertiser periodically announces (id, tag) over mDNS, answers queries for the tag,
// and accepts invitation connections on a TCP listener whose port it announces.
type Advertiser struct {
	cfg AdvertiserConfig

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	conn    types.UDPConn
	ln      net.Listener
	rl      limiter.Store
	goodbye []byte

	annDone chan struct{}
	wg      sync.WaitGroup
}

func NewAdvertiser(cfg AdvertiserConfig) *Advertiser {
	cfg.SetDefaults()

	return &Advertiser{cfg: cfg}
}

func (a *Advertiser) StartAdvertising(id peer.ID, serviceTag string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return nil
	}

	if err := ValidServiceTag(serviceTag); err != nil {
		return err
	}

	ln, err := a.cfg.Listen(a.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("%w: invitation listener: %w", ifaces.ErrTransportUnavailable, err)
	}

	tcpAddr, ok := ln.Addr().(*net.TCPAddr)
	if !ok {
		ln.Close()
		return fmt.Errorf("%w: listener is not tcp: %s", ifaces.ErrTransportUnavailable, ln.Addr())
	}

	conn, err := a.cfg.Open()
	if err != nil {
		ln.Close()
		return fmt.Errorf("%w: mdns socket: %w", ifaces.ErrTransportUnavailable, err)
	}

	ann := announcement{ID: id, Port: uint16(tcpAddr.Port), Session: a.cfg.Session, TTL: announceTTL}

	hello, err := buildAnnouncement(serviceTag, ann)
	if err != nil {
		ln.Close()
		conn.Close()
		return fmt.Errorf("could not build announcement: %w", err)
	}

	ann.TTL = 0
	bye, err := buildAnnouncement(serviceTag, ann)
	if err != nil {
		ln.Close()
		conn.Close()
		return fmt.Errorf("could not build goodbye: %w", err)
	}

	rl, err := memorystore.New(&memorystore.Config{
		Tokens:   1,
		Interval: queryAnswerInterval,

		SweepInterval: time.Minute,
		SweepMinTTL:   time.Minute,
	})
	if err != nil {
		ln.Close()
		conn.Close()
		return fmt.Errorf("could not create rate limiter: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	a.running = true
	a.cancel = cancel
	a.conn = conn
	a.ln = ln
	a.rl = rl
	a.goodbye = bye

	recv := makeSockRecv(ctx, conn)
	annDone := make(chan struct{})
	a.annDone = annDone

	a.wg.Add(3)
	go func() {
		defer a.wg.Done()
		recv.run()
	}()
	go func() {
		defer a.wg.Done()
		a.acceptLoop(ctx, ln)
	}()
	go func() {
		defer a.wg.Done()
		defer close(annDone)
		a.announceLoop(ctx, serviceTag, conn, recv, rl, hello)
	}()

	slog.Info("advertiser: started", "id", id, "tag", serviceTag, "port", tcpAddr.Port)

	return nil
}

func (a *Advertiser) StopAdvertising() {
	a.mu.Lock()

	if !a.running {
		a.mu.Unlock()
		return
	}

	a.cancel()
	a.ln.Close()
	a.running = false

	conn, rl, bye, annDone := a.conn, a.rl, a.goodbye, a.annDone

	a.mu.Unlock()

	// the goodbye must be the last thing sent
	<-annDone

	if _, err := conn.WriteToUDPAddrPort(bye, ip4MDNSBroadcastAP); err != nil {
		slog.Debug("advertiser: could not send goodbye", "err", err)
	}

	conn.Close()
	rl.Close(context.Background())

	a.wg.Wait()

	slog.Info("advertiser: stopped")
}

// Port returns the port of the invitation listener, or 0 when not advertising.
func (a *Advertiser) Port() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return 0
	}

	if tcpAddr, ok := a.ln.Addr().(*net.TCPAddr); ok {
		return tcpAddr.Port
	}
	return 0
}

func (a *Advertiser) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !types.IsContextDone(ctx) && !errors.Is(err, net.ErrClosed) {
				slog.Error("advertiser: accept failed", "err", err)
			}
			return
		}

		slog.Debug("advertiser: inbound connection", "from", conn.RemoteAddr())

		if a.cfg.Inbound == nil {
			conn.Close()
			continue
		}

		a.cfg.Inbound.ServeInbound(conn)
	}
}

func (a *Advertiser) announceLoop(ctx context.Context, tag string, conn types.UDPConn, recv *sockRecv, rl limiter.Store, ann []byte) {
	send := func(reason string) {
		if _, err := conn.WriteToUDPAddrPort(ann, ip4MDNSBroadcastAP); err != nil {
			if !types.IsContextDone(ctx) {
				slog.Warn("advertiser: could not send announcement", "err", err)
			}
			return
		}
		slog.Log(context.Background(), types.LevelTrace, "advertiser: announced", "reason", reason, "len", len(ann))
	}

	send("start")

	ticker := time.NewTicker(a.cfg.AnnounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			send("interval")
		case frame, ok := <-recv.outCh:
			if !ok {
				return
			}

			if !isQueryFor(tag, frame.pkt) {
				continue
			}

			// some rudimentary filtering to prevent query storms
			if _, _, _, ok, _ := rl.Take(ctx, "query"); !ok {
				continue
			}

			send("query from " + frame.src.String())
		}
	}
}
