package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/edup2p/nearby/types"
	"github.com/edup2p/nearby/types/ifaces"
	"github.com/edup2p/nearby/types/msgactor"
	"github.com/edup2p/nearby/types/peer"
	"github.com/sethvargo/go-limiter"
	"github.com/sethvargo/go-limiter/memorystore"
)

const (
	DefaultQueryInterval = 10 * time.Second
	DefaultFoundRefresh  = 10 * time.Second
	DefaultPeerLiveness  = 3 * DefaultAnnounceInterval
)

type BrowserConfig struct {
	// Defaults to ListenMulticast.
	Open Opener

	// Announcements carrying this ID are our own, and are dropped.
	Self peer.ID

	// Receives PeerFound and PeerLost.
	Sink ifaces.Sink

	QueryInterval time.Duration

	// A peer not heard from for this long is lost.
	Liveness time.Duration

	// A peer that keeps announcing the same endpoint is re-reported at most this often.
	FoundRefresh time.Duration

	// Reports whether a source address is on a local segment. Defaults to LocalScope,
	// gathered when browsing starts.
	InScope func(netip.Addr) bool
}

func (c *BrowserConfig) SetDefaults() {
	if c.Open == nil {
		c.Open = ListenMulticast
	}
	if c.QueryInterval == 0 {
		c.QueryInterval = DefaultQueryInterval
	}
	if c.Liveness == 0 {
		c.Liveness = DefaultPeerLiveness
	}
	if c.FoundRefresh == 0 {
		c.FoundRefresh = DefaultFoundRefresh
	}
}

// Browser queries for a service tag and keeps a table of the peers announcing it,
// reporting changes to its sink.
type Browser struct {
	cfg BrowserConfig

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	conn    types.UDPConn
	rl      limiter.Store
	table   map[peer.ID]*peer.Record

	wg sync.WaitGroup
}

func NewBrowser(cfg BrowserConfig) *Browser {
	cfg.SetDefaults()

	return &Browser{
		cfg:   cfg,
		table: make(map[peer.ID]*peer.Record),
	}
}

func (b *Browser) StartBrowsing(serviceTag string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return nil
	}

	if err := ValidServiceTag(serviceTag); err != nil {
		return err
	}

	inScope := b.cfg.InScope
	if inScope == nil {
		set, err := LocalScope()
		if err != nil {
			slog.Warn("browser: could not determine local scope, accepting all sources", "err", err)
			inScope = func(netip.Addr) bool { return true }
		} else {
			inScope = inScopeFunc(set)
		}
	}

	query, err := buildQuery(serviceTag)
	if err != nil {
		return fmt.Errorf("could not build query: %w", err)
	}

	conn, err := b.cfg.Open()
	if err != nil {
		return fmt.Errorf("%w: mdns socket: %w", ifaces.ErrTransportUnavailable, err)
	}

	rl, err := memorystore.New(&memorystore.Config{
		Tokens:   1,
		Interval: b.cfg.FoundRefresh,

		SweepInterval: time.Minute,
		SweepMinTTL:   time.Minute,
	})
	if err != nil {
		conn.Close()
		return fmt.Errorf("could not create rate limiter: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	b.running = true
	b.cancel = cancel
	b.conn = conn
	b.rl = rl

	recv := makeSockRecv(ctx, conn)

	b.wg.Add(2)
	go func() {
		defer b.wg.Done()
		recv.run()
	}()
	go func() {
		defer b.wg.Done()
		b.loop(ctx, serviceTag, conn, recv, rl, query, inScope)
	}()

	slog.Info("browser: started", "self", b.cfg.Self, "tag", serviceTag)

	return nil
}

// StopBrowsing stops the browser and forgets every peer, without reporting them lost.
func (b *Browser) StopBrowsing() {
	b.mu.Lock()

	if !b.running {
		b.mu.Unlock()
		return
	}

	b.cancel()
	b.conn.Close()
	b.rl.Close(context.Background())
	b.running = false
	clear(b.table)

	b.mu.Unlock()

	b.wg.Wait()

	slog.Info("browser: stopped")
}

func (b *Browser) Lookup(id peer.ID) (peer.Record, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.table[id]
	if !ok {
		return peer.Record{}, false
	}
	return *r, true
}

// Peers returns a snapshot of every visible peer, ordered by ID.
func (b *Browser) Peers() []peer.Record {
	b.mu.Lock()
	defer b.mu.Unlock()

	peers := make([]peer.Record, 0, len(b.table))
	for _, id := range types.SortedKeys(b.table) {
		peers = append(peers, *b.table[id])
	}
	return peers
}

func (b *Browser) loop(ctx context.Context, tag string, conn types.UDPConn, recv *sockRecv, rl limiter.Store, query []byte, inScope func(netip.Addr) bool) {
	sendQuery := func() {
		if _, err := conn.WriteToUDPAddrPort(query, ip4MDNSBroadcastAP); err != nil {
			if !types.IsContextDone(ctx) {
				slog.Warn("browser: could not send query", "err", err)
			}
		}
	}

	sendQuery()

	queryTicker := time.NewTicker(b.cfg.QueryInterval)
	defer queryTicker.Stop()

	sweepTicker := time.NewTicker(max(b.cfg.Liveness/4, 10*time.Millisecond))
	defer sweepTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-queryTicker.C:
			sendQuery()
		case <-sweepTicker.C:
			for _, msg := range b.sweep(time.Now()) {
				if !types.SendOrDone[msgactor.ActorMessage](ctx, b.cfg.Sink, msg) {
					return
				}
			}
		case frame, ok := <-recv.outCh:
			if !ok {
				return
			}

			if !inScope(frame.src.Addr()) {
				slog.Log(ctx, types.LevelTrace, "browser: dropping out-of-scope packet", "src", frame.src)
				continue
			}

			anns, err := parseAnnouncements(tag, frame.pkt)
			if err != nil {
				slog.Debug("browser: dropping malformed packet", "src", frame.src, "err", err)
				continue
			}

			for _, ann := range anns {
				msg := b.observe(ctx, rl, frame.src, ann, time.Now())
				if msg == nil {
					continue
				}
				if !types.SendOrDone(ctx, b.cfg.Sink, msg) {
					return
				}
			}
		}
	}
}

// observe folds an announcement into the table, and returns the event to report, if any.
func (b *Browser) observe(ctx context.Context, rl limiter.Store, src netip.AddrPort, ann announcement, now time.Time) msgactor.ActorMessage {
	if ann.ID == b.cfg.Self {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return nil
	}

	rec, known := b.table[ann.ID]

	if ann.isGoodbye() {
		if !known {
			return nil
		}
		delete(b.table, ann.ID)
		slog.Debug("browser: peer said goodbye", "peer", ann.ID.Short())
		return msgactor.PeerLost{Peer: ann.ID}
	}

	addr := netip.AddrPortFrom(types.NormaliseAddr(src.Addr()), ann.Port)

	if !known || rec.Addr != addr || rec.Session != ann.Session {
		rec = &peer.Record{
			ID:           ann.ID,
			Addr:         addr,
			Session:      ann.Session,
			DiscoveredAt: now,
		}
		b.table[ann.ID] = rec

		slog.Debug("browser: peer found", "peer", ann.ID.Short(), "addr", addr)
	}

	rec.LastSeen = now

	// a fresh record gets a fresh key, so it is always reported
	rlKey := strings.Join([]string{string(rec.ID), rec.Addr.String(), rec.Session.HexString(), rec.DiscoveredAt.String()}, "|")
	if _, _, _, ok, _ := rl.Take(ctx, rlKey); !ok {
		return nil
	}

	return msgactor.PeerFound{Peer: *rec}
}

// sweep removes peers not heard from within the liveness window.
func (b *Browser) sweep(now time.Time) []msgactor.ActorMessage {
	b.mu.Lock()
	defer b.mu.Unlock()

	var lost []peer.ID
	for id, rec := range b.table {
		if now.Sub(rec.LastSeen) > b.cfg.Liveness {
			lost = append(lost, id)
		}
	}
	slices.Sort(lost)

	msgs := make([]msgactor.ActorMessage, 0, len(lost))
	for _, id := range lost {
		delete(b.table, id)
		slog.Debug("browser: peer expired", "peer", id.Short())
		msgs = append(msgs, msgactor.PeerLost{Peer: id})
	}
	return msgs
}
