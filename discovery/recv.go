package discovery

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/netip"
	"slices"
	"time"

	"github.com/edup2p/nearby/types"
)

const (
	sockRecvReadTimeout     = 5 * time.Second
	sockRecvFrameChanBuffer = 64
)

type recvFrame struct {
	pkt []byte

	src netip.AddrPort
}

// sockRecv reads packets off a socket and hands them out on outCh,
// until its context is cancelled or the socket fails.
type sockRecv struct {
	ctx  context.Context
	conn types.UDPConn

	outCh chan recvFrame
}

func makeSockRecv(ctx context.Context, conn types.UDPConn) *sockRecv {
	return &sockRecv{
		ctx:   ctx,
		conn:  conn,
		outCh: make(chan recvFrame, sockRecvFrameChanBuffer),
	}
}

func (r *sockRecv) run() {
	defer close(r.outCh)

	var buf = make([]byte, 1<<16)

	for {
		if types.IsContextDone(r.ctx) {
			return
		}

		if err := r.conn.SetReadDeadline(time.Now().Add(sockRecvReadTimeout)); err != nil {
			if !types.IsContextDone(r.ctx) {
				slog.Error("mdns: error when setting read deadline", "err", err)
			}
			return
		}

		n, ap, err := r.conn.ReadFromUDPAddrPort(buf)

		var e net.Error
		if err != nil {
			if errors.As(err, &e) && e.Timeout() {
				continue
			}

			// A closed socket is the normal way out after cancellation.
			if !types.IsContextDone(r.ctx) {
				slog.Error("mdns: socket read failed", "err", err)
			}
			return
		}

		if n == 0 {
			continue
		}

		select {
		case <-r.ctx.Done():
			return
		case r.outCh <- recvFrame{
			pkt: slices.Clone(buf[:n]),
			src: types.NormaliseAddrPort(ap),
		}:
		}
	}
}
