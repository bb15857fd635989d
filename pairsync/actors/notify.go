package actors

import (
	"context"
	"log/slog"

	"github.com/edup2p/nearby/types/ifaces"
	"github.com/edup2p/nearby/types/peer"
)

// notifier calls the observer in order, on its own goroutine,
// so a slow host never stalls the engine loop.
type notifier struct {
	ctx context.Context
	obs ifaces.Observer
	ch  chan func()

	done chan struct{}
}

func newNotifier(ctx context.Context, obs ifaces.Observer) *notifier {
	return &notifier{
		ctx:  ctx,
		obs:  obs,
		ch:   make(chan func(), NotifyChLen),
		done: make(chan struct{}),
	}
}

func (n *notifier) run() {
	defer close(n.done)

	for {
		select {
		case <-n.ctx.Done():
			return
		case f := <-n.ch:
			n.call(f)
		}
	}
}

func (n *notifier) call(f func()) {
	defer func() {
		if v := recover(); v != nil {
			slog.Error("observer panicked", "panic", v)
		}
	}()

	f()
}

func (n *notifier) push(f func()) {
	select {
	case n.ch <- f:
	case <-n.ctx.Done():
	}
}

func (n *notifier) stateChanged(p peer.ID, s peer.ConnState) {
	n.push(func() { n.obs.ConnectionStateChanged(p, s) })
}

func (n *notifier) dataReceived(p peer.ID, payload []byte) {
	n.push(func() { n.obs.DataReceived(p, payload) })
}
