package actors

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/edup2p/nearby/types/ifaces"
	"github.com/edup2p/nearby/types/msgactor"
)

type ActorCommon struct {
	inbox   chan msgactor.ActorMessage
	ctx     context.Context
	ctxCan  context.CancelFunc
	running RunCheck
}

func MakeCommon(pCtx context.Context, chLen int) *ActorCommon {
	ctx, ctxCan := context.WithCancel(pCtx)

	var inbox chan msgactor.ActorMessage = nil

	if chLen >= 0 {
		inbox = make(chan msgactor.ActorMessage, chLen)
	}

	return &ActorCommon{
		inbox:   inbox,
		ctx:     ctx,
		ctxCan:  ctxCan,
		running: MakeRunCheck(),
	}
}

func (ac *ActorCommon) Inbox() chan<- msgactor.ActorMessage {
	return ac.inbox
}

func (ac *ActorCommon) Ctx() context.Context {
	return ac.ctx
}

func (ac *ActorCommon) Cancel() {
	ac.ctxCan()
}

// RunCheck ensures that only one instance of the actor is running at all times.
type RunCheck struct {
	*atomic.Bool
}

func MakeRunCheck() RunCheck {
	return RunCheck{
		&atomic.Bool{},
	}
}

// CheckOrMark atomically checks if its already running, else marks as running, returns a false value if the instance is already running.
func (rc *RunCheck) CheckOrMark() bool {
	return rc.CompareAndSwap(false, true)
}

func L(a ifaces.Actor) *slog.Logger {
	return slog.With("actor", fmt.Sprintf("%T", a))
}
