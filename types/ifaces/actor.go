package ifaces

import (
	"context"

	"github.com/edup2p/nearby/types/msgactor"
)

type Actor interface {
	Run()

	Inbox() chan<- msgactor.ActorMessage

	Ctx() context.Context

	// Cancel this actor's context.
	Cancel()

	// Close is called by the actor's Run loop when cancelled.
	Close()
}

// Sink is where components post their events; the engine's inbox.
type Sink = chan<- msgactor.ActorMessage
